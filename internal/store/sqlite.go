// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user, session, turn and video job persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			user_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, seq),
			FOREIGN KEY (user_id) REFERENCES sessions(user_id)
		);

		CREATE TABLE IF NOT EXISTS job_refs (
			user_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, job_id),
			FOREIGN KEY (user_id) REFERENCES sessions(user_id)
		);

		CREATE TABLE IF NOT EXISTS video_jobs (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			owner_user_id TEXT NOT NULL,
			spec_json TEXT NOT NULL,
			state TEXT NOT NULL,
			poll_count INTEGER NOT NULL DEFAULT 0,
			result_ref TEXT,
			error_info TEXT,
			origin_surface TEXT NOT NULL DEFAULT '',
			origin_channel TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_video_jobs_owner ON video_jobs(owner_user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_video_jobs_state ON video_jobs(state);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertUser creates a user or refreshes its display name.
// An empty display name never overwrites a stored one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	now := formatTime(user.UpdatedAt)
	created := formatTime(user.CreatedAt)

	query := `
		INSERT INTO users (id, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name = '' THEN users.display_name ELSE excluded.display_name END,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.DisplayName, created, now); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, display_name, created_at, updated_at FROM users WHERE id = ?`

	var u User
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.DisplayName, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// EnsureSession creates the session header if missing and returns the stored one
func (s *SQLiteStore) EnsureSession(ctx context.Context, userID string, at time.Time) (*SessionRecord, error) {
	ts := formatTime(at)
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		userID, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	var rec SessionRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, updated_at FROM sessions WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// AppendTurn persists a turn with the next sequence number for the user.
// turn.Seq is set on success.
func (s *SQLiteStore) AppendTurn(ctx context.Context, userID string, turn *Turn) error {
	return s.AppendTurns(ctx, userID, []*Turn{turn}, nil)
}

// AppendTurns persists turns in order, plus ref when non-nil, in a single
// transaction. Seq is set on every turn only after the commit succeeds.
func (s *SQLiteStore) AppendTurns(ctx context.Context, userID string, turns []*Turn, ref *JobRef) error {
	if len(turns) == 0 && ref == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE user_id = ?`, userID,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading turn sequence: %w", err)
	}

	var last string
	for i, turn := range turns {
		last = formatTime(turn.CreatedAt)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (user_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			userID, next+int64(i), turn.Role, turn.Text, last,
		); err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
	}

	if ref != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO job_refs (user_id, job_id, created_at) VALUES (?, ?, ?)`,
			userID, ref.JobID, formatTime(ref.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting job ref: %w", err)
		}
	}

	if last != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ? WHERE user_id = ?`, last, userID,
		); err != nil {
			return fmt.Errorf("touching session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turns: %w", err)
	}

	for i, turn := range turns {
		turn.Seq = next + int64(i)
	}
	return nil
}

// ListTurns returns the most recent limit turns in chronological order
func (s *SQLiteStore) ListTurns(ctx context.Context, userID string, limit int) ([]*Turn, error) {
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, role, text, created_at FROM (
				SELECT seq, role, text, created_at FROM turns
				WHERE user_id = ?
				ORDER BY seq DESC
				LIMIT ?
			) ORDER BY seq ASC
		`, userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, role, text, created_at FROM turns
			WHERE user_id = ?
			ORDER BY seq ASC
		`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.Seq, &t.Role, &t.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

// AddJobRef links a job to a user's session. Adding the same link twice is a no-op.
func (s *SQLiteStore) AddJobRef(ctx context.Context, ref *JobRef) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO job_refs (user_id, job_id, created_at) VALUES (?, ?, ?)`,
		ref.UserID, ref.JobID, formatTime(ref.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting job ref: %w", err)
	}
	return nil
}

// ListJobRefs returns the user's job references in creation order
func (s *SQLiteStore) ListJobRefs(ctx context.Context, userID string) ([]*JobRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, job_id, created_at FROM job_refs
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying job refs: %w", err)
	}
	defer rows.Close()

	var refs []*JobRef
	for rows.Next() {
		var r JobRef
		var createdAt string
		if err := rows.Scan(&r.UserID, &r.JobID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning job ref: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		refs = append(refs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job refs: %w", err)
	}
	return refs, nil
}

// CreateJob inserts a new video job
func (s *SQLiteStore) CreateJob(ctx context.Context, job *VideoJob) error {
	spec, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("encoding job spec: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO video_jobs (id, external_id, owner_user_id, spec_json, state, poll_count,
			result_ref, error_info, origin_surface, origin_channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.ExternalID, job.OwnerUserID, string(spec), string(job.State), job.PollCount,
		nullString(job.ResultRef), nullString(job.ErrorInfo), job.Origin.Surface, job.Origin.Channel,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("created job", "id", job.ID, "owner", job.OwnerUserID)
	return nil
}

const jobColumns = `id, external_id, owner_user_id, spec_json, state, poll_count,
	result_ref, error_info, origin_surface, origin_channel, created_at, updated_at`

// GetJob retrieves a video job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*VideoJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// UpdateJob writes the mutable job fields if the stored state still equals prev
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *VideoJob, prev JobState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_jobs
		SET external_id = ?, state = ?, poll_count = ?, result_ref = ?, error_info = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`,
		job.ExternalID, string(job.State), job.PollCount, nullString(job.ResultRef), nullString(job.ErrorInfo),
		formatTime(job.UpdatedAt), job.ID, string(prev),
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, job.ID); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

// ListJobsByOwner returns the owner's jobs, newest first
func (s *SQLiteStore) ListJobsByOwner(ctx context.Context, ownerUserID string, limit int) ([]*VideoJob, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE owner_user_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{ownerUserID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryJobs(ctx, query, args...)
}

// ListJobsByState returns all jobs in any of the given states, oldest first
func (s *SQLiteStore) ListJobsByState(ctx context.Context, states ...JobState) ([]*VideoJob, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE state IN (` +
		strings.Join(placeholders, ",") + `) ORDER BY created_at ASC, rowid ASC`
	return s.queryJobs(ctx, query, args...)
}

// JobStats counts the owner's jobs by state
func (s *SQLiteStore) JobStats(ctx context.Context, ownerUserID string) (*JobStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM video_jobs WHERE owner_user_id = ? GROUP BY state`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("querying job stats: %w", err)
	}
	defer rows.Close()

	var stats JobStats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scanning job stats: %w", err)
		}
		stats.add(JobState(state), count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job stats: %w", err)
	}
	return &stats, nil
}

func (s *JobStats) add(state JobState, n int) {
	s.Total += n
	switch state {
	case JobCreated:
		s.Created += n
	case JobRunning:
		s.Running += n
	case JobCompleted:
		s.Completed += n
	case JobFailed:
		s.Failed += n
	}
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]*VideoJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*VideoJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*VideoJob, error) {
	var job VideoJob
	var specJSON, state, createdAt, updatedAt string
	var resultRef, errorInfo sql.NullString

	if err := row.Scan(
		&job.ID, &job.ExternalID, &job.OwnerUserID, &specJSON, &state, &job.PollCount,
		&resultRef, &errorInfo, &job.Origin.Surface, &job.Origin.Channel, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(specJSON), &job.Spec); err != nil {
		return nil, fmt.Errorf("decoding job spec: %w", err)
	}

	job.State = JobState(state)
	job.ResultRef = resultRef.String
	job.ErrorInfo = errorInfo.String
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// tolerate rows written with plain RFC3339
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
