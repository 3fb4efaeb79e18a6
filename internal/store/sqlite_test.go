// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers users, sessions, turn ordering/limiting, job refs and job compare-and-set updates

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist in nested directory")
}

func TestUpsertUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", DisplayName: "Ada", CreatedAt: now, UpdatedAt: now}))

	// empty display name keeps the stored one
	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", CreatedAt: now, UpdatedAt: now.Add(time.Second)}))
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)

	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", DisplayName: "Ada L.", CreatedAt: now, UpdatedAt: now}))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", u.DisplayName)
	assert.True(t, u.CreatedAt.Equal(now), "created_at must not change on update")
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureSession_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec, err := s.EnsureSession(ctx, "u1", first)
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(first))

	rec, err = s.EnsureSession(ctx, "u1", first.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(first), "second call must not recreate the session")
}

func TestAppendTurn_SequencesAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.EnsureSession(ctx, "u1", base)
	require.NoError(t, err)

	roles := []string{RoleUser, RoleAssistant, RoleUser, RoleAssistant}
	for i, role := range roles {
		turn := &Turn{Role: role, Text: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Millisecond)}
		require.NoError(t, s.AppendTurn(ctx, "u1", turn))
		assert.Equal(t, int64(i+1), turn.Seq)
	}

	all, err := s.ListTurns(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, turn := range all {
		assert.Equal(t, roles[i], turn.Role)
		assert.Equal(t, int64(i+1), turn.Seq)
	}

	recent, err := s.ListTurns(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Text)
	assert.Equal(t, "d", recent[1].Text)
}

func TestAppendTurn_RequiresSession(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendTurn(context.Background(), "nobody", &Turn{Role: RoleUser, Text: "hi", CreatedAt: time.Now()})
	assert.Error(t, err, "foreign key should reject turns without a session")
}

func TestAppendTurns_CommitsTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.EnsureSession(ctx, "u1", now)
	require.NoError(t, err)

	pair := []*Turn{
		{Role: RoleUser, Text: "make a video about owls", CreatedAt: now},
		{Role: RoleAssistant, Text: "started", CreatedAt: now},
	}
	require.NoError(t, s.AppendTurns(ctx, "u1", pair, &JobRef{UserID: "u1", JobID: "job-1", CreatedAt: now}))
	assert.Equal(t, int64(1), pair[0].Seq)
	assert.Equal(t, int64(2), pair[1].Seq)

	refs, err := s.ListJobRefs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "job-1", refs[0].JobID)
}

func TestAppendTurns_NothingWrittenOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.EnsureSession(ctx, "u1", now)
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, "u1", &Turn{Role: RoleUser, Text: "hi", CreatedAt: now}))

	// the invalid role fails the second insert after the first succeeded
	pair := []*Turn{
		{Role: RoleAssistant, Text: "hello", CreatedAt: now},
		{Role: "system", Text: "bad", CreatedAt: now},
	}
	err = s.AppendTurns(ctx, "u1", pair, &JobRef{UserID: "u1", JobID: "job-1", CreatedAt: now})
	require.Error(t, err)
	assert.Zero(t, pair[0].Seq)

	turns, err := s.ListTurns(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	refs, err := s.ListJobRefs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestAppendTurns_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	_, err := s.EnsureSession(context.Background(), "u1", now)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.AppendTurns(ctx, "u1", []*Turn{{Role: RoleUser, Text: "hi", CreatedAt: now}}, nil)
	require.Error(t, err)

	turns, err := s.ListTurns(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestJobRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.EnsureSession(ctx, "u1", now)
	require.NoError(t, err)

	require.NoError(t, s.AddJobRef(ctx, &JobRef{UserID: "u1", JobID: "j1", CreatedAt: now}))
	require.NoError(t, s.AddJobRef(ctx, &JobRef{UserID: "u1", JobID: "j2", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.AddJobRef(ctx, &JobRef{UserID: "u1", JobID: "j1", CreatedAt: now}))

	refs, err := s.ListJobRefs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "j1", refs[0].JobID)
	assert.Equal(t, "j2", refs[1].JobID)
}

func newJob(id, owner string, created time.Time) *VideoJob {
	return &VideoJob{
		ID:          id,
		ExternalID:  "ext-" + id,
		OwnerUserID: owner,
		Spec: VideoSpec{
			Title:           "Cats",
			Topic:           "cats",
			DurationSeconds: 60,
			Style:           "educational",
			Language:        "en",
			Tags:            []string{"cats"},
		},
		State:     JobCreated,
		Origin:    Origin{Surface: "slack", Channel: "C1"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob("j1", "u1", now)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "ext-j1", got.ExternalID)
	assert.Equal(t, JobCreated, got.State)
	assert.Equal(t, job.Spec, got.Spec)
	assert.Equal(t, Origin{Surface: "slack", Channel: "C1"}, got.Origin)
	assert.Empty(t, got.ResultRef)
	assert.True(t, got.CreatedAt.Equal(now))

	assert.ErrorIs(t, s.CreateJob(ctx, job), ErrDuplicateJob)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJob_CompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob("j1", "u1", now)
	require.NoError(t, s.CreateJob(ctx, job))

	job.State = JobRunning
	job.PollCount = 1
	require.NoError(t, s.UpdateJob(ctx, job, JobCreated))

	// stale writer still believes the job is created
	stale := *job
	stale.State = JobFailed
	assert.ErrorIs(t, s.UpdateJob(ctx, &stale, JobCreated), ErrStateConflict)

	job.State = JobCompleted
	job.ResultRef = "https://cdn.example.com/v.mp4"
	require.NoError(t, s.UpdateJob(ctx, job, JobRunning))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.State)
	assert.Equal(t, 1, got.PollCount)
	assert.Equal(t, "https://cdn.example.com/v.mp4", got.ResultRef)

	missing := newJob("nope", "u1", now)
	assert.ErrorIs(t, s.UpdateJob(ctx, missing, JobCreated), ErrNotFound)
}

func TestListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, s.CreateJob(ctx, newJob(id, "u1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.CreateJob(ctx, newJob("other", "u2", base)))

	jobs, err := s.ListJobsByOwner(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "j3", jobs[0].ID, "newest first")

	jobs, err = s.ListJobsByOwner(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	j2, err := s.GetJob(ctx, "j2")
	require.NoError(t, err)
	j2.State = JobRunning
	require.NoError(t, s.UpdateJob(ctx, j2, JobCreated))

	active, err := s.ListJobsByState(ctx, JobRunning)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "j2", active[0].ID)

	none, err := s.ListJobsByState(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJobStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	states := map[string]JobState{"a": JobCompleted, "b": JobCompleted, "c": JobFailed, "d": JobRunning}
	for id, st := range states {
		job := newJob(id, "u1", now)
		job.State = st
		require.NoError(t, s.CreateJob(ctx, job))
	}

	stats, err := s.JobStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Running)
	assert.InDelta(t, 66.67, stats.SuccessRate(), 0.01)

	empty, err := s.JobStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.SuccessRate())
}

func TestUnavailable(t *testing.T) {
	assert.Nil(t, Unavailable(nil))
	assert.ErrorIs(t, Unavailable(errors.New("disk I/O error")), ErrStorageUnavailable)
	assert.ErrorIs(t, Unavailable(ErrNotFound), ErrNotFound)
	assert.NotErrorIs(t, Unavailable(ErrNotFound), ErrStorageUnavailable)
}
