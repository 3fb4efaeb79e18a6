// ABOUTME: Session Store: per-user conversation state over the persistence layer
// ABOUTME: Serializes writes per user and serves immutable snapshots from an LRU cache

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/2389/tubeagent/internal/keylock"
	"github.com/2389/tubeagent/internal/store"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("session store closed")

// ErrInvalidRole is returned when appending a turn with an unknown role
var ErrInvalidRole = errors.New("invalid turn role")

// Session is a read-only snapshot of one user's conversation
type Session struct {
	User      store.User
	Turns     []store.Turn
	JobIDs    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LastTurn returns the most recent turn, if any.
func (s *Session) LastTurn() (store.Turn, bool) {
	if len(s.Turns) == 0 {
		return store.Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Recent returns up to n of the latest turns, oldest first.
func (s *Session) Recent(n int) []store.Turn {
	if n <= 0 || n >= len(s.Turns) {
		return append([]store.Turn(nil), s.Turns...)
	}
	return append([]store.Turn(nil), s.Turns[len(s.Turns)-n:]...)
}

func (s *Session) clone() *Session {
	c := *s
	c.Turns = append([]store.Turn(nil), s.Turns...)
	c.JobIDs = append([]string(nil), s.JobIDs...)
	return &c
}

// Store owns the lifecycle of sessions. Create it once at startup and
// inject it; Close it on shutdown.
type Store struct {
	backend store.SessionStore
	cache   *lru.Cache
	locks   *keylock.Locker
	logger  *slog.Logger
	closed  atomic.Bool

	// now is swappable for tests
	now func() time.Time
}

// New creates a Session Store over backend caching up to cacheSize sessions.
func New(backend store.SessionStore, cacheSize int, logger *slog.Logger) (*Store, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}

	return &Store{
		backend: backend,
		cache:   cache,
		locks:   keylock.New(),
		logger:  logger.With("component", "session"),
		now:     time.Now,
	}, nil
}

// Load returns the user's session, creating the user and session on first
// contact. A non-empty displayName refreshes the stored one.
func (s *Store) Load(ctx context.Context, userID, displayName string) (*Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if sess, ok := s.cached(userID); ok && (displayName == "" || displayName == sess.User.DisplayName) {
		return sess.clone(), nil
	}

	now := s.now().UTC()
	if err := s.backend.UpsertUser(ctx, &store.User{
		ID:          userID,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, store.Unavailable(err)
	}

	if _, err := s.backend.EnsureSession(ctx, userID, now); err != nil {
		return nil, store.Unavailable(err)
	}

	sess, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sess.clone(), nil
}

// List returns a snapshot of an existing session without creating one.
// Returns store.ErrNotFound for users never seen before.
func (s *Store) List(ctx context.Context, userID string) (*Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if sess, ok := s.cached(userID); ok {
		return sess.clone(), nil
	}

	sess, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sess.clone(), nil
}

// AppendTurn records a turn at the end of the user's session and returns it.
// The timestamp is clamped so it never precedes the previous turn.
func (s *Store) AppendTurn(ctx context.Context, userID, role, text string) (store.Turn, error) {
	if s.closed.Load() {
		return store.Turn{}, ErrClosed
	}
	if role != store.RoleUser && role != store.RoleAssistant {
		return store.Turn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, err := s.current(ctx, userID)
	if err != nil {
		return store.Turn{}, err
	}

	ts := s.now().UTC()
	if last, ok := sess.LastTurn(); ok && ts.Before(last.CreatedAt) {
		ts = last.CreatedAt
	}

	turn := &store.Turn{Role: role, Text: text, CreatedAt: ts}
	if err := s.backend.AppendTurn(ctx, userID, turn); err != nil {
		return store.Turn{}, store.Unavailable(err)
	}

	next := sess.clone()
	next.Turns = append(next.Turns, *turn)
	next.UpdatedAt = ts
	s.cache.Add(userID, next)

	return *turn, nil
}

// Exchange is one user message, the assistant's answer and, when the answer
// started a video job, that job's ID.
type Exchange struct {
	UserText      string
	AssistantText string
	JobID         string
}

// RecordExchange appends the user turn and the assistant turn, and links
// JobID when set, in a single backend write. On error nothing is recorded.
func (s *Store) RecordExchange(ctx context.Context, userID string, ex Exchange) ([]store.Turn, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	ts := s.now().UTC()
	if last, ok := sess.LastTurn(); ok && ts.Before(last.CreatedAt) {
		ts = last.CreatedAt
	}

	pair := []*store.Turn{
		{Role: store.RoleUser, Text: ex.UserText, CreatedAt: ts},
		{Role: store.RoleAssistant, Text: ex.AssistantText, CreatedAt: ts},
	}

	var ref *store.JobRef
	linked := ex.JobID == ""
	for _, id := range sess.JobIDs {
		if id == ex.JobID {
			linked = true
		}
	}
	if !linked {
		ref = &store.JobRef{UserID: userID, JobID: ex.JobID, CreatedAt: ts}
	}

	if err := s.backend.AppendTurns(ctx, userID, pair, ref); err != nil {
		return nil, store.Unavailable(err)
	}

	next := sess.clone()
	for _, t := range pair {
		next.Turns = append(next.Turns, *t)
	}
	if ref != nil {
		next.JobIDs = append(next.JobIDs, ref.JobID)
	}
	next.UpdatedAt = ts
	s.cache.Add(userID, next)

	return []store.Turn{*pair[0], *pair[1]}, nil
}

// AddJobReference links jobID to the user's session. Adding an existing link is a no-op.
func (s *Store) AddJobReference(ctx context.Context, userID, jobID string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	sess, err := s.current(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range sess.JobIDs {
		if id == jobID {
			return nil
		}
	}

	if err := s.backend.AddJobRef(ctx, &store.JobRef{
		UserID:    userID,
		JobID:     jobID,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return store.Unavailable(err)
	}

	next := sess.clone()
	next.JobIDs = append(next.JobIDs, jobID)
	s.cache.Add(userID, next)
	return nil
}

// Close drops cached snapshots and rejects further calls. Writes are
// synchronous, so nothing is pending. The backend is not closed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cache.Purge()
	s.logger.Debug("session store closed")
	return nil
}

// current returns the cached session or reads it. Caller holds the user lock.
func (s *Store) current(ctx context.Context, userID string) (*Session, error) {
	if sess, ok := s.cached(userID); ok {
		return sess, nil
	}
	return s.read(ctx, userID)
}

func (s *Store) cached(userID string) (*Session, bool) {
	v, ok := s.cache.Get(userID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// read loads a session from the backend into the cache. Caller holds the user lock.
func (s *Store) read(ctx context.Context, userID string) (*Session, error) {
	user, err := s.backend.GetUser(ctx, userID)
	if err != nil {
		return nil, store.Unavailable(err)
	}

	rec, err := s.backend.EnsureSession(ctx, userID, user.CreatedAt)
	if err != nil {
		return nil, store.Unavailable(err)
	}

	turns, err := s.backend.ListTurns(ctx, userID, 0)
	if err != nil {
		return nil, store.Unavailable(err)
	}

	refs, err := s.backend.ListJobRefs(ctx, userID)
	if err != nil {
		return nil, store.Unavailable(err)
	}

	sess := &Session{
		User:      *user,
		Turns:     make([]store.Turn, len(turns)),
		JobIDs:    make([]string, len(refs)),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	for i, t := range turns {
		sess.Turns[i] = *t
	}
	for i, r := range refs {
		sess.JobIDs[i] = r.JobID
	}

	s.cache.Add(userID, sess)
	return sess, nil
}
