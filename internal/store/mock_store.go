// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*SessionRecord
	turns    map[string][]*Turn  // keyed by user ID
	refs     map[string][]*JobRef // keyed by user ID
	jobs     map[string]*VideoJob
	jobOrder []string
	failErr  error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*SessionRecord),
		turns:    make(map[string][]*Turn),
		refs:     make(map[string][]*JobRef),
		jobs:     make(map[string]*VideoJob),
	}
}

// FailWith makes every subsequent operation return err. Pass nil to recover.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// UpsertUser creates the user or updates its display name.
func (m *MockStore) UpsertUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	if existing, ok := m.users[user.ID]; ok {
		if user.DisplayName != "" {
			existing.DisplayName = user.DisplayName
		}
		existing.UpdatedAt = user.UpdatedAt
		return nil
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// EnsureSession creates the session header if missing.
func (m *MockStore) EnsureSession(ctx context.Context, userID string, at time.Time) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	rec, ok := m.sessions[userID]
	if !ok {
		rec = &SessionRecord{UserID: userID, CreatedAt: at, UpdatedAt: at}
		m.sessions[userID] = rec
	}
	result := *rec
	return &result, nil
}

// AppendTurn stores a turn with the next sequence number.
func (m *MockStore) AppendTurn(ctx context.Context, userID string, turn *Turn) error {
	return m.AppendTurns(ctx, userID, []*Turn{turn}, nil)
}

// AppendTurns stores turns and an optional job reference together.
func (m *MockStore) AppendTurns(ctx context.Context, userID string, turns []*Turn, ref *JobRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	for _, turn := range turns {
		turn.Seq = int64(len(m.turns[userID]) + 1)
		t := *turn
		m.turns[userID] = append(m.turns[userID], &t)
		if rec, ok := m.sessions[userID]; ok {
			rec.UpdatedAt = t.CreatedAt
		}
	}
	if ref != nil {
		m.addRefLocked(ref)
	}
	return nil
}

// ListTurns returns the most recent limit turns in chronological order.
func (m *MockStore) ListTurns(ctx context.Context, userID string, limit int) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	all := m.turns[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	result := make([]*Turn, len(all))
	for i, t := range all {
		c := *t
		result[i] = &c
	}
	return result, nil
}

// AddJobRef links a job to a user. Duplicate links are ignored.
func (m *MockStore) AddJobRef(ctx context.Context, ref *JobRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	m.addRefLocked(ref)
	return nil
}

func (m *MockStore) addRefLocked(ref *JobRef) {
	for _, r := range m.refs[ref.UserID] {
		if r.JobID == ref.JobID {
			return
		}
	}
	r := *ref
	m.refs[ref.UserID] = append(m.refs[ref.UserID], &r)
}

// ListJobRefs returns a user's job references in creation order.
func (m *MockStore) ListJobRefs(ctx context.Context, userID string) ([]*JobRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	result := make([]*JobRef, len(m.refs[userID]))
	for i, r := range m.refs[userID] {
		c := *r
		result[i] = &c
	}
	return result, nil
}

// CreateJob stores a new job.
func (m *MockStore) CreateJob(ctx context.Context, job *VideoJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	if _, ok := m.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	m.jobs[job.ID] = copyJob(job)
	m.jobOrder = append(m.jobOrder, job.ID)
	return nil
}

// GetJob retrieves a job by ID.
func (m *MockStore) GetJob(ctx context.Context, id string) (*VideoJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

// UpdateJob replaces a job if its stored state equals prev.
func (m *MockStore) UpdateJob(ctx context.Context, job *VideoJob, prev JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	existing, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.State != prev {
		return ErrStateConflict
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (m *MockStore) ListJobsByOwner(ctx context.Context, ownerUserID string, limit int) ([]*VideoJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	var result []*VideoJob
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		job := m.jobs[m.jobOrder[i]]
		if job.OwnerUserID != ownerUserID {
			continue
		}
		result = append(result, copyJob(job))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// ListJobsByState returns jobs in any of the given states, oldest first.
func (m *MockStore) ListJobsByState(ctx context.Context, states ...JobState) ([]*VideoJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	want := make(map[JobState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	var result []*VideoJob
	for _, id := range m.jobOrder {
		if job := m.jobs[id]; want[job.State] {
			result = append(result, copyJob(job))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// JobStats counts the owner's jobs by state.
func (m *MockStore) JobStats(ctx context.Context, ownerUserID string) (*JobStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	var stats JobStats
	for _, job := range m.jobs {
		if job.OwnerUserID == ownerUserID {
			stats.add(job.State, 1)
		}
	}
	return &stats, nil
}

// Ping reports the injected failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func copyJob(job *VideoJob) *VideoJob {
	c := *job
	c.Spec.Tags = append([]string(nil), job.Spec.Tags...)
	return &c
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
