// ABOUTME: Video Job Tracker: owns the lifecycle of long-running generation jobs
// ABOUTME: Drives created/running/completed/failed transitions and notifies subscribers exactly once

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tubeagent/internal/capability"
	"github.com/2389/tubeagent/internal/keylock"
	"github.com/2389/tubeagent/internal/metrics"
	"github.com/2389/tubeagent/internal/store"
)

// ErrInvalidTransition is returned when a state change would break the lifecycle
var ErrInvalidTransition = errors.New("invalid job state transition")

// NotifyFunc receives a job snapshot after it reaches a terminal state
type NotifyFunc func(ctx context.Context, job store.VideoJob) error

// Limits bound how long a job may stay non-terminal
type Limits struct {
	MaxPolls int
	MaxAge   time.Duration
}

// CreateRequest describes a new job
type CreateRequest struct {
	// ID is optional; callers that may retry Create pass a stable ID so the
	// capability can de-duplicate the start request.
	ID          string
	OwnerUserID string
	Spec        store.VideoSpec
	Origin      store.Origin
}

type subscriber struct {
	id string
	fn NotifyFunc
}

// Tracker owns VideoJob state. Transitions for one job are serialized;
// different jobs proceed in parallel.
type Tracker struct {
	store  store.JobStore
	client capability.Client
	limits Limits
	locks  *keylock.Locker
	logger *slog.Logger

	subsMu sync.Mutex
	subs   map[string][]subscriber

	// now is swappable for tests
	now func() time.Time
}

// NewTracker creates a Tracker persisting to js and polling client.
func NewTracker(js store.JobStore, client capability.Client, limits Limits, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  js,
		client: client,
		limits: limits,
		locks:  keylock.New(),
		logger: logger.With("component", "jobs"),
		subs:   make(map[string][]subscriber),
		now:    time.Now,
	}
}

// validTransitions lists the allowed next states
var validTransitions = map[store.JobState][]store.JobState{
	store.JobCreated: {store.JobRunning},
	store.JobRunning: {store.JobCompleted, store.JobFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to store.JobState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Create starts a video job with the capability and records it in the
// created state. Capability errors are returned unchanged so callers can
// decide whether to retry.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*store.VideoJob, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	externalID, err := t.client.StartVideoJob(ctx, id, req.Spec)
	if err != nil {
		return nil, fmt.Errorf("starting video job: %w", err)
	}

	now := t.now().UTC()
	job := &store.VideoJob{
		ID:          id,
		ExternalID:  externalID,
		OwnerUserID: req.OwnerUserID,
		Spec:        req.Spec,
		State:       store.JobCreated,
		Origin:      req.Origin,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// the capability has accepted the job, so record it even if the caller is gone
	if err := t.store.CreateJob(context.WithoutCancel(ctx), job); err != nil {
		if errors.Is(err, store.ErrDuplicateJob) {
			// a retried create for the same ID already landed
			return t.GetStatus(ctx, id)
		}
		return nil, store.Unavailable(err)
	}

	metrics.RecordJobTransition(string(store.JobCreated))
	t.logger.Info("video job created", "job_id", id, "owner", req.OwnerUserID, "external_id", externalID)
	return job, nil
}

// GetStatus returns the last known state without contacting the capability.
func (t *Tracker) GetStatus(ctx context.Context, jobID string) (*store.VideoJob, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return job, nil
}

// RefreshStatus polls the capability once and applies any resulting
// transitions. Terminal jobs are returned as-is without a poll. Transient
// poll failures count against the poll budget and leave the state alone.
func (t *Tracker) RefreshStatus(ctx context.Context, jobID string) (*store.VideoJob, error) {
	unlock := t.locks.Lock(jobID)

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		unlock()
		return nil, store.Unavailable(err)
	}
	if job.State.Terminal() {
		unlock()
		return job, nil
	}

	updated, err := t.refreshLocked(ctx, job)
	var notify []subscriber
	if err == nil && updated.State.Terminal() {
		notify = t.takeSubscribers(jobID)
	}
	unlock()

	if err != nil {
		return nil, err
	}

	if updated.State.Terminal() {
		t.dispatch(updated, notify)
	}
	return updated, nil
}

// refreshLocked performs one poll step. Caller holds the job lock.
func (t *Tracker) refreshLocked(ctx context.Context, job *store.VideoJob) (*store.VideoJob, error) {
	if reason := t.overBudget(job); reason != "" {
		return t.fail(ctx, job, reason)
	}

	res, err := t.client.PollVideoJob(ctx, job.ExternalID)
	if err != nil {
		if capability.IsRejected(err) {
			return t.fail(ctx, job, err.Error())
		}

		t.logger.Warn("video job poll failed", "job_id", job.ID, "error", err)
		prev := job.State
		job.PollCount++
		job.UpdatedAt = t.now().UTC()
		if reason := t.overBudget(job); reason != "" {
			return t.fail(ctx, job, reason)
		}
		if err := t.store.UpdateJob(ctx, job, prev); err != nil {
			return nil, store.Unavailable(err)
		}
		return job, nil
	}

	job.PollCount++

	switch res.Status {
	case capability.PollFailed:
		return t.fail(ctx, job, res.ErrorInfo)

	case capability.PollSucceeded:
		if res.ResultRef == "" {
			// not usable yet; keep running until a reference appears
			return t.ensureRunning(ctx, job)
		}
		job, err := t.ensureRunning(ctx, job)
		if err != nil {
			return nil, err
		}
		return t.transition(ctx, job, store.JobCompleted, res.ResultRef, "")

	default:
		return t.ensureRunning(ctx, job)
	}
}

// ensureRunning moves a created job to running, or persists the poll count.
func (t *Tracker) ensureRunning(ctx context.Context, job *store.VideoJob) (*store.VideoJob, error) {
	if job.State == store.JobCreated {
		return t.transition(ctx, job, store.JobRunning, "", "")
	}
	job.UpdatedAt = t.now().UTC()
	if err := t.store.UpdateJob(ctx, job, job.State); err != nil {
		return nil, store.Unavailable(err)
	}
	return job, nil
}

// fail moves job to failed. A job that never reported progress passes through
// running first, so every job follows created -> running -> terminal.
func (t *Tracker) fail(ctx context.Context, job *store.VideoJob, reason string) (*store.VideoJob, error) {
	if job.State == store.JobCreated {
		var err error
		if job, err = t.transition(ctx, job, store.JobRunning, "", ""); err != nil {
			return nil, err
		}
	}
	return t.transition(ctx, job, store.JobFailed, "", reason)
}

// transition persists job in state to with a compare-and-set on its current state.
func (t *Tracker) transition(ctx context.Context, job *store.VideoJob, to store.JobState, resultRef, errorInfo string) (*store.VideoJob, error) {
	from := job.State
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	next := *job
	next.State = to
	next.UpdatedAt = t.now().UTC()
	if to == store.JobCompleted {
		next.ResultRef = resultRef
	}
	if to == store.JobFailed {
		if errorInfo == "" {
			errorInfo = "video generation failed"
		}
		next.ErrorInfo = errorInfo
	}

	if err := t.store.UpdateJob(ctx, &next, from); err != nil {
		return nil, store.Unavailable(err)
	}

	metrics.RecordJobTransition(string(to))
	t.logger.Info("video job transition", "job_id", next.ID, "from", from, "to", to, "polls", next.PollCount)
	return &next, nil
}

func (t *Tracker) overBudget(job *store.VideoJob) string {
	if t.limits.MaxPolls > 0 && job.PollCount >= t.limits.MaxPolls {
		return fmt.Sprintf("timed out after %d status checks", job.PollCount)
	}
	if t.limits.MaxAge > 0 && t.now().Sub(job.CreatedAt) > t.limits.MaxAge {
		return fmt.Sprintf("timed out after %s", t.limits.MaxAge)
	}
	return ""
}

// Subscribe registers fn to run once when the job reaches a terminal state.
// If the job is already terminal, fn runs once on its own goroutine right away.
// The returned function cancels a pending subscription.
func (t *Tracker) Subscribe(ctx context.Context, jobID string, fn NotifyFunc) (cancel func(), err error) {
	unlock := t.locks.Lock(jobID)

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		unlock()
		return nil, store.Unavailable(err)
	}

	if job.State.Terminal() {
		unlock()
		go t.dispatch(job, []subscriber{{id: "immediate", fn: fn}})
		return func() {}, nil
	}

	sub := subscriber{id: uuid.New().String(), fn: fn}
	t.subsMu.Lock()
	t.subs[jobID] = append(t.subs[jobID], sub)
	t.subsMu.Unlock()
	unlock()

	return func() { t.unsubscribe(jobID, sub.id) }, nil
}

func (t *Tracker) unsubscribe(jobID, subID string) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()

	subs := t.subs[jobID]
	for i, s := range subs {
		if s.id == subID {
			t.subs[jobID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(t.subs[jobID]) == 0 {
		delete(t.subs, jobID)
	}
}

func (t *Tracker) takeSubscribers(jobID string) []subscriber {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()

	subs := t.subs[jobID]
	delete(t.subs, jobID)
	return subs
}

// dispatch delivers a terminal snapshot. Failures are logged, never returned.
func (t *Tracker) dispatch(job *store.VideoJob, subs []subscriber) {
	for _, s := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.fn(ctx, *job); err != nil {
			t.logger.Warn("job notification failed", "job_id", job.ID, "error", err)
		}
		cancel()
	}
}

// ListByOwner returns the owner's jobs, newest first.
func (t *Tracker) ListByOwner(ctx context.Context, ownerUserID string, limit int) ([]*store.VideoJob, error) {
	jobs, err := t.store.ListJobsByOwner(ctx, ownerUserID, limit)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return jobs, nil
}

// ListActive returns every job not yet completed or failed, oldest first.
func (t *Tracker) ListActive(ctx context.Context) ([]*store.VideoJob, error) {
	jobs, err := t.store.ListJobsByState(ctx, store.JobCreated, store.JobRunning)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return jobs, nil
}

// Stats summarizes the owner's jobs.
func (t *Tracker) Stats(ctx context.Context, ownerUserID string) (*store.JobStats, error) {
	stats, err := t.store.JobStats(ctx, ownerUserID)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return stats, nil
}
