// ABOUTME: Store interfaces and data types for tubeagent persistence
// ABOUTME: Defines User, Turn, JobRef, VideoSpec and VideoJob plus the session and job store contracts

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStorageUnavailable is returned when the backing store cannot be read or written
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrStateConflict is returned when a job update finds the job in an unexpected state
var ErrStateConflict = errors.New("job state changed concurrently")

// ErrDuplicateJob is returned when creating a job whose ID already exists
var ErrDuplicateJob = errors.New("job already exists")

// Unavailable wraps err as ErrStorageUnavailable unless it is already one of
// the store's well-known sentinels.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStateConflict) || errors.Is(err, ErrDuplicateJob) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// User is an end user of the service, created at first interaction
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a session. Turns are immutable once appended.
type Turn struct {
	Seq       int64
	Role      string // "user" or "assistant"
	Text      string
	CreatedAt time.Time
}

// JobRef is a weak link from a session to a video job
type JobRef struct {
	UserID    string
	JobID     string
	CreatedAt time.Time
}

// SessionRecord is the persisted session header
type SessionRecord struct {
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VideoSpec is the structured description of a requested video
type VideoSpec struct {
	Title           string   `json:"title"`
	Topic           string   `json:"topic"`
	Description     string   `json:"description,omitempty"`
	TargetAudience  string   `json:"target_audience,omitempty"`
	DurationSeconds int      `json:"duration_seconds"`
	Style           string   `json:"style"`
	Language        string   `json:"language"`
	Tags            []string `json:"tags,omitempty"`
}

// JobState is the lifecycle state of a video job
type JobState string

// Job states. Completed and Failed are terminal.
const (
	JobCreated   JobState = "created"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Origin records which chat surface requested a job so notifications can be routed back
type Origin struct {
	Surface string // "web", "slack", "matrix", ...
	Channel string // surface-specific destination, e.g. a Slack channel ID
}

// VideoJob is a long-running video generation request
type VideoJob struct {
	ID          string
	ExternalID  string // handle returned by the video capability
	OwnerUserID string
	Spec        VideoSpec
	State       JobState
	PollCount   int
	ResultRef   string
	ErrorInfo   string
	Origin      Origin
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobStats summarizes a user's jobs
type JobStats struct {
	Total     int
	Created   int
	Running   int
	Completed int
	Failed    int
}

// SuccessRate is the completed share of finished jobs, as a percentage.
func (s JobStats) SuccessRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Completed) / float64(finished) * 100
}

// SessionStore persists users, their conversation turns and job references.
type SessionStore interface {
	// UpsertUser creates the user or updates its display name.
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// EnsureSession creates the session header if it does not exist yet.
	EnsureSession(ctx context.Context, userID string, at time.Time) (*SessionRecord, error)

	// AppendTurn assigns the next sequence number and persists the turn.
	AppendTurn(ctx context.Context, userID string, turn *Turn) error
	// AppendTurns persists turns in order, and ref when non-nil, all or
	// nothing.
	AppendTurns(ctx context.Context, userID string, turns []*Turn, ref *JobRef) error
	// ListTurns returns the most recent limit turns in chronological order.
	// A limit <= 0 returns all turns.
	ListTurns(ctx context.Context, userID string, limit int) ([]*Turn, error)

	AddJobRef(ctx context.Context, ref *JobRef) error
	ListJobRefs(ctx context.Context, userID string) ([]*JobRef, error)
}

// JobStore persists video jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *VideoJob) error
	GetJob(ctx context.Context, id string) (*VideoJob, error)
	// UpdateJob writes job only if the stored state still equals prev.
	// Returns ErrStateConflict otherwise.
	UpdateJob(ctx context.Context, job *VideoJob, prev JobState) error
	// ListJobsByOwner returns the owner's jobs, newest first. A limit <= 0 returns all.
	ListJobsByOwner(ctx context.Context, ownerUserID string, limit int) ([]*VideoJob, error)
	ListJobsByState(ctx context.Context, states ...JobState) ([]*VideoJob, error)
	JobStats(ctx context.Context, ownerUserID string) (*JobStats, error)
}

// Store combines every persistence contract with lifecycle management.
type Store interface {
	SessionStore
	JobStore
	Ping(ctx context.Context) error
	Close() error
}
