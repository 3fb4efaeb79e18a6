// ABOUTME: Contract for the opaque AI text and video generation backend
// ABOUTME: Defines the Client interface, request/result types and the Unavailable/Rejected error taxonomy

package capability

import (
	"context"
	"errors"

	"github.com/2389/tubeagent/internal/store"
)

// ErrUnavailable signals a transient failure; the call may be retried.
var ErrUnavailable = errors.New("capability unavailable")

// ErrRejected signals a permanent failure; retrying the same input will not help.
var ErrRejected = errors.New("capability rejected request")

// IsUnavailable reports whether err is a transient capability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRejected reports whether err is a permanent capability failure.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// ReplyRequest is the input to GenerateReply
type ReplyRequest struct {
	UserID  string
	History []*store.Turn // bounded recent history, oldest first
	Message string
}

// PollStatus is the capability-side view of a video job
type PollStatus string

const (
	PollPending   PollStatus = "pending"
	PollRunning   PollStatus = "running"
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
)

// PollResult is returned by PollVideoJob
type PollResult struct {
	Status    PollStatus
	ResultRef string // set when Status is PollSucceeded
	ErrorInfo string // set when Status is PollFailed
}

// Client is the AI capability used by the orchestrator and the job tracker.
// Implementations hold no conversation state. Calls may be retried, so
// StartVideoJob takes an idempotency key and must not start a second job
// for a key it has already accepted.
type Client interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
	StartVideoJob(ctx context.Context, idempotencyKey string, spec store.VideoSpec) (string, error)
	PollVideoJob(ctx context.Context, externalID string) (*PollResult, error)
}
