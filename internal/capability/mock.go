// ABOUTME: Deterministic in-process capability for development and tests
// ABOUTME: Echo-style replies and video jobs that finish after a fixed number of polls

package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/tubeagent/internal/store"
)

type mockJob struct {
	polls     int
	failInfo  string
	spec      store.VideoSpec
	completed bool
}

// MockClient is a Client that never leaves the process.
// Jobs report running on every poll until pollsToComplete polls have been
// made, then succeed with a mock:// result reference.
type MockClient struct {
	mu              sync.Mutex
	pollsToComplete int
	jobs            map[string]*mockJob
	byKey           map[string]string

	replyErr error
	startErr error
	pollErr  error

	replyCalls int
	startCalls int
	pollCalls  int
}

// NewMockClient creates a mock capability. pollsToComplete below 1 is treated as 1.
func NewMockClient(pollsToComplete int) *MockClient {
	if pollsToComplete < 1 {
		pollsToComplete = 1
	}
	return &MockClient{
		pollsToComplete: pollsToComplete,
		jobs:            make(map[string]*mockJob),
		byKey:           make(map[string]string),
	}
}

// SetReplyError makes GenerateReply fail with err until cleared with nil.
func (m *MockClient) SetReplyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyErr = err
}

// SetStartError makes StartVideoJob fail with err until cleared with nil.
func (m *MockClient) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetPollError makes PollVideoJob fail with err until cleared with nil.
func (m *MockClient) SetPollError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErr = err
}

// FailJob makes the next poll of externalID report failure with info.
func (m *MockClient) FailJob(externalID, info string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[externalID]; ok {
		job.failInfo = info
	}
}

// Calls returns how many times each operation has been invoked.
func (m *MockClient) Calls() (reply, start, poll int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replyCalls, m.startCalls, m.pollCalls
}

// GenerateReply echoes the message with a short hint.
func (m *MockClient) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	m.mu.Lock()
	m.replyCalls++
	err := m.replyErr
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	msg := strings.TrimSpace(req.Message)
	return fmt.Sprintf("You said %q. Ask me to make a video about it whenever you're ready.", msg), nil
}

// StartVideoJob registers a job. Repeating an idempotency key returns the original handle.
func (m *MockClient) StartVideoJob(ctx context.Context, idempotencyKey string, spec store.VideoSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++

	if m.startErr != nil {
		return "", m.startErr
	}
	if id, ok := m.byKey[idempotencyKey]; ok {
		return id, nil
	}

	id := "mock-" + uuid.NewString()
	m.jobs[id] = &mockJob{spec: spec}
	if idempotencyKey != "" {
		m.byKey[idempotencyKey] = id
	}
	return id, nil
}

// PollVideoJob advances the job by one poll.
func (m *MockClient) PollVideoJob(ctx context.Context, externalID string) (*PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCalls++

	if m.pollErr != nil {
		return nil, m.pollErr
	}

	job, ok := m.jobs[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown video job %s", ErrRejected, externalID)
	}

	if job.failInfo != "" {
		return &PollResult{Status: PollFailed, ErrorInfo: job.failInfo}, nil
	}

	job.polls++
	if job.completed || job.polls >= m.pollsToComplete {
		job.completed = true
		return &PollResult{Status: PollSucceeded, ResultRef: "mock://videos/" + externalID + ".mp4"}, nil
	}
	return &PollResult{Status: PollRunning}, nil
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)
