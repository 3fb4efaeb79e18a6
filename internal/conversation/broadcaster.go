// ABOUTME: In-memory fan-out broadcaster for per-user job events
// ABOUTME: Feeds dashboard SSE streams with job creation and completion updates

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tubeagent/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Job event types
const (
	EventJobCreated   = "job_created"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
)

// JobEvent is a user-visible change to one of the user's jobs
type JobEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	JobID     string         `json:"job_id"`
	State     store.JobState `json:"state"`
	Title     string         `json:"title"`
	ResultRef string         `json:"result_ref,omitempty"`
	ErrorInfo string         `json:"error_info,omitempty"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewJobEvent builds an event for job with a human-readable text.
func NewJobEvent(eventType string, job store.VideoJob, text string) *JobEvent {
	return &JobEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     job.ID,
		State:     job.State,
		Title:     job.Spec.Title,
		ResultRef: job.ResultRef,
		ErrorInfo: job.ErrorInfo,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// EventBroadcaster provides in-memory pub/sub of JobEvents keyed by user ID.
// Delivery is best effort: the dashboard re-reads job state on reconnect.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *JobEvent // userID -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *JobEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events of the given user. The subscription is
// removed and its channel closed when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, userID string) (<-chan *JobEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *JobEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan *JobEvent)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish sends an event to every subscriber of userID.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(userID string, event *JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[userID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "user_id", userID, "event_id", event.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for userID.
func (b *EventBroadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}

	b.logger.Debug("broadcaster closed")
}
