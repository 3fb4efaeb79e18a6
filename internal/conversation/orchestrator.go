// ABOUTME: Conversation Orchestrator: turns inbound messages into replies or video jobs
// ABOUTME: Owns per-user serialization, capability retries and all user-facing failure text

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/2389/tubeagent/internal/capability"
	"github.com/2389/tubeagent/internal/intent"
	"github.com/2389/tubeagent/internal/jobs"
	"github.com/2389/tubeagent/internal/keylock"
	"github.com/2389/tubeagent/internal/metrics"
	"github.com/2389/tubeagent/internal/session"
	"github.com/2389/tubeagent/internal/store"
)

// ErrInvalidRequest is returned for messages without a user or text
var ErrInvalidRequest = errors.New("message requires a user id and text")

// User-facing replies
const (
	replyTryAgain      = "I'm having trouble reaching the AI service right now. Please try again in a moment."
	replyChatRejected  = "Sorry, the AI service declined that request. Could you rephrase it?"
	replyVideoRejected = "Sorry, the video service declined that request. Try a different topic or wording."
	replyNeedTopic     = "I'd love to make that video! What should it be about? For example: \"make a video about the history of coffee\"."
	replyBadDuration   = "Videos can be between %d seconds and %d minutes long. How long should this one be?"
)

// persistTimeout bounds the final writes of a message, which run even after
// the caller has gone away.
const persistTimeout = 10 * time.Second

// Surface names
const (
	SurfaceWeb    = "web"
	SurfaceSlack  = "slack"
	SurfaceMatrix = "matrix"
)

// SessionStore is the subset of the Session Store the orchestrator uses
type SessionStore interface {
	Load(ctx context.Context, userID, displayName string) (*session.Session, error)
	AppendTurn(ctx context.Context, userID, role, text string) (store.Turn, error)
	RecordExchange(ctx context.Context, userID string, ex session.Exchange) ([]store.Turn, error)
}

// JobTracker is the subset of the Video Job Tracker the orchestrator uses
type JobTracker interface {
	Create(ctx context.Context, req jobs.CreateRequest) (*store.VideoJob, error)
	Subscribe(ctx context.Context, jobID string, fn jobs.NotifyFunc) (func(), error)
	ListActive(ctx context.Context) ([]*store.VideoJob, error)
	ListByOwner(ctx context.Context, ownerUserID string, limit int) ([]*store.VideoJob, error)
}

// Notifier delivers a job completion message to a chat surface
type Notifier interface {
	Notify(ctx context.Context, job store.VideoJob, text string) error
}

// Request is one inbound chat message
type Request struct {
	UserID      string
	DisplayName string
	Text        string
	Surface     string // where the message came from; routes completion notices
	Channel     string // surface-specific reply destination
}

// Reply is the orchestrator's answer to a Request
type Reply struct {
	Text   string
	JobID  string
	Intent intent.Kind

	outcome string
	job     *store.VideoJob
}

// Options tunes the orchestrator
type Options struct {
	Classifier   intent.Classifier
	Extractor    intent.Extractor
	HistoryTurns int
	ReplyTimeout time.Duration
	RetryBackoff time.Duration
}

// Orchestrator is the single entry point for inbound messages.
type Orchestrator struct {
	sessions    SessionStore
	tracker     JobTracker
	client      capability.Client
	broadcaster *EventBroadcaster
	classifier  intent.Classifier
	extractor   intent.Extractor
	opts        Options
	locks       *keylock.Locker
	logger      *slog.Logger

	notifiersMu sync.RWMutex
	notifiers   map[string]Notifier
}

// New creates an Orchestrator. Nil classifier or extractor in opts select the defaults.
func New(sessions SessionStore, tracker JobTracker, client capability.Client, broadcaster *EventBroadcaster, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Classifier == nil {
		opts.Classifier = intent.NewKeywordClassifier()
	}
	if opts.Extractor == nil {
		opts.Extractor = intent.NewSpecExtractor()
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 45 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if broadcaster == nil {
		broadcaster = NewEventBroadcaster(logger)
	}

	return &Orchestrator{
		sessions:    sessions,
		tracker:     tracker,
		client:      client,
		broadcaster: broadcaster,
		classifier:  opts.Classifier,
		extractor:   opts.Extractor,
		opts:        opts,
		locks:       keylock.New(),
		logger:      logger.With("component", "conversation"),
		notifiers:   make(map[string]Notifier),
	}
}

// RegisterNotifier routes completion notices for jobs started from surface to n.
func (o *Orchestrator) RegisterNotifier(surface string, n Notifier) {
	o.notifiersMu.Lock()
	defer o.notifiersMu.Unlock()
	o.notifiers[surface] = n
}

// Broadcaster returns the event broadcaster job events are published on.
func (o *Orchestrator) Broadcaster() *EventBroadcaster {
	return o.broadcaster
}

// HandleMessage processes one inbound message for a user. Messages from the
// same user are handled one at a time, in arrival order. The user turn, the
// reply and any job link are committed together once the outcome is known,
// so a failure never leaves half an exchange behind. A storage failure
// returns an error; every other failure becomes a reply the user can read.
func (o *Orchestrator) HandleMessage(ctx context.Context, req Request) (*Reply, error) {
	text := strings.TrimSpace(req.Text)
	if req.UserID == "" || text == "" {
		return nil, ErrInvalidRequest
	}
	if req.Surface == "" {
		req.Surface = SurfaceWeb
	}

	unlock := o.locks.Lock(req.UserID)
	defer unlock()

	sess, err := o.sessions.Load(ctx, req.UserID, req.DisplayName)
	if err != nil {
		metrics.RecordMessage("unknown", "storage_error")
		return nil, fmt.Errorf("loading session: %w", err)
	}

	kind := o.classifier.Classify(text)

	var reply *Reply
	switch kind {
	case intent.VideoRequest:
		reply, err = o.handleVideo(ctx, req, text)
	default:
		// ambiguous messages are answered conversationally
		reply, err = o.handleChat(ctx, req.UserID, sess.Recent(o.opts.HistoryTurns), text)
	}
	if err != nil {
		metrics.RecordMessage(kind.String(), "storage_error")
		return nil, err
	}
	reply.Intent = kind

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if _, err := o.sessions.RecordExchange(pctx, req.UserID, session.Exchange{
		UserText:      text,
		AssistantText: reply.Text,
		JobID:         reply.JobID,
	}); err != nil {
		metrics.RecordMessage(kind.String(), "storage_error")
		return nil, fmt.Errorf("recording exchange: %w", err)
	}

	if reply.job != nil {
		o.broadcaster.Publish(req.UserID, NewJobEvent(EventJobCreated, *reply.job, reply.Text))
	}

	metrics.RecordMessage(kind.String(), reply.outcome)
	o.logger.Debug("message handled",
		"user_id", req.UserID,
		"surface", req.Surface,
		"intent", kind.String(),
		"outcome", reply.outcome,
		"job_id", reply.JobID,
	)
	return reply, nil
}

// handleChat answers status and help commands itself and sends everything
// else to the capability.
func (o *Orchestrator) handleChat(ctx context.Context, userID string, history []store.Turn, text string) (*Reply, error) {
	switch intent.DetectCommand(text) {
	case intent.StatusCommand:
		return o.statusReply(ctx, userID)
	case intent.HelpCommand:
		return &Reply{Text: helpText, outcome: "help"}, nil
	}

	turns := make([]*store.Turn, len(history))
	for i := range history {
		turns[i] = &history[i]
	}

	var answer string
	err := o.withRetry(ctx, "generate_reply", func(ctx context.Context) error {
		var err error
		answer, err = o.client.GenerateReply(ctx, capability.ReplyRequest{
			UserID:  userID,
			History: turns,
			Message: text,
		})
		return err
	})

	switch {
	case err == nil:
		return &Reply{Text: answer, outcome: "replied"}, nil
	case capability.IsRejected(err):
		o.logger.Info("reply rejected by capability", "user_id", userID, "error", err)
		return &Reply{Text: replyChatRejected, outcome: "rejected"}, nil
	default:
		o.logger.Warn("reply generation unavailable", "user_id", userID, "error", err)
		return &Reply{Text: replyTryAgain, outcome: "unavailable"}, nil
	}
}

func (o *Orchestrator) handleVideo(ctx context.Context, req Request, text string) (*Reply, error) {
	spec, err := o.extractor.Extract(text)
	if err != nil {
		return &Reply{Text: clarifyingReply(err), outcome: "clarify"}, nil
	}

	// stable across the retry so the capability can de-duplicate the start
	jobID := uuid.New().String()

	var job *store.VideoJob
	err = o.withRetry(ctx, "start_video", func(ctx context.Context) error {
		var err error
		job, err = o.tracker.Create(ctx, jobs.CreateRequest{
			ID:          jobID,
			OwnerUserID: req.UserID,
			Spec:        spec,
			Origin:      store.Origin{Surface: req.Surface, Channel: req.Channel},
		})
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, store.ErrStorageUnavailable):
		return nil, fmt.Errorf("creating video job: %w", err)
	case capability.IsRejected(err):
		o.logger.Info("video request rejected by capability", "user_id", req.UserID, "error", err)
		return &Reply{Text: replyVideoRejected, outcome: "rejected"}, nil
	default:
		o.logger.Warn("video capability unavailable", "user_id", req.UserID, "error", err)
		return &Reply{Text: replyTryAgain, outcome: "unavailable"}, nil
	}

	// the job exists now, so its completion is delivered whatever happens next
	wctx, cancel := persistContext(ctx)
	o.watch(wctx, job.ID)
	cancel()

	ack := fmt.Sprintf("Got it! I've started your video %q (%d seconds, %s style). Job ID: %s. I'll let you know when it's ready.",
		spec.Title, spec.DurationSeconds, spec.Style, job.ID)
	return &Reply{Text: ack, JobID: job.ID, outcome: "job_started", job: job}, nil
}

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// withRetry runs fn under the reply timeout, retrying exactly once when the
// capability reports a transient failure. Timeouts count as transient unless
// they came from storage, which is never retried.
func (o *Orchestrator) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.opts.RetryBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, 1), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, o.opts.ReplyTimeout)
		defer cancel()

		err := fn(cctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) && !capability.IsUnavailable(err) && !capability.IsRejected(err) {
			err = fmt.Errorf("%w: %v", capability.ErrUnavailable, err)
		}
		if capability.IsUnavailable(err) {
			o.logger.Debug("capability unavailable", "operation", operation, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func clarifyingReply(err error) string {
	var verr *intent.ValidationError
	if errors.As(err, &verr) && len(verr.Missing) == 0 {
		if _, ok := verr.Invalid["duration"]; ok {
			return fmt.Sprintf(replyBadDuration, intent.MinDuration, intent.MaxDuration/60)
		}
	}
	return replyNeedTopic
}

// watch subscribes the completion handler for jobID. Failures are logged only.
func (o *Orchestrator) watch(ctx context.Context, jobID string) {
	if _, err := o.tracker.Subscribe(ctx, jobID, o.onJobFinished); err != nil {
		o.logger.Warn("failed to watch video job", "job_id", jobID, "error", err)
	}
}

// onJobFinished records the outcome in the owner's session, publishes it to
// dashboard subscribers, and forwards it to the surface the job came from.
func (o *Orchestrator) onJobFinished(ctx context.Context, job store.VideoJob) error {
	text := CompletionText(job)

	var errs []error

	unlock := o.locks.Lock(job.OwnerUserID)
	if _, err := o.sessions.AppendTurn(ctx, job.OwnerUserID, store.RoleAssistant, text); err != nil {
		errs = append(errs, fmt.Errorf("recording completion turn: %w", err))
	}
	unlock()

	eventType := EventJobCompleted
	if job.State == store.JobFailed {
		eventType = EventJobFailed
	}
	o.broadcaster.Publish(job.OwnerUserID, NewJobEvent(eventType, job, text))

	o.notifiersMu.RLock()
	n, ok := o.notifiers[job.Origin.Surface]
	o.notifiersMu.RUnlock()

	if ok {
		if err := n.Notify(ctx, job, text); err != nil {
			metrics.RecordNotification(job.Origin.Surface, "error")
			errs = append(errs, fmt.Errorf("notifying %s: %w", job.Origin.Surface, err))
		} else {
			metrics.RecordNotification(job.Origin.Surface, "ok")
		}
	}

	return errors.Join(errs...)
}

// CompletionText is the message sent when a job finishes.
func CompletionText(job store.VideoJob) string {
	title := jobTitle(job)
	if job.State == store.JobCompleted {
		return fmt.Sprintf("Your video %q is ready: %s", title, job.ResultRef)
	}
	return fmt.Sprintf("Sorry, your video %q could not be created: %s", title, job.ErrorInfo)
}

func jobTitle(job store.VideoJob) string {
	if job.Spec.Title == "" {
		return job.ID
	}
	return job.Spec.Title
}

// Resume re-attaches completion handlers to every unfinished job, for use at
// startup. Returns how many jobs are being watched.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	active, err := o.tracker.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active jobs: %w", err)
	}
	for _, job := range active {
		o.watch(ctx, job.ID)
	}
	if len(active) > 0 {
		o.logger.Info("resumed watching video jobs", "count", len(active))
	}
	return len(active), nil
}
