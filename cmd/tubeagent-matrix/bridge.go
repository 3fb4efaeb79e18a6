// ABOUTME: Matrix bridge core routing room messages to the tubeagent API
// ABOUTME: Watches started video jobs and posts the outcome back to the room

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/2389/tubeagent/internal/conversation"
	"github.com/2389/tubeagent/internal/dedupe"
	"github.com/2389/tubeagent/internal/gateway"
	"github.com/2389/tubeagent/internal/store"
)

// errorReply is posted when the gateway cannot be reached.
const errorReply = "Sorry, I encountered an error. Please try again."

const (
	// typingTimeout is how long the typing indicator shows.
	typingTimeout = 30 * time.Second
	// networkTimeout bounds Matrix API calls.
	networkTimeout = 30 * time.Second
)

// errJobPending signals the watcher to poll again.
var errJobPending = errors.New("job still in progress")

// roomClient is the slice of the Matrix client API the bridge posts with.
type roomClient interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// chatAPI is the slice of the gateway API the bridge uses.
type chatAPI interface {
	Chat(ctx context.Context, sender Sender, roomID, text string) (*gateway.ChatResponse, error)
	Job(ctx context.Context, sender Sender, jobID string) (*gateway.JobResponse, error)
}

// Bridge connects Matrix rooms to tubeagent.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	room    roomClient
	gateway chatAPI
	seen    *dedupe.Cache
	botID   id.UserID
	started time.Time
	logger  *slog.Logger

	wg sync.WaitGroup

	// ctx is the parent context for message and watcher goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a bridge. Call Login before Run.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	b := newBridge(cfg, client, NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout.Duration), logger)
	b.matrix = client
	return b, nil
}

func newBridge(cfg *Config, room roomClient, api chatAPI, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config:  cfg,
		room:    room,
		gateway: api,
		seen:    dedupe.New(time.Hour, 10_000),
		started: time.Now(),
		logger:  logger.With("component", "matrix"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Login authenticates with the homeserver using the configured password.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: b.config.Matrix.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}
	b.botID = resp.UserID
	b.logger.Info("logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// UserID returns the bot's Matrix user ID after Login.
func (b *Bridge) UserID() string {
	return b.botID.String()
}

// Run syncs until ctx is canceled, then waits for in-flight work.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.botID,
		"gateway", b.config.Gateway.URL,
	)
	defer b.shutdown()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// shutdown cancels watchers and waits for goroutines to exit.
func (b *Bridge) shutdown() {
	b.cancel()
	b.wg.Wait()
}

// handleMessageEvent filters incoming Matrix messages and hands accepted
// ones to a goroutine so sync is never blocked.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	text, ok := b.accept(evt)
	if !ok {
		return
	}

	b.logger.Info("received message",
		"room", evt.RoomID,
		"sender", evt.Sender,
		"content", truncate(text, 50),
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(b.ctx, evt.RoomID, evt.Sender, text)
	}()
}

// accept returns the message text to forward, or false if evt is ignored.
func (b *Bridge) accept(evt *event.Event) (string, bool) {
	if evt.Sender == b.botID {
		return "", false
	}

	// sync replays recent history after a restart
	if time.UnixMilli(evt.Timestamp).Before(b.started) {
		return "", false
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return "", false
	}

	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID)
		return "", false
	}

	text := strings.TrimSpace(content.Body)
	if prefix := b.config.Bridge.CommandPrefix; prefix != "" {
		if !strings.HasPrefix(text, prefix) {
			return "", false
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	if text == "" {
		return "", false
	}

	if b.seen.CheckAndMark(dedupe.Key("matrix", evt.ID.String())) {
		b.logger.Debug("duplicate event", "event_id", evt.ID)
		return "", false
	}
	return text, true
}

// processMessage forwards one message and posts the reply.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, text string) {
	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	from := Sender{MXID: sender.String(), DisplayName: sender.Localpart()}

	reply, err := b.gateway.Chat(ctx, from, roomID.String(), text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("gateway request failed", "room", roomID, "error", err)
		b.sendMessage(roomID, errorReply)
		return
	}

	b.sendMessage(roomID, reply.Reply)

	if reply.JobID != "" {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.watchJob(ctx, roomID, from, reply.JobID)
		}()
	}
}

// watchJob polls the gateway until the job finishes and posts the outcome.
func (b *Bridge) watchJob(ctx context.Context, roomID id.RoomID, sender Sender, jobID string) {
	logger := b.logger.With("job_id", jobID, "room", roomID)

	ctx, cancel := context.WithTimeout(ctx, b.config.Gateway.WatchTimeout.Duration)
	defer cancel()

	var job *gateway.JobResponse
	poll := func() error {
		j, err := b.gateway.Job(ctx, sender, jobID)
		if errors.Is(err, ErrJobNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			logger.Warn("job poll failed", "error", err)
			return err
		}
		if !j.State.Terminal() {
			return errJobPending
		}
		job = j
		return nil
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(b.config.Gateway.PollInterval.Duration), ctx)
	if err := backoff.Retry(poll, policy); err != nil {
		if b.ctx.Err() == nil {
			logger.Warn("stopped watching job", "error", err)
		}
		return
	}

	logger.Info("job finished", "state", job.State)
	b.sendMessage(roomID, completionText(job))
}

// completionText renders a finished job the same way the server's own
// notifiers do.
func completionText(job *gateway.JobResponse) string {
	return conversation.CompletionText(store.VideoJob{
		ID:        job.JobID,
		State:     job.State,
		Spec:      store.VideoSpec{Title: job.Title},
		ResultRef: job.ResultRef,
		ErrorInfo: job.ErrorInfo,
	})
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.config.Bridge.AllowedRooms, roomID)
}

// setTyping sends a typing indicator to a room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.room.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID, "error", err)
	}
}

// sendMessage posts text to a room, rendering markdown.
func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()

	content := format.RenderMarkdown(text, true, false)
	if _, err := b.room.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		b.logger.Error("failed to send message", "room", roomID, "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
