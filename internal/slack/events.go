// ABOUTME: Slack Events API webhook handler
// ABOUTME: Acknowledges immediately and answers messages asynchronously via the orchestrator

package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/2389/tubeagent/internal/conversation"
	"github.com/2389/tubeagent/internal/dedupe"
)

// User-facing texts
const (
	ErrorReply    = "Sorry, I encountered an error. Please try again."
	GreetingReply = "Hello! How can I help you create videos today?"
)

const maxEventBody = 1 << 20

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+(?:\|[^>]*)?>`)

// MessageHandler processes one chat message. Satisfied by *conversation.Orchestrator.
type MessageHandler interface {
	HandleMessage(ctx context.Context, req conversation.Request) (*conversation.Reply, error)
}

// Poster sends a message to a Slack channel. Satisfied by *Client.
type Poster interface {
	PostMessage(ctx context.Context, channel, mention, text string) error
}

type envelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
}

type messageEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	User    string `json:"user"`
	BotID   string `json:"bot_id"`
	Text    string `json:"text"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// EventHandler serves POST /slack/events.
type EventHandler struct {
	messages MessageHandler
	poster   Poster
	seen     *dedupe.Cache
	allowed  map[string]bool
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewEventHandler creates the webhook handler. An empty allowedChannels
// accepts every channel the bot is in.
func NewEventHandler(messages MessageHandler, poster Poster, seen *dedupe.Cache, allowedChannels []string, timeout time.Duration, logger *slog.Logger) *EventHandler {
	allowed := make(map[string]bool, len(allowedChannels))
	for _, ch := range allowedChannels {
		allowed[ch] = true
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &EventHandler{
		messages: messages,
		poster:   poster,
		seen:     seen,
		allowed:  allowed,
		timeout:  timeout,
		logger:   logger.With("component", "slack"),
	}
}

func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch env.Type {
	case "url_verification":
		writeJSON(w, map[string]string{"challenge": env.Challenge})
		return
	case "event_callback":
		h.dispatch(env)
	}

	writeJSON(w, map[string]bool{"ok": true})
}

func (h *EventHandler) dispatch(env envelope) {
	var ev messageEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		h.logger.Warn("malformed slack event", "event_id", env.EventID, "error", err)
		return
	}

	if ev.Type != "message" && ev.Type != "app_mention" {
		return
	}
	if ev.BotID != "" || ev.Subtype != "" || ev.User == "" || ev.Channel == "" {
		return
	}
	if len(h.allowed) > 0 && !h.allowed[ev.Channel] {
		h.logger.Debug("ignoring message from channel not in allow list", "channel", ev.Channel)
		return
	}

	// retries repeat the event_id; a mention also arrives as a plain message
	if env.EventID != "" && h.seen.CheckAndMark(dedupe.Key("slack-event", env.EventID)) {
		return
	}
	if ev.TS != "" && h.seen.CheckAndMark(dedupe.Key("slack-msg", ev.Channel, ev.TS)) {
		return
	}

	text := strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, ""))
	if text == "" {
		if ev.Type != "app_mention" {
			return
		}
		text = GreetingReply
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.process(ev, text)
	}()
}

func (h *EventHandler) process(ev messageEvent, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	answer := ErrorReply
	reply, err := h.messages.HandleMessage(ctx, conversation.Request{
		UserID:  UserID(ev.User),
		Text:    text,
		Surface: conversation.SurfaceSlack,
		Channel: ev.Channel,
	})
	if err != nil {
		h.logger.Error("failed to handle slack message", "user", ev.User, "channel", ev.Channel, "error", err)
	} else {
		answer = reply.Text
	}

	if err := h.poster.PostMessage(ctx, ev.Channel, ev.User, answer); err != nil {
		h.logger.Error("failed to post slack reply", "channel", ev.Channel, "error", err)
	}
}

// Wait blocks until every in-flight message has been answered.
func (h *EventHandler) Wait() {
	h.wg.Wait()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
