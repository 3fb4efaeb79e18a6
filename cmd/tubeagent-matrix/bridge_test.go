package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/tubeagent/internal/gateway"
	"github.com/2389/tubeagent/internal/store"
)

type sentMessage struct {
	room id.RoomID
	body string
}

type fakeRoom struct {
	mu     sync.Mutex
	sent   []sentMessage
	typing []bool
}

func (f *fakeRoom) SendMessageEvent(_ context.Context, roomID id.RoomID, _ event.Type, contentJSON interface{}, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	content := contentJSON.(*event.MessageEventContent)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{room: roomID, body: content.Body})
	return &mautrix.RespSendEvent{}, nil
}

func (f *fakeRoom) UserTyping(_ context.Context, _ id.RoomID, typing bool, _ time.Duration) (*mautrix.RespTyping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return &mautrix.RespTyping{}, nil
}

func (f *fakeRoom) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeAPI struct {
	mu       sync.Mutex
	chats    []string
	senders  []Sender
	reply    gateway.ChatResponse
	chatErr  error
	jobPolls int
	// pollsUntilDone is how many Job calls return running before completion
	pollsUntilDone int
}

func (f *fakeAPI) Chat(_ context.Context, sender Sender, _ string, text string) (*gateway.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
	f.senders = append(f.senders, sender)
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	reply := f.reply
	return &reply, nil
}

func (f *fakeAPI) Job(_ context.Context, _ Sender, jobID string) (*gateway.JobResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobPolls++
	if f.jobPolls <= f.pollsUntilDone {
		return &gateway.JobResponse{JobID: jobID, State: store.JobRunning}, nil
	}
	return &gateway.JobResponse{JobID: jobID, State: store.JobCompleted, Title: "Honey Bees", ResultRef: "https://videos.example/bees.mp4"}, nil
}

func (f *fakeAPI) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

func testBridgeConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Gateway.PollInterval.Duration = 5 * time.Millisecond
	return cfg
}

func newTestBridge(cfg *Config, api *fakeAPI) (*Bridge, *fakeRoom) {
	room := &fakeRoom{}
	b := newBridge(cfg, room, api, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.botID = "@tubebot:example.org"
	return b, room
}

func textEvent(eventID, sender, body string) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		RoomID:    "!room:example.org",
		Sender:    id.UserID(sender),
		Type:      event.EventMessage,
		Timestamp: time.Now().Add(time.Second).UnixMilli(),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestBridgeRepliesToMessage(t *testing.T) {
	api := &fakeAPI{reply: gateway.ChatResponse{Reply: "Hello there", Intent: "chat"}}
	cfg := testBridgeConfig()
	cfg.Bridge.TypingIndicator = true
	b, room := newTestBridge(cfg, api)

	b.handleMessageEvent(context.Background(), textEvent("$1", "@alice:example.org", "hi"))
	b.wg.Wait()
	b.shutdown()

	msgs := room.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, id.RoomID("!room:example.org"), msgs[0].room)
	assert.Equal(t, "Hello there", msgs[0].body)

	require.Len(t, api.senders, 1)
	assert.Equal(t, "@alice:example.org", api.senders[0].MXID)
	assert.Equal(t, "alice", api.senders[0].DisplayName)
	assert.Equal(t, []bool{true, false}, room.typing)
}

func TestBridgeIgnoresFilteredEvents(t *testing.T) {
	api := &fakeAPI{reply: gateway.ChatResponse{Reply: "ok"}}
	cfg := testBridgeConfig()
	cfg.Bridge.CommandPrefix = "!video "
	cfg.Bridge.AllowedRooms = []string{"!room:example.org"}
	b, room := newTestBridge(cfg, api)

	own := textEvent("$own", "@tubebot:example.org", "!video hi")
	old := textEvent("$old", "@alice:example.org", "!video hi")
	old.Timestamp = time.Now().Add(-time.Hour).UnixMilli()
	noPrefix := textEvent("$np", "@alice:example.org", "hello")
	emptyAfterPrefix := textEvent("$empty", "@alice:example.org", "!video ")
	otherRoom := textEvent("$other", "@alice:example.org", "!video hi")
	otherRoom.RoomID = "!elsewhere:example.org"
	notice := textEvent("$notice", "@alice:example.org", "!video hi")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice

	for _, evt := range []*event.Event{own, old, noPrefix, emptyAfterPrefix, otherRoom, notice} {
		b.handleMessageEvent(context.Background(), evt)
	}
	b.wg.Wait()
	b.shutdown()

	assert.Equal(t, 0, api.chatCount())
	assert.Empty(t, room.messages())
}

func TestBridgeStripsPrefixAndDedupes(t *testing.T) {
	api := &fakeAPI{reply: gateway.ChatResponse{Reply: "ok"}}
	cfg := testBridgeConfig()
	cfg.Bridge.CommandPrefix = "!video "
	b, _ := newTestBridge(cfg, api)

	evt := textEvent("$dup", "@alice:example.org", "!video   make one about bees")
	b.handleMessageEvent(context.Background(), evt)
	b.handleMessageEvent(context.Background(), evt)
	b.wg.Wait()
	b.shutdown()

	require.Equal(t, 1, api.chatCount())
	assert.Equal(t, "make one about bees", api.chats[0])
}

func TestBridgeGatewayErrorReply(t *testing.T) {
	api := &fakeAPI{chatErr: errors.New("connection refused")}
	b, room := newTestBridge(testBridgeConfig(), api)

	b.handleMessageEvent(context.Background(), textEvent("$1", "@alice:example.org", "hi"))
	b.wg.Wait()
	b.shutdown()

	msgs := room.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, errorReply, msgs[0].body)
}

func TestBridgeWatchesJobUntilDone(t *testing.T) {
	api := &fakeAPI{
		reply:          gateway.ChatResponse{Reply: "Got it! Job ID: job-1", JobID: "job-1", Intent: "video"},
		pollsUntilDone: 2,
	}
	b, room := newTestBridge(testBridgeConfig(), api)

	b.handleMessageEvent(context.Background(), textEvent("$1", "@alice:example.org", "make a video about bees"))

	require.Eventually(t, func() bool {
		return len(room.messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	b.shutdown()

	msgs := room.messages()
	assert.Contains(t, msgs[0].body, "job-1")
	assert.Contains(t, msgs[1].body, "is ready")
	assert.Contains(t, msgs[1].body, "https://videos.example/bees.mp4")
	assert.Equal(t, 3, api.jobPolls)
}

func TestBridgeShutdownStopsWatcher(t *testing.T) {
	api := &fakeAPI{
		reply:          gateway.ChatResponse{Reply: "started", JobID: "job-1"},
		pollsUntilDone: 1 << 30,
	}
	b, room := newTestBridge(testBridgeConfig(), api)

	b.handleMessageEvent(context.Background(), textEvent("$1", "@alice:example.org", "video please"))
	require.Eventually(t, func() bool { return len(room.messages()) == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		b.shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not stop the job watcher")
	}
	assert.Len(t, room.messages(), 1)
}

func TestCompletionTextForFailedJob(t *testing.T) {
	text := completionText(&gateway.JobResponse{JobID: "job-9", State: store.JobFailed, ErrorInfo: "render failed"})
	assert.Contains(t, text, "job-9")
	assert.Contains(t, text, "render failed")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
