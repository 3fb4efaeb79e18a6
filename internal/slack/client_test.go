// ABOUTME: Tests for the Slack Web API client
// ABOUTME: Runs against an httptest server standing in for slack.com/api

package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tubeagent/internal/store"
)

type fakeSlackAPI struct {
	mu      sync.Mutex
	calls   []string
	bodies  []map[string]any
	auth    string
	failing string
}

func (f *fakeSlackAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, r.URL.Path)
	f.bodies = append(f.bodies, body)
	f.auth = r.Header.Get("Authorization")
	failing := f.failing
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing != "" {
		_, _ = w.Write([]byte(`{"ok":false,"error":"` + failing + `"}`))
		return
	}
	if r.URL.Path == "/conversations.open" {
		_, _ = w.Write([]byte(`{"ok":true,"channel":{"id":"D999"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func newTestClient(t *testing.T) (*Client, *fakeSlackAPI) {
	t.Helper()
	api := &fakeSlackAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "xoxb-test", testLogger()), api
}

func TestClient_PostMessage(t *testing.T) {
	c, api := newTestClient(t)

	require.NoError(t, c.PostMessage(context.Background(), "C1", "U1", "hello"))

	require.Equal(t, []string{"/chat.postMessage"}, api.calls)
	assert.Equal(t, "Bearer xoxb-test", api.auth)
	assert.Equal(t, "C1", api.bodies[0]["channel"])
	assert.Equal(t, "<@U1> hello", api.bodies[0]["text"])
	assert.Equal(t, true, api.bodies[0]["mrkdwn"])
}

func TestClient_PostMessageWithoutMention(t *testing.T) {
	c, api := newTestClient(t)

	require.NoError(t, c.PostMessage(context.Background(), "C1", "", "hello"))
	assert.Equal(t, "hello", api.bodies[0]["text"])
}

func TestClient_APIError(t *testing.T) {
	c, api := newTestClient(t)
	api.failing = "channel_not_found"

	err := c.PostMessage(context.Background(), "C1", "U1", "hello")
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestClient_NotifyOriginChannel(t *testing.T) {
	c, api := newTestClient(t)
	job := store.VideoJob{OwnerUserID: "slack:U1", Origin: store.Origin{Surface: "slack", Channel: "C7"}}

	require.NoError(t, c.Notify(context.Background(), job, "ready"))

	require.Equal(t, []string{"/chat.postMessage"}, api.calls)
	assert.Equal(t, "C7", api.bodies[0]["channel"])
	assert.Equal(t, "<@U1> ready", api.bodies[0]["text"])
}

func TestClient_NotifyFallsBackToDM(t *testing.T) {
	c, api := newTestClient(t)
	job := store.VideoJob{OwnerUserID: "slack:U1", Origin: store.Origin{Surface: "slack"}}

	require.NoError(t, c.Notify(context.Background(), job, "ready"))

	require.Equal(t, []string{"/conversations.open", "/chat.postMessage"}, api.calls)
	assert.Equal(t, "U1", api.bodies[0]["users"])
	assert.Equal(t, "D999", api.bodies[1]["channel"])
}

func TestClient_NotifyRefusesForeignOwner(t *testing.T) {
	c, api := newTestClient(t)
	job := store.VideoJob{OwnerUserID: "web-mallory", Origin: store.Origin{Surface: "slack", Channel: "C-VICTIM"}}

	err := c.Notify(context.Background(), job, "ready")
	require.ErrorIs(t, err, ErrForeignOwner)
	assert.Empty(t, api.calls)
}

func TestUserID(t *testing.T) {
	assert.Equal(t, "slack:U123", UserID("U123"))
}
