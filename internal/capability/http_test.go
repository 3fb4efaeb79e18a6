// ABOUTME: Tests for the HTTP capability client against httptest servers
// ABOUTME: Covers request shape, error classification, timeouts and the circuit breaker

package capability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tubeagent/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHTTPClient(t *testing.T, handler http.Handler, mutate func(*HTTPConfig)) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := HTTPConfig{
		BaseURL:         srv.URL,
		VideoURL:        srv.URL + "/v1",
		APIKey:          "test-key",
		Model:           "test/model",
		RequestTimeout:  2 * time.Second,
		BreakerFailures: 3,
		BreakerTimeout:  time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHTTPClient(cfg, testLogger())
}

func TestHTTPClient_GenerateReply(t *testing.T) {
	var got chatRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Try a listicle format.  "}}]}`))
	})
	client := newTestHTTPClient(t, handler, nil)

	reply, err := client.GenerateReply(context.Background(), ReplyRequest{
		UserID: "u1",
		History: []*store.Turn{
			{Role: store.RoleUser, Text: "hi"},
			{Role: store.RoleAssistant, Text: "hello"},
		},
		Message: "any tips?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Try a listicle format.", reply)

	assert.Equal(t, "test/model", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[1].Content)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, chatMessage{Role: "user", Content: "any tips?"}, got.Messages[3])
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		unavailable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			})
			client := newTestHTTPClient(t, handler, nil)

			_, err := client.GenerateReply(context.Background(), ReplyRequest{Message: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, IsUnavailable(err), "IsUnavailable: %v", err)
			assert.Equal(t, !tt.unavailable, IsRejected(err), "IsRejected: %v", err)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPClient_EmptyCompletionIsUnavailable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	})
	client := newTestHTTPClient(t, handler, nil)

	_, err := client.GenerateReply(context.Background(), ReplyRequest{Message: "hi"})
	assert.True(t, IsUnavailable(err))
}

func TestHTTPClient_TimeoutIsUnavailable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	client := newTestHTTPClient(t, handler, func(cfg *HTTPConfig) {
		cfg.RequestTimeout = 50 * time.Millisecond
	})

	_, err := client.GenerateReply(context.Background(), ReplyRequest{Message: "hi"})
	assert.True(t, IsUnavailable(err), "timeout should be unavailable, got %v", err)
}

func TestHTTPClient_BreakerOpensOnTransientFailures(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client := newTestHTTPClient(t, handler, nil)

	for i := 0; i < 3; i++ {
		_, err := client.GenerateReply(context.Background(), ReplyRequest{Message: "hi"})
		require.True(t, IsUnavailable(err))
	}
	require.Equal(t, int32(3), hits.Load())

	_, err := client.GenerateReply(context.Background(), ReplyRequest{Message: "hi"})
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, int32(3), hits.Load(), "open breaker must not reach the server")
}

func TestHTTPClient_RejectionsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	client := newTestHTTPClient(t, handler, nil)

	for i := 0; i < 5; i++ {
		_, err := client.GenerateReply(context.Background(), ReplyRequest{Message: "hi"})
		require.True(t, IsRejected(err))
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestHTTPClient_VideoLifecycle(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-key-1", r.Header.Get("Idempotency-Key"))
		var body videoRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cats", body.Spec.Topic)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ext-42","status":"queued"}`))
	})
	mux.HandleFunc("GET /v1/videos/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ext-42", r.PathValue("id"))
		w.Header().Set("Content-Type", "application/json")
		switch polls.Add(1) {
		case 1:
			w.Write([]byte(`{"id":"ext-42","status":"queued"}`))
		case 2:
			w.Write([]byte(`{"id":"ext-42","status":"processing"}`))
		default:
			w.Write([]byte(`{"id":"ext-42","status":"completed","result_url":"https://cdn.example.com/ext-42.mp4"}`))
		}
	})
	client := newTestHTTPClient(t, mux, nil)
	ctx := context.Background()

	id, err := client.StartVideoJob(ctx, "job-key-1", store.VideoSpec{Topic: "cats", DurationSeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, "ext-42", id)

	res, err := client.PollVideoJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollPending, res.Status)

	res, err = client.PollVideoJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollRunning, res.Status)

	res, err = client.PollVideoJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollSucceeded, res.Status)
	assert.Equal(t, "https://cdn.example.com/ext-42.mp4", res.ResultRef)
}

func TestToPollResult_Failed(t *testing.T) {
	res := toPollResult(videoResponse{Status: "failed"})
	assert.Equal(t, PollFailed, res.Status)
	assert.Equal(t, "video generation failed", res.ErrorInfo)

	res = toPollResult(videoResponse{Status: "error", Error: "content policy"})
	assert.Equal(t, "content policy", res.ErrorInfo)
}
