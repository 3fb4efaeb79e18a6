// ABOUTME: HTTP implementation of the capability Client over resty
// ABOUTME: Chat completions plus a video job API, guarded by a gobreaker circuit breaker

package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/2389/tubeagent/internal/metrics"
	"github.com/2389/tubeagent/internal/store"
)

// DefaultSystemPrompt frames the assistant for general chat replies.
const DefaultSystemPrompt = `You are a friendly assistant that helps people plan and produce YouTube videos.
Answer questions about video ideas, scripting, audiences and publishing concisely.
When the user wants a video made, the service starts the job for them; do not claim to have started one yourself.`

// HTTPConfig configures an HTTPClient
type HTTPConfig struct {
	BaseURL         string // chat completions base, e.g. https://openrouter.ai/api/v1
	VideoURL        string // video job API base
	APIKey          string
	Model           string
	SystemPrompt    string
	RequestTimeout  time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// HTTPClient talks to an OpenAI-compatible chat endpoint and a video job API.
type HTTPClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	cfg     HTTPConfig
	logger  *slog.Logger
}

// NewHTTPClient creates a capability client for the configured endpoints.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	logger = logger.With("component", "capability")

	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", "tubeagent/1.0").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "capability",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a rejected request says nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejected(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &HTTPClient{
		http:    client,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateReply asks the chat model for a reply given recent history.
func (c *HTTPClient) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	messages := make([]chatMessage, 0, len(req.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Message})

	var reply string
	err := c.call("generate_reply", func() error {
		var out chatResponse
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(chatRequest{Model: c.cfg.Model, Messages: messages}).
			SetResult(&out).
			SetError(&apiErr).
			Post(strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions")
		if err := classify(resp, err, apiErr.Error.Message); err != nil {
			return err
		}
		if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
			return fmt.Errorf("%w: empty completion", ErrUnavailable)
		}
		reply = strings.TrimSpace(out.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

type videoRequest struct {
	Spec store.VideoSpec `json:"spec"`
}

type videoResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// StartVideoJob submits a generation request and returns the backend's job handle.
func (c *HTTPClient) StartVideoJob(ctx context.Context, idempotencyKey string, spec store.VideoSpec) (string, error) {
	var id string
	err := c.call("start_video", func() error {
		var out videoResponse
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", idempotencyKey).
			SetBody(videoRequest{Spec: spec}).
			SetResult(&out).
			SetError(&apiErr).
			Post(strings.TrimRight(c.cfg.VideoURL, "/") + "/videos")
		if err := classify(resp, err, apiErr.Error.Message); err != nil {
			return err
		}
		if out.ID == "" {
			return fmt.Errorf("%w: video API returned no job id", ErrUnavailable)
		}
		id = out.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// PollVideoJob fetches the backend's current view of a job.
func (c *HTTPClient) PollVideoJob(ctx context.Context, externalID string) (*PollResult, error) {
	var result *PollResult
	err := c.call("poll_video", func() error {
		var out videoResponse
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", externalID).
			SetResult(&out).
			SetError(&apiErr).
			Get(strings.TrimRight(c.cfg.VideoURL, "/") + "/videos/{id}")
		if err := classify(resp, err, apiErr.Error.Message); err != nil {
			return err
		}
		result = toPollResult(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func toPollResult(out videoResponse) *PollResult {
	switch strings.ToLower(out.Status) {
	case "completed", "succeeded", "done":
		return &PollResult{Status: PollSucceeded, ResultRef: out.ResultURL}
	case "failed", "error", "cancelled":
		info := out.Error
		if info == "" {
			info = "video generation failed"
		}
		return &PollResult{Status: PollFailed, ErrorInfo: info}
	case "processing", "running", "rendering":
		return &PollResult{Status: PollRunning}
	default:
		return &PollResult{Status: PollPending}
	}
}

// call runs fn through the circuit breaker and records metrics.
func (c *HTTPClient) call(operation string, fn func() error) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status := "ok"
	switch {
	case IsRejected(err):
		status = "rejected"
	case err != nil:
		status = "unavailable"
	}
	metrics.RecordCapabilityCall(operation, status, time.Since(start))

	if err != nil {
		c.logger.Debug("capability call failed", "operation", operation, "error", err)
	}
	return err
}

// classify maps transport errors and HTTP statuses onto the capability error taxonomy.
func classify(resp *resty.Response, err error, detail string) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !resp.IsError() {
		return nil
	}

	if detail == "" {
		detail = http.StatusText(resp.StatusCode())
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, code, detail)
	}
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
