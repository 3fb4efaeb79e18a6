// ABOUTME: HTTP client for the tubeagent JSON API
// ABOUTME: Acts on behalf of Matrix users with a bridge token and X-Acting-User

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/tubeagent/internal/auth"
	"github.com/2389/tubeagent/internal/conversation"
	"github.com/2389/tubeagent/internal/gateway"
)

// UserPrefix namespaces Matrix user IDs in the tubeagent user space.
const UserPrefix = "matrix:"

// ErrJobNotFound is returned when the gateway does not know the job or
// it belongs to someone else.
var ErrJobNotFound = errors.New("job not found")

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Message)
}

// Sender is the Matrix user a request acts for.
type Sender struct {
	MXID        string
	DisplayName string
}

// GatewayClient calls the tubeagent API.
type GatewayClient struct {
	client *resty.Client
}

// NewGatewayClient creates a client for baseURL. token may be empty when the
// server runs in development mode.
func NewGatewayClient(baseURL, token string, timeout time.Duration) *GatewayClient {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &GatewayClient{client: client}
}

func (g *GatewayClient) request(ctx context.Context, sender Sender) *resty.Request {
	req := g.client.R().
		SetContext(ctx).
		SetHeader(auth.ActingUserHeader, UserPrefix+sender.MXID)
	if sender.DisplayName != "" {
		req.SetHeader(auth.ActingNameHeader, sender.DisplayName)
	}
	return req
}

// Chat sends one message from sender in roomID.
func (g *GatewayClient) Chat(ctx context.Context, sender Sender, roomID, text string) (*gateway.ChatResponse, error) {
	var out gateway.ChatResponse
	var apiErr struct {
		Error string `json:"error"`
	}

	resp, err := g.request(ctx, sender).
		SetBody(gateway.ChatRequest{
			Text:        text,
			DisplayName: sender.DisplayName,
			Surface:     conversation.SurfaceMatrix,
			Channel:     roomID,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("sending chat: %w", err)
	}
	if resp.IsError() {
		return nil, &GatewayError{Status: resp.StatusCode(), Message: apiErr.Error}
	}
	return &out, nil
}

// Job fetches a job owned by sender.
func (g *GatewayClient) Job(ctx context.Context, sender Sender, jobID string) (*gateway.JobResponse, error) {
	var out gateway.JobResponse
	var apiErr struct {
		Error string `json:"error"`
	}

	resp, err := g.request(ctx, sender).
		SetPathParam("id", jobID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/jobs/{id}")
	if err != nil {
		return nil, fmt.Errorf("fetching job: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if resp.IsError() {
		return nil, &GatewayError{Status: resp.StatusCode(), Message: apiErr.Error}
	}
	return &out, nil
}
