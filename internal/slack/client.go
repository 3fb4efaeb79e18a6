// ABOUTME: Slack Web API client for posting replies and job notices
// ABOUTME: chat.postMessage and conversations.open over resty

package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/tubeagent/internal/store"
)

// ErrAPI is returned when Slack answers with ok=false.
var ErrAPI = errors.New("slack api error")

// ErrForeignOwner is returned when asked to notify a user who did not come from Slack.
var ErrForeignOwner = errors.New("job owner is not a slack user")

// UserPrefix namespaces Slack user ids within the service.
const UserPrefix = "slack:"

// UserID maps a Slack member id to a service user id.
func UserID(slackUser string) string {
	return UserPrefix + slackUser
}

// Client posts messages with a bot token.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

// NewClient creates a Slack API client. apiURL is normally https://slack.com/api.
func NewClient(apiURL, botToken string, logger *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetAuthToken(botToken).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetTimeout(10 * time.Second)

	return &Client{
		http:   rc,
		logger: logger.With("component", "slack"),
	}
}

func (c *Client) call(ctx context.Context, method string, body any) (*apiResponse, error) {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/" + method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrAPI, method, resp.StatusCode())
	}
	if !out.OK {
		return nil, fmt.Errorf("%w: %s: %s", ErrAPI, method, out.Error)
	}
	return &out, nil
}

// PostMessage posts text to channel. A non-empty mention addresses the
// message to that Slack user.
func (c *Client) PostMessage(ctx context.Context, channel, mention, text string) error {
	if mention != "" {
		text = fmt.Sprintf("<@%s> %s", mention, text)
	}
	_, err := c.call(ctx, "chat.postMessage", map[string]any{
		"channel": channel,
		"text":    text,
		"mrkdwn":  true,
	})
	if err != nil {
		return err
	}
	c.logger.Debug("message posted", "channel", channel)
	return nil
}

// OpenDM returns the direct message channel with a Slack user.
func (c *Client) OpenDM(ctx context.Context, slackUser string) (string, error) {
	out, err := c.call(ctx, "conversations.open", map[string]any{"users": slackUser})
	if err != nil {
		return "", err
	}
	return out.Channel.ID, nil
}

// Notify delivers a job completion notice to the channel the request came
// from, or to a direct message when no channel was recorded.
func (c *Client) Notify(ctx context.Context, job store.VideoJob, text string) error {
	slackUser, ok := strings.CutPrefix(job.OwnerUserID, UserPrefix)
	if !ok || slackUser == "" {
		c.logger.Warn("refusing notice for non-slack owner", "job_id", job.ID, "owner", job.OwnerUserID)
		return fmt.Errorf("%w: %s", ErrForeignOwner, job.OwnerUserID)
	}

	channel := job.Origin.Channel
	if channel == "" {
		var err error
		if channel, err = c.OpenDM(ctx, slackUser); err != nil {
			return fmt.Errorf("opening direct message: %w", err)
		}
	}
	return c.PostMessage(ctx, channel, slackUser, text)
}
