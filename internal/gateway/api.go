// ABOUTME: JSON API handlers for chat, sessions and video jobs
// ABOUTME: Every handler acts for the identity resolved by the auth middleware

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/tubeagent/internal/auth"
	"github.com/2389/tubeagent/internal/conversation"
	"github.com/2389/tubeagent/internal/store"
)

const maxRequestBody = 64 << 10

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	Text        string `json:"text"`
	DisplayName string `json:"display_name,omitempty"`
	Surface     string `json:"surface,omitempty"`
	Channel     string `json:"channel,omitempty"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	Reply  string `json:"reply"`
	JobID  string `json:"job_id,omitempty"`
	Intent string `json:"intent"`
}

// TurnResponse is one conversation turn.
type TurnResponse struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResponse is the JSON response for GET /api/session.
type SessionResponse struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name,omitempty"`
	Turns       []TurnResponse `json:"turns"`
	JobIDs      []string       `json:"job_ids"`
}

// JobResponse describes one video job.
type JobResponse struct {
	JobID           string         `json:"job_id"`
	State           store.JobState `json:"state"`
	Title           string         `json:"title"`
	Topic           string         `json:"topic"`
	DurationSeconds int            `json:"duration_seconds"`
	Style           string         `json:"style"`
	ResultRef       string         `json:"result_ref,omitempty"`
	ErrorInfo       string         `json:"error_info,omitempty"`
	PollCount       int            `json:"poll_count"`
	Surface         string         `json:"surface,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// JobStatsResponse summarizes a user's jobs.
type JobStatsResponse struct {
	Total       int     `json:"total"`
	Active      int     `json:"active"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"` // percent of finished jobs
}

// JobListResponse is the JSON response for GET /api/jobs.
type JobListResponse struct {
	Jobs  []JobResponse    `json:"jobs"`
	Stats JobStatsResponse `json:"stats"`
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", g.handleChat)
	mux.HandleFunc("GET /api/session", g.handleSession)
	mux.HandleFunc("GET /api/jobs", g.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", g.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/refresh", g.handleRefreshJob)
	mux.HandleFunc("GET /api/events", g.handleEvents)
}

func toJobResponse(job *store.VideoJob) JobResponse {
	return JobResponse{
		JobID:           job.ID,
		State:           job.State,
		Title:           job.Spec.Title,
		Topic:           job.Spec.Topic,
		DurationSeconds: job.Spec.DurationSeconds,
		Style:           job.Spec.Style,
		ResultRef:       job.ResultRef,
		ErrorInfo:       job.ErrorInfo,
		PollCount:       job.PollCount,
		Surface:         job.Origin.Surface,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

func toStatsResponse(s *store.JobStats) JobStatsResponse {
	return JobStatsResponse{
		Total:       s.Total,
		Active:      s.Created + s.Running,
		Completed:   s.Completed,
		Failed:      s.Failed,
		SuccessRate: s.SuccessRate(),
	}
}

// identity returns the caller, writing a 401 if the middleware was bypassed.
func (g *Gateway) identity(w http.ResponseWriter, r *http.Request) *auth.Identity {
	id := auth.FromContext(r.Context())
	if id == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
	}
	return id
}

// handleChat handles POST /api/chat.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	id := g.identity(w, r)
	if id == nil {
		return
	}

	req, err := parseChatRequest(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = id.DisplayName
	}
	surface, channel, status, err := chatOrigin(id, req)
	if err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}

	reply, err := g.orchestrator.HandleMessage(r.Context(), conversation.Request{
		UserID:      id.UserID,
		DisplayName: displayName,
		Text:        req.Text,
		Surface:     surface,
		Channel:     channel,
	})
	if err != nil {
		g.sendStoreError(w, err, "failed to handle message")
		return
	}

	g.sendJSON(w, http.StatusOK, ChatResponse{
		Reply:  reply.Text,
		JobID:  reply.JobID,
		Intent: reply.Intent.String(),
	})
}

// chatOrigin decides which surface a chat request belongs to. Direct callers
// are always web. Only a bridge may name its own surface and channel, and
// Slack traffic only arrives through the Slack events endpoint.
func chatOrigin(id *auth.Identity, req *ChatRequest) (surface, channel string, status int, err error) {
	switch req.Surface {
	case "", conversation.SurfaceWeb:
		surface = conversation.SurfaceWeb
	case conversation.SurfaceMatrix:
		surface = req.Surface
	case conversation.SurfaceSlack:
		return "", "", http.StatusBadRequest, errors.New("slack messages must arrive through the slack events endpoint")
	default:
		return "", "", http.StatusBadRequest, errors.New("unknown surface")
	}

	if !id.Bridged() {
		if surface != conversation.SurfaceWeb || req.Channel != "" {
			return "", "", http.StatusForbidden, errors.New("surface and channel can only be set by a bridge")
		}
		return surface, "", 0, nil
	}
	if surface == conversation.SurfaceWeb {
		return surface, "", 0, nil
	}
	return surface, req.Channel, 0, nil
}

// handleSession handles GET /api/session.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	id := g.identity(w, r)
	if id == nil {
		return
	}

	resp := SessionResponse{
		UserID: id.UserID,
		Turns:  []TurnResponse{},
		JobIDs: []string{},
	}

	sess, err := g.sessions.List(r.Context(), id.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// no conversation yet
	case err != nil:
		g.sendStoreError(w, err, "failed to load session")
		return
	default:
		resp.DisplayName = sess.User.DisplayName
		for _, t := range sess.Turns {
			resp.Turns = append(resp.Turns, TurnResponse{Seq: t.Seq, Role: t.Role, Text: t.Text, CreatedAt: t.CreatedAt})
		}
		resp.JobIDs = append(resp.JobIDs, sess.JobIDs...)
	}

	g.sendJSON(w, http.StatusOK, resp)
}

// handleListJobs handles GET /api/jobs?limit=N.
func (g *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	id := g.identity(w, r)
	if id == nil {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	list, err := g.tracker.ListByOwner(r.Context(), id.UserID, limit)
	if err != nil {
		g.sendStoreError(w, err, "failed to list jobs")
		return
	}
	stats, err := g.tracker.Stats(r.Context(), id.UserID)
	if err != nil {
		g.sendStoreError(w, err, "failed to load job stats")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(list)), Stats: toStatsResponse(stats)}
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// ownedJob loads a job and hides it from anyone but its owner.
func (g *Gateway) ownedJob(w http.ResponseWriter, r *http.Request, userID string) *store.VideoJob {
	job, err := g.tracker.GetStatus(r.Context(), r.PathValue("id"))
	if err == nil && job.OwnerUserID != userID {
		err = store.ErrNotFound
	}
	if err != nil {
		g.sendStoreError(w, err, "failed to load job")
		return nil
	}
	return job
}

// handleGetJob handles GET /api/jobs/{id}.
func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := g.identity(w, r)
	if id == nil {
		return
	}
	job := g.ownedJob(w, r, id.UserID)
	if job == nil {
		return
	}
	g.sendJSON(w, http.StatusOK, toJobResponse(job))
}

// handleRefreshJob handles POST /api/jobs/{id}/refresh.
func (g *Gateway) handleRefreshJob(w http.ResponseWriter, r *http.Request) {
	id := g.identity(w, r)
	if id == nil {
		return
	}
	if g.ownedJob(w, r, id.UserID) == nil {
		return
	}

	job, err := g.tracker.RefreshStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendStoreError(w, err, "failed to refresh job")
		return
	}
	g.sendJSON(w, http.StatusOK, toJobResponse(job))
}

// sendStoreError maps storage errors to status codes.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, conversation.ErrInvalidRequest):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrStorageUnavailable):
		g.logger.Error(msg, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		g.logger.Error(msg, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// parseChatRequest parses and validates a ChatRequest.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Text == "" {
		return nil, errors.New("text is required")
	}
	return &req, nil
}
