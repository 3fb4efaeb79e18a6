// ABOUTME: Read-only HTML dashboard of the caller's conversation and videos
// ABOUTME: Turns are rendered from markdown with goldmark into an embedded template

package gateway

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/tubeagent/internal/auth"
	"github.com/2389/tubeagent/internal/config"
	"github.com/2389/tubeagent/internal/session"
	"github.com/2389/tubeagent/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

type sessionLister interface {
	List(ctx context.Context, userID string) (*session.Session, error)
}

type jobLister interface {
	ListByOwner(ctx context.Context, ownerUserID string, limit int) ([]*store.VideoJob, error)
	Stats(ctx context.Context, ownerUserID string) (*store.JobStats, error)
}

type dashboardTurn struct {
	Role      string
	CreatedAt time.Time
	HTML      template.HTML
}

type dashboardData struct {
	Title          string
	UserID         string
	DisplayName    string
	Stats          JobStatsResponse
	SuccessPercent float64
	Jobs           []JobResponse
	Turns          []dashboardTurn
}

type dashboard struct {
	tmpl     *template.Template
	md       goldmark.Markdown
	cfg      config.DashboardConfig
	sessions sessionLister
	jobs     jobLister
	logger   *slog.Logger
}

func newDashboard(cfg config.DashboardConfig, sessions sessionLister, jobs jobLister, logger *slog.Logger) (*dashboard, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parsing dashboard template: %w", err)
	}
	return &dashboard{
		tmpl:     tmpl,
		md:       goldmark.New(),
		cfg:      cfg,
		sessions: sessions,
		jobs:     jobs,
		logger:   logger.With("component", "dashboard"),
	}, nil
}

// renderMarkdown converts turn text to HTML. Raw HTML in the text is omitted.
func (d *dashboard) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := d.md.Convert([]byte(text), &buf); err != nil {
		d.logger.Error("failed to convert markdown", "error", err)
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

func (d *dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	data := dashboardData{
		Title:       d.cfg.Title,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
	}

	sess, err := d.sessions.List(r.Context(), id.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		d.logger.Error("failed to load session", "user_id", id.UserID, "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if sess != nil {
		if sess.User.DisplayName != "" {
			data.DisplayName = sess.User.DisplayName
		}
		for _, t := range sess.Turns {
			data.Turns = append(data.Turns, dashboardTurn{Role: t.Role, CreatedAt: t.CreatedAt, HTML: d.renderMarkdown(t.Text)})
		}
	}

	list, err := d.jobs.ListByOwner(r.Context(), id.UserID, d.cfg.RecentJobs)
	if err != nil {
		d.logger.Error("failed to list jobs", "user_id", id.UserID, "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	for _, job := range list {
		data.Jobs = append(data.Jobs, toJobResponse(job))
	}

	stats, err := d.jobs.Stats(r.Context(), id.UserID)
	if err != nil {
		d.logger.Error("failed to load job stats", "user_id", id.UserID, "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	data.Stats = toStatsResponse(stats)
	data.SuccessPercent = stats.SuccessRate()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := d.tmpl.Execute(w, data); err != nil {
		d.logger.Error("failed to render dashboard", "error", err)
	}
}
