// ABOUTME: Gateway wires storage, the job tracker, the orchestrator and the HTTP server
// ABOUTME: Manages the poller, chat-bot frontends and health endpoints lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/2389/tubeagent/internal/auth"
	"github.com/2389/tubeagent/internal/capability"
	"github.com/2389/tubeagent/internal/config"
	"github.com/2389/tubeagent/internal/conversation"
	"github.com/2389/tubeagent/internal/dedupe"
	"github.com/2389/tubeagent/internal/jobs"
	"github.com/2389/tubeagent/internal/metrics"
	"github.com/2389/tubeagent/internal/session"
	"github.com/2389/tubeagent/internal/slack"
	"github.com/2389/tubeagent/internal/store"
)

// Gateway owns every long-lived component of the server.
type Gateway struct {
	config       *config.Config
	store        store.Store
	sessions     *session.Store
	tracker      *jobs.Tracker
	poller       *jobs.Poller
	orchestrator *conversation.Orchestrator
	broadcaster  *conversation.EventBroadcaster
	slackEvents  *slack.EventHandler
	dedupe       *dedupe.Cache
	dashboard    *dashboard
	httpServer   *http.Server
	logger       *slog.Logger

	pollCancel context.CancelFunc
	pollDone   sync.WaitGroup
}

// initStore opens the SQLite store. TUBEAGENT_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TUBEAGENT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newCapability builds the configured AI backend client.
func newCapability(cfg config.CapabilityConfig, logger *slog.Logger) capability.Client {
	if cfg.Provider == config.ProviderHTTP {
		return capability.NewHTTPClient(capability.HTTPConfig{
			BaseURL:         cfg.BaseURL,
			VideoURL:        cfg.VideoURL,
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			SystemPrompt:    cfg.SystemPrompt,
			RequestTimeout:  cfg.RequestTimeout,
			BreakerFailures: cfg.BreakerFailures,
			BreakerTimeout:  cfg.BreakerTimeout,
		}, logger)
	}
	logger.Warn("using mock capability provider - replies and videos are simulated")
	return capability.NewMockClient(cfg.MockPollsToComplete)
}

// newVerifier returns nil (development mode) when no secret is configured.
func newVerifier(cfg config.AuthConfig, logger *slog.Logger) (*auth.JWTVerifier, error) {
	if cfg.JWTSecret == "" {
		logger.Warn("auth disabled - no jwt_secret configured, identity taken from X-Acting-User")
		return nil, nil
	}
	v, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	return v, nil
}

// New builds a gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, s, newCapability(cfg.Capability, logger), logger)
}

// NewWithStore builds a gateway around an existing store and capability
// client. The gateway takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, client capability.Client, logger *slog.Logger) (*Gateway, error) {
	verifier, err := newVerifier(cfg.Auth, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	sessions, err := session.New(s, cfg.Database.SessionCacheSize, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	tracker := jobs.NewTracker(s, client, jobs.Limits{
		MaxPolls: cfg.Jobs.MaxPolls,
		MaxAge:   cfg.Jobs.MaxAge,
	}, logger)

	broadcaster := conversation.NewEventBroadcaster(logger)
	orch := conversation.New(sessions, tracker, client, broadcaster, conversation.Options{
		HistoryTurns: cfg.Conversation.HistoryTurns,
		ReplyTimeout: cfg.Conversation.ReplyTimeout,
		RetryBackoff: cfg.Conversation.RetryBackoff,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		sessions:     sessions,
		tracker:      tracker,
		poller:       jobs.NewPoller(tracker, cfg.Jobs.PollInterval, cfg.Jobs.Concurrency, cfg.Capability.RequestTimeout, logger),
		orchestrator: orch,
		broadcaster:  broadcaster,
		dedupe:       dedupe.New(10*time.Minute, 100_000),
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
	}

	// Slack verifies requests itself and never carries our tokens
	if cfg.Frontends.Slack.Enabled {
		sc := cfg.Frontends.Slack
		slackClient := slack.NewClient(sc.APIURL, sc.BotToken, logger)
		gw.slackEvents = slack.NewEventHandler(orch, slackClient, gw.dedupe, sc.AllowedChannels, 2*cfg.Conversation.ReplyTimeout, logger)
		orch.RegisterNotifier(conversation.SurfaceSlack, slackClient)
		mux.Handle("POST /slack/events", gw.slackEvents)
		gw.logger.Info("slack frontend enabled at /slack/events")
	}

	requireAuth := auth.Middleware(verifier, logger)
	api := http.NewServeMux()
	gw.registerAPIRoutes(api)
	mux.Handle("/api/", requireAuth(api))

	if cfg.Dashboard.Enabled {
		gw.dashboard, err = newDashboard(cfg.Dashboard, sessions, tracker, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		mux.Handle("GET /{$}", requireAuth(gw.dashboard))
		gw.logger.Info("dashboard enabled at /")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Orchestrator returns the conversation orchestrator.
func (g *Gateway) Orchestrator() *conversation.Orchestrator {
	return g.orchestrator
}

// startPoller resumes notifications for jobs that were active before a
// restart and starts the background poller.
func (g *Gateway) startPoller(ctx context.Context) {
	if n, err := g.orchestrator.Resume(ctx); err != nil {
		g.logger.Error("failed to resume active jobs", "error", err)
	} else if n > 0 {
		g.logger.Info("watching jobs from previous run", "count", n)
	}

	pctx, cancel := context.WithCancel(context.Background())
	g.pollCancel = cancel
	g.pollDone.Add(1)
	go func() {
		defer g.pollDone.Done()
		g.poller.Run(pctx)
	}()
}

// Run serves until ctx is canceled or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.startPoller(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, waits for in-flight work and releases
// resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.pollCancel != nil {
		g.pollCancel()
		g.pollDone.Wait()
	}

	if g.slackEvents != nil {
		done := make(chan struct{})
		go func() {
			g.slackEvents.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			g.logger.Warn("gave up waiting for slack replies")
		}
	}

	g.broadcaster.Close()
	errs = appendCloseError(errs, "session close", g.sessions.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
