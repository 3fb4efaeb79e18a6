// ABOUTME: Background poller that refreshes active video jobs on an interval
// ABOUTME: Bounded concurrency via errgroup so one slow backend call cannot stall the sweep

package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/tubeagent/internal/metrics"
)

// Poller periodically calls RefreshStatus for every non-terminal job.
type Poller struct {
	tracker     *Tracker
	interval    time.Duration
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewPoller creates a poller. timeout bounds each individual refresh.
func NewPoller(tracker *Tracker, interval time.Duration, concurrency int, timeout time.Duration, logger *slog.Logger) *Poller {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Poller{
		tracker:     tracker,
		interval:    interval,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger.With("component", "poller"),
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("job poller started", "interval", p.interval, "concurrency", p.concurrency)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Sweep(ctx); err != nil {
			p.logger.Error("job sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("job poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep refreshes every active job once.
func (p *Poller) Sweep(ctx context.Context) error {
	active, err := p.tracker.ListActive(ctx)
	if err != nil {
		return err
	}
	metrics.SetActiveJobs(len(active))
	if len(active) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, job := range active {
		jobID := job.ID
		g.Go(func() error {
			rctx := gctx
			if p.timeout > 0 {
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(gctx, p.timeout)
				defer cancel()
			}
			if _, err := p.tracker.RefreshStatus(rctx, jobID); err != nil {
				// one job's storage hiccup should not cancel the others
				p.logger.Warn("refreshing job failed", "job_id", jobID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}
