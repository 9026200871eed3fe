// Package sweep runs the periodic rollout sweep: rebuild every enabled
// deployment's target cache and classify scheduled rollouts for alerting.
package sweep

import (
	"context"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nbyrd/staggerd/internal/alert"
	"github.com/nbyrd/staggerd/internal/repository"
	"github.com/nbyrd/staggerd/internal/service/target"
)

const (
	defaultInterval       = 24 * time.Hour
	defaultParallelism    = 4
	defaultRebuildTimeout = 30 * time.Second
)

// Rebuilder recomputes one deployment's target cache entry.
type Rebuilder interface {
	Rebuild(ctx context.Context, deploymentID string) (*target.Result, error)
}

// Options tune the sweep loop.
type Options struct {
	// Interval between sweeps. Defaults to 24h.
	Interval time.Duration
	// AlignMidnight waits until local midnight between sweeps instead of a
	// fixed interval, so day-offset admissions advance at day boundaries.
	AlignMidnight bool
	// Parallelism bounds concurrent rebuilds. Rebuilds for distinct
	// deployments are independent.
	Parallelism int
	// RebuildTimeout bounds each per-deployment rebuild.
	RebuildTimeout time.Duration
}

// Controller orchestrates the periodic recomputation of target caches.
type Controller struct {
	deployments repository.DeploymentRepository
	targets     Rebuilder
	sinks       []alert.Sink
	logger      *slog.Logger
	opts        Options
	metrics     *metrics

	now func() time.Time
}

// New constructs a sweep controller. It returns nil when required
// dependencies are missing.
func New(deployments repository.DeploymentRepository, targets Rebuilder, sinks []alert.Sink, logger *slog.Logger, opts Options) *Controller {
	if deployments == nil || targets == nil {
		return nil
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.RebuildTimeout <= 0 {
		opts.RebuildTimeout = defaultRebuildTimeout
	}
	return &Controller{
		deployments: deployments,
		targets:     targets,
		sinks:       sinks,
		logger:      logger.With("component", "sweep"),
		opts:        opts,
		metrics:     newMetrics(),
		now:         time.Now,
	}
}

// Run executes the sweep loop until the context is cancelled. One iteration
// runs immediately so a restarted process catches up on missed day
// boundaries.
func (c *Controller) Run(ctx context.Context) {
	if c == nil {
		return
	}
	c.logger.Info("rollout sweep started", "interval", c.opts.Interval, "align_midnight", c.opts.AlignMidnight)
	c.RunOnce(ctx)

	for {
		timer := time.NewTimer(c.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("rollout sweep stopped")
			return
		case <-timer.C:
			c.RunOnce(ctx)
		}
	}
}

func (c *Controller) nextWait() time.Duration {
	if !c.opts.AlignMidnight {
		return c.opts.Interval
	}
	now := c.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}

// RunOnce performs a single sweep iteration. The set of watched deployments
// is scanned at iteration start and discarded when the iteration ends; no
// lock is held across the iteration.
func (c *Controller) RunOnce(ctx context.Context) {
	if c == nil {
		return
	}
	deployments, err := c.deployments.ListEnabledDeployments(ctx)
	if err != nil {
		c.logger.Warn("failed to list enabled deployments", "error", err)
		return
	}

	results := make([]*target.Result, len(deployments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, deployment := range deployments {
		g.Go(func() error {
			opCtx, cancel := context.WithTimeout(gctx, c.opts.RebuildTimeout)
			defer cancel()

			begin := time.Now()
			result, err := c.targets.Rebuild(opCtx, deployment.ID)
			if err != nil {
				// Cache-store or directory trouble for one deployment must
				// not abort the sweep.
				c.metrics.observeRebuild("error", time.Since(begin))
				c.logger.Warn("rebuild failed", "deployment_id", deployment.ID, "error", err)
				return nil
			}
			c.metrics.observeRebuild("ok", time.Since(begin))
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	active := make([]string, 0)
	finished := make([]string, 0)
	for _, result := range results {
		if result == nil || !result.Scheduled {
			continue
		}
		if result.Percent < 100 {
			active = append(active, result.DeploymentID)
		} else {
			finished = append(finished, result.DeploymentID)
		}
	}

	c.metrics.runsTotal.Inc()
	c.metrics.activeGauge.Set(float64(len(active)))
	c.metrics.finishedGauge.Set(float64(len(finished)))

	c.notify(ctx, alert.ClassificationActive, active)
	c.notify(ctx, alert.ClassificationFinished, finished)

	c.logger.Info("sweep complete", "deployments", len(deployments), "active", len(active), "finished", len(finished))
}

func (c *Controller) notify(ctx context.Context, classification string, deploymentIDs []string) {
	if len(deploymentIDs) == 0 {
		return
	}
	a := alert.Alert{
		Level:          "info",
		Classification: classification,
		Count:          len(deploymentIDs),
		DeploymentIDs:  deploymentIDs,
		EmittedAt:      c.now().UTC(),
	}
	for _, sink := range c.sinks {
		if err := sink.Notify(ctx, a); err != nil {
			c.logger.Warn("alert delivery failed", "classification", classification, "error", err)
		}
	}
}
