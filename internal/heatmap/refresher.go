package heatmap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/citizenlink/heatmap-service/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// refreshTarget is what the Refresher drives: the Manager itself, or the
// control surface so that failures show up in its status.
type refreshTarget interface {
	Refresh(ctx context.Context) error
	Loading() bool
}

// Refresher periodically reloads the view with its current filters.
type Refresher struct {
	target   refreshTarget
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRefresher creates a Refresher that ticks every interval.
func NewRefresher(target refreshTarget, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Refresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Refresher{
		target:   target,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run refreshes on every tick until the context is cancelled. A tick that
// finds a load already in flight is skipped. A failed refresh is retried
// with exponential backoff until it succeeds.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("refresh interval must be positive")
	}

	r.logger.Info("auto-refresh started", "interval", r.interval)
	r.metrics.RefresherRunning.Set(1)
	defer r.metrics.RefresherRunning.Set(0)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("auto-refresh stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}

		if r.target.Loading() {
			r.logger.Debug("skipping auto-refresh, load in progress")
			continue
		}
		if !r.refreshWithRetry(ctx) {
			return nil
		}
	}
}

// RefreshNow refreshes immediately, retrying failures with backoff until one
// succeeds or ctx is cancelled.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	if !r.refreshWithRetry(ctx) {
		return ctx.Err()
	}
	return nil
}

// refreshWithRetry returns false if the context was cancelled.
func (r *Refresher) refreshWithRetry(ctx context.Context) bool {
	backoff := initialBackoff
	for {
		err := r.target.Refresh(ctx)
		if err == nil || errors.Is(err, ErrStaleResponse) || errors.Is(err, ErrNotInitialized) {
			return ctx.Err() == nil
		}
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("auto-refresh failed", "error", err, "retry_in", backoff)
		if !r.sleep(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func (r *Refresher) sleep(ctx context.Context, d time.Duration) bool {
	timer := r.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
