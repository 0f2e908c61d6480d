package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/bulk-download-service/internal/adapter/observability"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

// Sweeper periodically expires and removes aged job records. A record past
// its deadline is flipped to expired on one tick and deleted on a later one,
// so pollers briefly see status=expired before the id disappears.
type Sweeper struct {
	jobs     domain.JobRegistry
	clk      clock.Clock
	interval time.Duration
}

// NewSweeper constructs a Sweeper. A nil registry disables it.
func NewSweeper(jobs domain.JobRegistry, clk clock.Clock, interval time.Duration) *Sweeper {
	if jobs == nil {
		return nil
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{jobs: jobs, clk: clk, interval: interval}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("job sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass. Exported so tests and diagnostics can
// drive the sweeper without its ticker.
func (s *Sweeper) SweepOnce(ctx context.Context) (expired, deleted int) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "Sweeper.sweepOnce")
	defer span.End()

	expired, deleted = s.jobs.Sweep(ctx, s.clk.Now())
	span.SetAttributes(
		attribute.Int("jobs.expired", expired),
		attribute.Int("jobs.deleted", deleted),
	)
	observability.ExpireJobs(expired)
	observability.SetRegistrySize(s.jobs.Len())
	if expired > 0 || deleted > 0 {
		slog.Info("job sweep finished",
			slog.Int("expired", expired),
			slog.Int("deleted", deleted),
			slog.Int("remaining", s.jobs.Len()))
	}
	return expired, deleted
}
