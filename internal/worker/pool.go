// Package worker drives download jobs through their lifecycle. A fixed pool
// of goroutines drains the work queue, simulates the bulk transfer with
// progress ticks, stages the artifact, and applies the retry and timeout
// policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"log/slog"

	"github.com/fairyhunter13/bulk-download-service/internal/adapter/observability"
	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	obsctx "github.com/fairyhunter13/bulk-download-service/internal/observability"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
	"github.com/fairyhunter13/bulk-download-service/pkg/textx"
)

// progressCap bounds tick-driven progress; the last slice is reserved for
// artifact staging.
const progressCap = 95

// errAbandoned marks an attempt whose record reached cancelled or expired,
// or vanished, while the attempt was in flight.
var errAbandoned = errors.New("attempt abandoned")

// Pool owns the download workers.
type Pool struct {
	jobs   domain.JobRegistry
	queue  domain.WorkQueue
	stager domain.ArtifactStager
	clk    clock.Clock

	concurrency    int
	tick           time.Duration
	delayMin       time.Duration
	delayMax       time.Duration
	attemptTimeout time.Duration
	retry          domain.RetryPolicy

	rngMu sync.Mutex
	rng   *rand.Rand

	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewPool constructs a Pool from configuration.
func NewPool(cfg config.Config, jobs domain.JobRegistry, queue domain.WorkQueue, stager domain.ArtifactStager, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.System{}
	}
	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	tick := cfg.ProgressTickInterval
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	attemptTimeout := cfg.PerAttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 180 * time.Second
	}
	retry := domain.RetryPolicy{Base: cfg.BackoffBase, Max: cfg.BackoffMax}
	if retry.Base <= 0 || retry.Max <= 0 {
		retry = domain.DefaultRetryPolicy()
	}
	return &Pool{
		jobs:           jobs,
		queue:          queue,
		stager:         stager,
		clk:            clk,
		concurrency:    concurrency,
		tick:           tick,
		delayMin:       cfg.DelayMin,
		delayMax:       cfg.DelayMax,
		attemptTimeout: attemptTimeout,
		retry:          retry,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the worker goroutines and returns immediately; stop the
// pool with Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.runCtx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(p.runCtx, i)
	}
	slog.Info("download worker pool started", slog.Int("workers", p.concurrency))
}

// Shutdown stops dequeuing, signals in-flight attempts to cease at their
// next tick, and waits up to grace for workers to return. Records still
// non-terminal after the grace period are left for the sweeper.
func (p *Pool) Shutdown(grace time.Duration) {
	p.once.Do(func() {
		slog.Info("download worker pool shutting down", slog.Duration("grace", grace))
		if p.cancel == nil {
			return
		}
		p.cancel()
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("download worker pool drained")
		case <-time.After(grace):
			slog.Warn("shutdown grace elapsed with workers still in flight")
		}
	})
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	lg := slog.With(slog.Int("worker_id", id))
	lg.Info("download worker started")
	jobCount := 0
	for {
		jobID, err := p.queue.Dequeue(ctx)
		if err != nil {
			lg.Info("download worker stopping",
				slog.Int("jobs_processed", jobCount),
				slog.Any("reason", err))
			return
		}
		jobCount++
		p.runJob(ctx, jobID)
	}
}

func (p *Pool) runJob(ctx context.Context, jobID string) {
	tracer := otel.Tracer("worker.pool")
	ctx, span := tracer.Start(ctx, "ProcessDownloadJob")
	defer span.End()

	ctx = obsctx.ContextWithJobID(ctx, jobID)
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("job_id", jobID))
	ctx = obsctx.ContextWithLogger(ctx, lg)

	j, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		lg.Warn("dequeued job not in registry", slog.Any("error", err))
		return
	}
	if j.Status.Terminal() {
		lg.Info("dropping terminal job", slog.String("status", string(j.Status)))
		return
	}
	p.attempt(ctx, j)
}

func (p *Pool) attempt(ctx context.Context, j domain.Job) {
	lg := obsctx.LoggerFromContext(ctx)

	started, err := p.jobs.Update(ctx, j.ID, func(cur *domain.Job) error {
		if cur.Status != domain.JobQueued {
			return fmt.Errorf("%w: status %s", errAbandoned, cur.Status)
		}
		now := p.clk.Now()
		cur.Status = domain.JobRunning
		cur.Attempts++
		cur.StartedAt = &now
		cur.ProgressPercent = 0
		cur.Message = "transfer in progress"
		cur.RetryAfterMs = 0
		return nil
	})
	if err != nil {
		lg.Info("skipping attempt", slog.Any("reason", normalizeUpdateErr(err)))
		return
	}

	observability.StartAttempt()
	attemptStart := p.clk.Now()
	attemptCtx, cancelAttempt := context.WithTimeout(ctx, p.attemptTimeout)
	err = p.runProtected(attemptCtx, started)
	cancelAttempt()
	elapsed := p.clk.Since(attemptStart)
	observability.EndAttempt(elapsed)

	switch {
	case err == nil:
		observability.CompleteJob()
		lg.Info("download job completed",
			slog.Int("attempts", started.Attempts),
			slog.Duration("elapsed", elapsed))
	case errors.Is(err, errAbandoned):
		lg.Info("attempt abandoned", slog.Any("reason", err))
	case ctx.Err() != nil:
		// Pool shutdown; leave the record for the sweeper.
		lg.Warn("attempt interrupted by shutdown", slog.Duration("elapsed", elapsed))
	default:
		p.settleFailure(ctx, started, err, elapsed)
	}
}

// runProtected runs one attempt pipeline, converting panics into internal
// errors so the worker goroutine survives poisoned jobs.
func (p *Pool) runProtected(ctx context.Context, j domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			obsctx.LoggerFromContext(ctx).Error("panic in download pipeline",
				slog.String("job_id", j.ID),
				slog.Any("panic", r))
			err = fmt.Errorf("%w: panic: %v", domain.ErrInternal, r)
		}
	}()
	return p.pipeline(ctx, j)
}

func (p *Pool) pipeline(ctx context.Context, j domain.Job) error {
	if err := p.simulateTransfer(ctx, j); err != nil {
		return err
	}

	staging, err := p.jobs.Update(ctx, j.ID, func(cur *domain.Job) error {
		if cur.Status != domain.JobRunning {
			return fmt.Errorf("%w: status %s", errAbandoned, cur.Status)
		}
		cur.Status = domain.JobProcessingArtifacts
		cur.ProgressPercent = progressCap
		cur.Message = "staging artifact"
		return nil
	})
	if err != nil {
		return normalizeUpdateErr(err)
	}

	result, err := p.stager.Stage(ctx, staging)
	if err != nil {
		return err
	}

	_, err = p.jobs.Update(ctx, j.ID, func(cur *domain.Job) error {
		if cur.Status != domain.JobProcessingArtifacts {
			return fmt.Errorf("%w: status %s", errAbandoned, cur.Status)
		}
		cur.Status = domain.JobCompleted
		cur.ProgressPercent = 100
		cur.Message = "artifact ready"
		cur.Result = &result
		cur.Error = nil
		cur.RetryAfterMs = 0
		return nil
	})
	if err != nil {
		return normalizeUpdateErr(err)
	}
	return nil
}

// simulateTransfer sleeps through the sampled delay in progress ticks,
// surfacing cancellation and expiry at tick boundaries.
func (p *Pool) simulateTransfer(ctx context.Context, j domain.Job) error {
	total := p.sampleDelay()
	lg := obsctx.LoggerFromContext(ctx)
	lg.Info("transfer started",
		slog.Int("files", len(j.FileIDs)),
		slog.Duration("simulated_duration", total),
		slog.Int("attempt", j.Attempts))

	start := p.clk.Now()
	for {
		sleep := p.tick
		if remaining := total - p.clk.Since(start); remaining < sleep {
			sleep = remaining
		}
		if sleep > 0 {
			if err := p.clk.Sleep(ctx, sleep); err != nil {
				return err
			}
		}
		elapsed := p.clk.Since(start)
		done := elapsed >= total
		pct := progressFor(elapsed, total)
		if _, err := p.jobs.Update(ctx, j.ID, func(cur *domain.Job) error {
			if cur.Status != domain.JobRunning {
				return fmt.Errorf("%w: status %s", errAbandoned, cur.Status)
			}
			if pct > cur.ProgressPercent {
				cur.ProgressPercent = pct
			}
			return nil
		}); err != nil {
			return normalizeUpdateErr(err)
		}
		if done {
			return nil
		}
	}
}

// settleFailure records a failed attempt and schedules a retry when the
// cause is transient and the attempt budget allows one.
func (p *Pool) settleFailure(ctx context.Context, j domain.Job, cause error, elapsed time.Duration) {
	lg := obsctx.LoggerFromContext(ctx)
	code := domain.ClassifyError(cause)
	msg := textx.SanitizeMessage(cause.Error())
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "attempt_timeout"
	}
	now := p.clk.Now()

	failed, err := p.jobs.Update(ctx, j.ID, func(cur *domain.Job) error {
		if cur.Status != domain.JobRunning && cur.Status != domain.JobProcessingArtifacts {
			return fmt.Errorf("%w: status %s", errAbandoned, cur.Status)
		}
		cur.Status = domain.JobFailed
		cur.Error = &domain.JobError{Code: code, Message: msg, LastAttemptAt: now}
		cur.Result = nil
		cur.RetryAfterMs = 0
		return nil
	})
	if err != nil {
		lg.Info("failure not recorded", slog.Any("reason", normalizeUpdateErr(err)))
		return
	}
	observability.FailJob(code)

	if code != domain.ErrorCodeTransient || failed.Attempts >= failed.MaxAttempts {
		lg.Warn("download job failed terminally",
			slog.String("code", code),
			slog.String("error", msg),
			slog.Int("attempts", failed.Attempts),
			slog.Duration("elapsed", elapsed))
		return
	}

	delay := p.backoffDelay(failed.Attempts)
	requeued, err := p.jobs.Update(ctx, j.ID, func(cur *domain.Job) error {
		if cur.Status != domain.JobFailed || cur.Attempts >= cur.MaxAttempts {
			return fmt.Errorf("%w: status %s", errAbandoned, cur.Status)
		}
		cur.Status = domain.JobQueued
		cur.ProgressPercent = 0
		cur.Message = "retry scheduled"
		cur.Error = nil
		cur.RetryAfterMs = delay.Milliseconds()
		return nil
	})
	if err != nil {
		lg.Info("retry not scheduled", slog.Any("reason", normalizeUpdateErr(err)))
		return
	}
	observability.RetryJob()
	lg.Info("retry scheduled",
		slog.String("cause", msg),
		slog.Int("attempt", requeued.Attempts),
		slog.Int("max_attempts", requeued.MaxAttempts),
		slog.Duration("backoff", delay))

	p.wg.Add(1)
	go p.requeueAfter(requeued.ID, requeued.Priority, delay)
}

// requeueAfter waits out the backoff and puts the job back on the queue.
// Shutdown drops pending re-enqueues; the record is then left for the
// sweeper.
func (p *Pool) requeueAfter(jobID string, prio domain.Priority, delay time.Duration) {
	defer p.wg.Done()
	if err := p.clk.Sleep(p.runCtx, delay); err != nil {
		slog.Warn("retry re-enqueue dropped by shutdown", slog.String("job_id", jobID))
		return
	}
	for {
		err := p.queue.Enqueue(context.Background(), jobID, prio)
		if err == nil {
			return
		}
		slog.Warn("retry re-enqueue rejected, backing off",
			slog.String("job_id", jobID),
			slog.Any("error", err))
		if serr := p.clk.Sleep(p.runCtx, p.tick); serr != nil {
			slog.Warn("retry re-enqueue dropped by shutdown", slog.String("job_id", jobID))
			return
		}
	}
}

func (p *Pool) sampleDelay() time.Duration {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return clock.SampleDelay(p.rng, p.delayMin, p.delayMax)
}

func (p *Pool) backoffDelay(attempt int) time.Duration {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.retry.Backoff(p.rng, attempt)
}

func progressFor(elapsed, total time.Duration) int {
	if total <= 0 {
		return progressCap
	}
	pct := int(elapsed * 100 / total)
	if pct > progressCap {
		pct = progressCap
	}
	return pct
}

// normalizeUpdateErr folds a swept record into the abandoned class so the
// attempt unwinds quietly instead of retrying.
func normalizeUpdateErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: record swept", errAbandoned)
	}
	return err
}
