package worker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bulk-download-service/internal/adapter/queue/memqueue"
	repomem "github.com/fairyhunter13/bulk-download-service/internal/adapter/repo/memory"
	storagememory "github.com/fairyhunter13/bulk-download-service/internal/adapter/storage/memory"
	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/internal/domain/mocks"
	"github.com/fairyhunter13/bulk-download-service/internal/worker"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

type poolHarness struct {
	registry *repomem.JobRegistry
	queue    *memqueue.Queue
	pool     *worker.Pool
}

func startPool(t *testing.T, stager domain.ArtifactStager, mutate func(*config.Config)) *poolHarness {
	t.Helper()
	cfg := config.Config{
		WorkerConcurrency:    2,
		QueueCapacity:        16,
		MaxAttempts:          3,
		PerAttemptTimeout:    time.Second,
		ProgressTickInterval: 2 * time.Millisecond,
		BackoffBase:          time.Millisecond,
		BackoffMax:           2 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	reg := repomem.NewJobRegistry(clock.System{})
	q := memqueue.New(cfg.QueueCapacity)
	p := worker.NewPool(cfg, reg, q, stager, clock.System{})
	p.Start(context.Background())
	t.Cleanup(func() {
		p.Shutdown(time.Second)
		q.Close()
	})
	return &poolHarness{registry: reg, queue: q, pool: p}
}

func (h *poolHarness) submit(t *testing.T, j domain.Job) domain.Job {
	t.Helper()
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if j.ExpiresAt.IsZero() {
		j.ExpiresAt = time.Now().Add(time.Hour)
	}
	if len(j.FileIDs) == 0 {
		j.FileIDs = []int64{70_000}
	}
	stored, _, err := h.registry.Insert(context.Background(), j)
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(context.Background(), stored.ID, stored.Priority))
	return stored
}

func (h *poolHarness) waitFor(t *testing.T, id string, pred func(domain.Job) bool, what string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last domain.Job
	for time.Now().Before(deadline) {
		j, err := h.registry.Get(context.Background(), id)
		require.NoError(t, err)
		last = j
		if pred(j) {
			return j
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s, last status=%s attempts=%d progress=%d",
		id, what, last.Status, last.Attempts, last.ProgressPercent)
	return domain.Job{}
}

func (h *poolHarness) waitStatus(t *testing.T, id string, want domain.JobStatus) domain.Job {
	t.Helper()
	return h.waitFor(t, id, func(j domain.Job) bool { return j.Status == want }, string(want))
}

func cancelJob(t *testing.T, h *poolHarness, id string) {
	t.Helper()
	_, err := h.registry.Update(context.Background(), id, func(cur *domain.Job) error {
		if cur.Status.Terminal() {
			return nil
		}
		cur.Status = domain.JobCancelled
		cur.Message = "cancelled by client"
		return nil
	})
	require.NoError(t, err)
}

func okResult() domain.JobResult {
	return domain.JobResult{
		URL:          "memory://artifacts/downloads/anonymous/x/manifest.json",
		Checksum:     "sha256:abc",
		Size:         42,
		URLExpiresAt: time.Now().Add(15 * time.Minute),
	}
}

func TestPool_HappyPath(t *testing.T) {
	store := storagememory.New(nil)
	stager := worker.NewStager(store, config.DefaultCatalog(), nil, 15*time.Minute)
	h := startPool(t, stager, nil)

	j := h.submit(t, domain.Job{FileIDs: []int64{70_000}, UserID: "u-1"})
	got := h.waitStatus(t, j.ID, domain.JobCompleted)

	assert.Equal(t, 100, got.ProgressPercent)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Result)
	assert.NotEmpty(t, got.Result.URL)
	assert.Contains(t, got.Result.Checksum, "sha256:")
	assert.Positive(t, got.Result.Size)
	assert.False(t, got.Result.URLExpiresAt.IsZero())
	assert.Nil(t, got.Error)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	_, _, ok := store.Object(worker.ArtifactKey(got))
	assert.True(t, ok, "descriptor must be staged in the object store")
}

func TestPool_ProgressAdvancesDuringTransfer(t *testing.T) {
	store := storagememory.New(nil)
	stager := worker.NewStager(store, config.DefaultCatalog(), nil, 15*time.Minute)
	h := startPool(t, stager, func(cfg *config.Config) {
		cfg.DelayMin = 200 * time.Millisecond
		cfg.DelayMax = 200 * time.Millisecond
		cfg.ProgressTickInterval = 10 * time.Millisecond
	})

	j := h.submit(t, domain.Job{})
	h.waitFor(t, j.ID, func(j domain.Job) bool {
		return j.Status == domain.JobRunning && j.ProgressPercent > 0 && j.ProgressPercent <= 95
	}, "mid-transfer progress")
	got := h.waitStatus(t, j.ID, domain.JobCompleted)
	assert.Equal(t, 100, got.ProgressPercent)
}

func TestPool_RetryThenSuccess(t *testing.T) {
	st := &mocks.MockArtifactStager{}
	st.On("Stage", mock.Anything, mock.Anything).
		Return(domain.JobResult{}, fmt.Errorf("%w: storage flaking", domain.ErrTransient)).Twice()
	st.On("Stage", mock.Anything, mock.Anything).Return(okResult(), nil).Once()

	h := startPool(t, st, nil)
	j := h.submit(t, domain.Job{})

	got := h.waitStatus(t, j.ID, domain.JobCompleted)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.Result)
	assert.Nil(t, got.Error)
	st.AssertExpectations(t)
}

func TestPool_TransientExhaustsAttempts(t *testing.T) {
	st := &mocks.MockArtifactStager{}
	st.On("Stage", mock.Anything, mock.Anything).
		Return(domain.JobResult{}, fmt.Errorf("%w: bucket unreachable", domain.ErrTransient))

	h := startPool(t, st, nil)
	j := h.submit(t, domain.Job{MaxAttempts: 2})

	got := h.waitFor(t, j.ID, func(j domain.Job) bool {
		return j.Status == domain.JobFailed && j.Attempts == 2
	}, "terminal failed")

	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrorCodeTransient, got.Error.Code)
	assert.Contains(t, got.Error.Message, "bucket unreachable")
	assert.Nil(t, got.Result)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.Error.LastAttemptAt.IsZero())

	// No further attempts once the budget is spent.
	time.Sleep(50 * time.Millisecond)
	st.AssertNumberOfCalls(t, "Stage", 2)
}

func TestPool_PermanentFailureDoesNotRetry(t *testing.T) {
	st := &mocks.MockArtifactStager{}
	st.On("Stage", mock.Anything, mock.Anything).
		Return(domain.JobResult{}, fmt.Errorf("%w: descriptor rejected", domain.ErrPermanent))

	h := startPool(t, st, nil)
	j := h.submit(t, domain.Job{})

	got := h.waitStatus(t, j.ID, domain.JobFailed)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrorCodePermanent, got.Error.Code)

	time.Sleep(50 * time.Millisecond)
	st.AssertNumberOfCalls(t, "Stage", 1)
}

func TestPool_PanicBecomesInternalFailure(t *testing.T) {
	st := &mocks.MockArtifactStager{}
	st.On("Stage", mock.Anything, mock.Anything).Panic("simulated fault").Once()
	st.On("Stage", mock.Anything, mock.Anything).Return(okResult(), nil).Once()

	h := startPool(t, st, func(cfg *config.Config) { cfg.WorkerConcurrency = 1 })

	first := h.submit(t, domain.Job{})
	got := h.waitStatus(t, first.ID, domain.JobFailed)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrorCodeInternal, got.Error.Code)
	assert.Contains(t, got.Error.Message, "panic")

	// The single worker goroutine must survive the panic.
	second := h.submit(t, domain.Job{})
	h.waitStatus(t, second.ID, domain.JobCompleted)
	st.AssertExpectations(t)
}

func TestPool_AttemptTimeout(t *testing.T) {
	st := &mocks.MockArtifactStager{}

	h := startPool(t, st, func(cfg *config.Config) {
		cfg.PerAttemptTimeout = 20 * time.Millisecond
		cfg.DelayMin = 500 * time.Millisecond
		cfg.DelayMax = 500 * time.Millisecond
		cfg.ProgressTickInterval = 5 * time.Millisecond
	})
	j := h.submit(t, domain.Job{MaxAttempts: 1})

	got := h.waitStatus(t, j.ID, domain.JobFailed)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrorCodeTransient, got.Error.Code)
	assert.Equal(t, "attempt_timeout", got.Error.Message)
	st.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything)
}

func TestPool_CancelObservedAtTickBoundary(t *testing.T) {
	st := &mocks.MockArtifactStager{}
	st.On("Stage", mock.Anything, mock.Anything).Return(okResult(), nil)

	h := startPool(t, st, func(cfg *config.Config) {
		cfg.DelayMin = 300 * time.Millisecond
		cfg.DelayMax = 300 * time.Millisecond
		cfg.ProgressTickInterval = 5 * time.Millisecond
	})

	j := h.submit(t, domain.Job{})
	h.waitStatus(t, j.ID, domain.JobRunning)
	cancelJob(t, h, j.ID)

	// The worker abandons the transfer at the next tick and never stages.
	time.Sleep(50 * time.Millisecond)
	got, err := h.registry.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
	st.AssertNotCalled(t, "Stage", mock.Anything, mock.MatchedBy(func(sj domain.Job) bool { return sj.ID == j.ID }))

	// The worker is free again for new jobs.
	second := h.submit(t, domain.Job{})
	h.waitStatus(t, second.ID, domain.JobCompleted)
}

func TestPool_DropsTerminalJobFromQueue(t *testing.T) {
	st := &mocks.MockArtifactStager{}
	st.On("Stage", mock.Anything, mock.Anything).Return(okResult(), nil)

	h := startPool(t, st, func(cfg *config.Config) { cfg.WorkerConcurrency = 1 })

	// Record cancelled before the queue ever hands it to a worker.
	stored, _, err := h.registry.Insert(context.Background(), domain.Job{
		FileIDs:     []int64{70_000},
		Status:      domain.JobQueued,
		MaxAttempts: 3,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	cancelJob(t, h, stored.ID)
	require.NoError(t, h.queue.Enqueue(context.Background(), stored.ID, stored.Priority))

	// A later job still completes; the cancelled one was dropped untouched.
	second := h.submit(t, domain.Job{})
	h.waitStatus(t, second.ID, domain.JobCompleted)

	got, err := h.registry.Get(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, got.Status)
	assert.Equal(t, 0, got.Attempts)
	st.AssertNotCalled(t, "Stage", mock.Anything, mock.MatchedBy(func(sj domain.Job) bool { return sj.ID == stored.ID }))
}

func TestPool_ShutdownLeavesInFlightForSweeper(t *testing.T) {
	st := &mocks.MockArtifactStager{}

	reg := repomem.NewJobRegistry(clock.System{})
	q := memqueue.New(16)
	cfg := config.Config{
		WorkerConcurrency:    1,
		MaxAttempts:          3,
		PerAttemptTimeout:    10 * time.Second,
		DelayMin:             2 * time.Second,
		DelayMax:             2 * time.Second,
		ProgressTickInterval: 5 * time.Millisecond,
		BackoffBase:          time.Millisecond,
		BackoffMax:           2 * time.Millisecond,
	}
	p := worker.NewPool(cfg, reg, q, st, clock.System{})
	p.Start(context.Background())
	defer q.Close()

	stored, _, err := reg.Insert(context.Background(), domain.Job{
		FileIDs:     []int64{70_000},
		Status:      domain.JobQueued,
		MaxAttempts: 3,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), stored.ID, stored.Priority))

	h := &poolHarness{registry: reg, queue: q, pool: p}
	h.waitStatus(t, stored.ID, domain.JobRunning)

	start := time.Now()
	p.Shutdown(500 * time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second, "shutdown must not wait out the full transfer")

	got, err := reg.Get(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, got.Status, "interrupted jobs stay as-is for the sweeper")
	st.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything)

	// No mutations after shutdown.
	before := got.UpdatedAt
	time.Sleep(30 * time.Millisecond)
	after, err := reg.Get(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after.UpdatedAt)
}
