// Package e2e_test drives the fully wired service over HTTP: real registry,
// queue, worker pool, sweeper, and the in-process object store, behind the
// production router.
package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/bulk-download-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/bulk-download-service/internal/adapter/queue/memqueue"
	jobsrepo "github.com/fairyhunter13/bulk-download-service/internal/adapter/repo/memory"
	memstore "github.com/fairyhunter13/bulk-download-service/internal/adapter/storage/memory"
	"github.com/fairyhunter13/bulk-download-service/internal/app"
	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/usecase"
	"github.com/fairyhunter13/bulk-download-service/internal/worker"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

type stack struct {
	baseURL string
	client  *http.Client
	jobs    *jobsrepo.JobRegistry
	queue   *memqueue.Queue
	sweeper *app.Sweeper
}

func defaultCfg() config.Config {
	return config.Config{
		AppEnv:               "test",
		WorkerConcurrency:    2,
		QueueCapacity:        32,
		MaxAttempts:          3,
		PerAttemptTimeout:    30 * time.Second,
		DelayMin:             100 * time.Millisecond,
		DelayMax:             100 * time.Millisecond,
		ProgressTickInterval: 20 * time.Millisecond,
		JobTTL:               time.Hour,
		SweepInterval:        time.Hour, // tests drive SweepOnce themselves
		ArtifactURLTTL:       15 * time.Minute,
		ShutdownGrace:        2 * time.Second,
		BackoffBase:          10 * time.Millisecond,
		BackoffMax:           50 * time.Millisecond,
		NextPollMs:           50,
		RateLimitPerMin:      10_000,
	}
}

// newStack wires the whole service against the in-process object store and
// returns an httptest server around the production router.
func newStack(t *testing.T, cfg config.Config) *stack {
	t.Helper()
	clk := clock.NewSystem()
	jobs := jobsrepo.NewJobRegistry(clk)
	queue := memqueue.New(cfg.QueueCapacity)
	store := memstore.New(clk)
	stager := worker.NewStager(store, config.DefaultCatalog(), clk, cfg.ArtifactURLTTL)
	pool := worker.NewPool(cfg, jobs, queue, stager, clk)
	pool.Start(context.Background())
	t.Cleanup(func() {
		queue.Close()
		pool.Shutdown(cfg.ShutdownGrace)
	})

	downloads := usecase.NewDownloadService(cfg, jobs, queue, store, clk)
	srv := httpserver.NewServer(cfg, downloads, jobs, queue)
	ts := httptest.NewServer(app.BuildRouter(cfg, srv))
	t.Cleanup(ts.Close)

	return &stack{
		baseURL: ts.URL,
		client:  &http.Client{Timeout: 5 * time.Second, CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }},
		jobs:    jobs,
		queue:   queue,
		sweeper: app.NewSweeper(jobs, clk, cfg.SweepInterval),
	}
}

func (s *stack) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := s.client.Post(s.baseURL+path, "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	return decode(t, resp)
}

func (s *stack) get(t *testing.T, path string) (int, map[string]any, http.Header) {
	t.Helper()
	resp, err := s.client.Get(s.baseURL + path)
	require.NoError(t, err)
	code, payload := decode(t, resp)
	return code, payload, resp.Header
}

func decode(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

// initiate submits a job and returns its id.
func (s *stack) initiate(t *testing.T, body string) string {
	t.Helper()
	code, payload := s.post(t, "/v1/download/initiate", body)
	require.Equal(t, http.StatusAccepted, code, "payload: %v", payload)
	id, _ := payload["jobId"].(string)
	require.NotEmpty(t, id)
	return id
}

// waitForRunning waits until the queue's standard class has been drained,
// meaning a worker picked the job up.
func (s *stack) waitForRunning(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		std, _ := s.queue.Len()
		return std == 0
	}, 2*time.Second, 10*time.Millisecond, "no worker picked up the queued job")
}

// waitForStatus polls until the job reaches want or the deadline passes.
func (s *stack) waitForStatus(t *testing.T, jobID, want string, deadline time.Duration) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		code, payload, _ := s.get(t, "/v1/download/status/"+jobID)
		if code != http.StatusOK {
			return false
		}
		last = payload
		return payload["status"] == want
	}, deadline, 20*time.Millisecond, "job %s never reached %s (last: %v)", jobID, want, last)
	return last
}
