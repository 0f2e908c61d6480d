package httpserver_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/bulk-download-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/bulk-download-service/internal/adapter/queue/memqueue"
	jobsrepo "github.com/fairyhunter13/bulk-download-service/internal/adapter/repo/memory"
	memstore "github.com/fairyhunter13/bulk-download-service/internal/adapter/storage/memory"
	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/internal/usecase"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

type fixture struct {
	srv    *httpserver.Server
	router chi.Router
	jobs   *jobsrepo.JobRegistry
	queue  *memqueue.Queue
	store  *memstore.Store
	clk    *clock.Manual
}

func newFixture(t *testing.T, queueCapacity int) *fixture {
	t.Helper()
	cfg := config.Config{
		AppEnv:        "test",
		QueueCapacity: queueCapacity,
		MaxAttempts:   3,
		JobTTL:        time.Hour,
		NextPollMs:    2000,
	}
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	jobs := jobsrepo.NewJobRegistry(clk)
	queue := memqueue.New(queueCapacity)
	t.Cleanup(queue.Close)
	store := memstore.New(clk)
	downloads := usecase.NewDownloadService(cfg, jobs, queue, store, clk)
	srv := httpserver.NewServer(cfg, downloads, jobs, queue)

	r := chi.NewRouter()
	r.Post("/v1/download/initiate", srv.InitiateHandler())
	r.Post("/v1/download/{jobID}/cancel", srv.CancelHandler())
	r.Get("/v1/download/status/{jobID}", srv.StatusHandler())
	r.Get("/v1/download/{jobID}", srv.DownloadHandler())
	r.Get("/health", srv.HealthHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	srv.MountAdmin(r)

	return &fixture{srv: srv, router: r, jobs: jobs, queue: queue, store: store, clk: clk}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// seedJob inserts a record and walks it to the requested status through legal
// transitions so guard checks in the registry stay exercised.
func (f *fixture) seedJob(t *testing.T, target domain.JobStatus, result *domain.JobResult, jerr *domain.JobError) domain.Job {
	t.Helper()
	ctx := t.Context()
	j, existed, err := f.jobs.Insert(ctx, domain.Job{
		FileIDs:     []int64{70000, 70001},
		UserID:      "u1",
		Priority:    domain.PriorityStandard,
		Status:      domain.JobQueued,
		MaxAttempts: 3,
		CreatedAt:   f.clk.Now(),
		ExpiresAt:   f.clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.False(t, existed)
	if target == domain.JobQueued {
		return j
	}

	step := func(mutate func(*domain.Job) error) domain.Job {
		out, err := f.jobs.Update(ctx, j.ID, mutate)
		require.NoError(t, err)
		return out
	}

	if target == domain.JobCancelled {
		return step(func(cur *domain.Job) error {
			cur.Status = domain.JobCancelled
			return nil
		})
	}

	cur := step(func(cur *domain.Job) error {
		now := f.clk.Now()
		cur.Status = domain.JobRunning
		cur.Attempts = 1
		cur.StartedAt = &now
		return nil
	})
	switch target {
	case domain.JobRunning:
		return cur
	case domain.JobFailed:
		e := jerr
		if e == nil {
			e = &domain.JobError{Code: domain.ErrorCodeTransient, Message: "boom", LastAttemptAt: f.clk.Now()}
		}
		return step(func(cur *domain.Job) error {
			cur.Status = domain.JobFailed
			cur.Error = e
			return nil
		})
	case domain.JobProcessingArtifacts, domain.JobCompleted:
		cur = step(func(cur *domain.Job) error {
			cur.Status = domain.JobProcessingArtifacts
			cur.ProgressPercent = 95
			return nil
		})
		if target == domain.JobProcessingArtifacts {
			return cur
		}
		res := result
		if res == nil {
			res = &domain.JobResult{
				URL:          "memory://artifacts/downloads/u1/" + j.ID + "/manifest.json",
				Checksum:     "sha256:abc",
				Size:         128,
				URLExpiresAt: f.clk.Now().Add(15 * time.Minute),
			}
		}
		return step(func(cur *domain.Job) error {
			cur.Status = domain.JobCompleted
			cur.ProgressPercent = 100
			cur.Result = res
			return nil
		})
	default:
		t.Fatalf("seedJob: unsupported target %s", target)
		return domain.Job{}
	}
}

func initiateBody(fileID int64) string {
	return fmt.Sprintf(`{"file_ids":[%d],"priority":"standard"}`, fileID)
}

func doReq(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}
