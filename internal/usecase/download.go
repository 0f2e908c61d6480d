// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/bulk-download-service/internal/adapter/observability"
	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

// File identifiers accepted on initiate.
const (
	MinFileID = 10_000
	MaxFileID = 100_000_000

	maxClientRequestIDLen = 128
)

// DownloadService is the synchronous facade consumed by the HTTP layer.
// It normalizes input, performs the idempotency lookup, creates the record,
// and hands the job id to the queue; all further progress belongs to the
// worker pool.
type DownloadService struct {
	Jobs  domain.JobRegistry
	Queue domain.WorkQueue
	Store domain.ObjectStore

	clk         clock.Clock
	jobTTL      time.Duration
	maxAttempts int
	nextPollMs  int64
}

// NewDownloadService constructs a DownloadService with its dependencies.
func NewDownloadService(cfg config.Config, jobs domain.JobRegistry, queue domain.WorkQueue, store domain.ObjectStore, clk clock.Clock) DownloadService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	ttl := cfg.JobTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	poll := cfg.NextPollMs
	if poll <= 0 {
		poll = 2000
	}
	return DownloadService{
		Jobs:        jobs,
		Queue:       queue,
		Store:       store,
		clk:         clk,
		jobTTL:      ttl,
		maxAttempts: attempts,
		nextPollMs:  poll,
	}
}

// InitiateResult is the accepted-job envelope returned to the client.
type InitiateResult struct {
	JobID        string           `json:"jobId"`
	Status       domain.JobStatus `json:"status"`
	NextPollInMs int64            `json:"nextPollInMs"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	TotalFileIDs int              `json:"totalFileIds"`
}

// ReadinessCheck represents a single readiness probe result used by handlers.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// Resolution is the outcome of resolving a job to its artifact. Job carries
// the snapshot even when the artifact is not retrievable, so callers can
// render a status payload alongside domain.ErrNotReady or domain.ErrGone.
type Resolution struct {
	Job domain.Job
	URL string
}

// Initiate validates the submission, creates a queued record, and enqueues it.
// A repeat submission carrying the same (userId, clientRequestId) returns the
// existing job without enqueueing a second time.
func (s DownloadService) Initiate(ctx domain.Context, fileIDs []int64, clientRequestID, userID, priority string) (InitiateResult, error) {
	if len(fileIDs) == 0 {
		return InitiateResult{}, fmt.Errorf("%w: file_ids required", domain.ErrInvalidArgument)
	}
	for _, id := range fileIDs {
		if id < MinFileID || id > MaxFileID {
			return InitiateResult{}, fmt.Errorf("%w: file id %d outside [%d, %d]", domain.ErrInvalidArgument, id, MinFileID, MaxFileID)
		}
	}
	if len(clientRequestID) > maxClientRequestIDLen {
		return InitiateResult{}, fmt.Errorf("%w: client_request_id exceeds %d characters", domain.ErrInvalidArgument, maxClientRequestIDLen)
	}
	prio, err := domain.ParsePriority(priority)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("%w: priority %q not recognized", domain.ErrInvalidArgument, priority)
	}

	now := s.clk.Now()
	j := domain.Job{
		FileIDs:         append([]int64(nil), fileIDs...),
		ClientRequestID: clientRequestID,
		UserID:          userID,
		Priority:        prio,
		Status:          domain.JobQueued,
		Message:         "awaiting worker",
		MaxAttempts:     s.maxAttempts,
		RetryAfterMs:    s.nextPollMs,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.jobTTL),
	}

	stored, existed, err := s.Jobs.Insert(ctx, j)
	if err != nil {
		return InitiateResult{}, err
	}
	if existed {
		slog.Info("idempotent resubmission",
			slog.String("job_id", stored.ID),
			slog.String("client_request_id", clientRequestID),
			slog.String("status", string(stored.Status)))
		return s.accepted(stored), nil
	}

	if err := s.Queue.Enqueue(ctx, stored.ID, stored.Priority); err != nil {
		// A record that never reached the queue cannot make progress; drop it
		// so the idempotency slot is not poisoned for the resubmission.
		if purgeErr := s.Jobs.Purge(ctx, stored.ID); purgeErr != nil {
			slog.Error("failed to purge unqueued job", slog.String("job_id", stored.ID), slog.Any("error", purgeErr))
		}
		slog.Warn("rejecting initiate, queue saturated",
			slog.String("job_id", stored.ID),
			slog.String("priority", string(stored.Priority)),
			slog.Any("error", err))
		return InitiateResult{}, err
	}
	observability.EnqueueJob(string(stored.Priority))
	slog.Info("download job accepted",
		slog.String("job_id", stored.ID),
		slog.Int("file_count", len(stored.FileIDs)),
		slog.String("priority", string(stored.Priority)),
		slog.Time("expires_at", stored.ExpiresAt))
	return s.accepted(stored), nil
}

func (s DownloadService) accepted(j domain.Job) InitiateResult {
	return InitiateResult{
		JobID:        j.ID,
		Status:       j.Status,
		NextPollInMs: s.nextPollMs,
		ExpiresAt:    j.ExpiresAt,
		TotalFileIDs: len(j.FileIDs),
	}
}

// Status returns an immutable snapshot of the record.
func (s DownloadService) Status(ctx domain.Context, jobID string) (domain.Job, error) {
	if jobID == "" {
		return domain.Job{}, fmt.Errorf("%w: job id required", domain.ErrInvalidArgument)
	}
	return s.Jobs.Get(ctx, jobID)
}

// Resolve maps the record's state to an artifact URL or the reason one is not
// available. Completed jobs whose presigned URL already lapsed report gone;
// expired records are indistinguishable from unknown ones.
func (s DownloadService) Resolve(ctx domain.Context, jobID string) (Resolution, error) {
	if jobID == "" {
		return Resolution{}, fmt.Errorf("%w: job id required", domain.ErrInvalidArgument)
	}
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return Resolution{}, err
	}
	switch j.Status {
	case domain.JobCompleted:
		if !s.clk.Now().Before(j.Result.URLExpiresAt) {
			return Resolution{Job: j}, fmt.Errorf("%w: artifact url expired", domain.ErrGone)
		}
		slog.Info("resolved artifact", slog.String("job_id", j.ID), slog.Time("url_expires_at", j.Result.URLExpiresAt))
		return Resolution{Job: j, URL: j.Result.URL}, nil
	case domain.JobFailed, domain.JobCancelled:
		return Resolution{Job: j}, fmt.Errorf("%w: job %s", domain.ErrGone, j.Status)
	case domain.JobExpired:
		return Resolution{}, fmt.Errorf("%w: job expired", domain.ErrNotFound)
	default:
		return Resolution{Job: j}, fmt.Errorf("%w: job %s", domain.ErrNotReady, j.Status)
	}
}

// Cancel flips any non-terminal record to cancelled. Repeat calls and calls
// racing a worker's terminal write are no-ops that return the settled
// snapshot.
func (s DownloadService) Cancel(ctx domain.Context, jobID string) (domain.Job, error) {
	if jobID == "" {
		return domain.Job{}, fmt.Errorf("%w: job id required", domain.ErrInvalidArgument)
	}
	cur, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if cur.Status.Terminal() {
		return cur, nil
	}

	var flipped bool
	out, err := s.Jobs.Update(ctx, jobID, func(rec *domain.Job) error {
		if rec.Status.Terminal() {
			return nil
		}
		rec.Status = domain.JobCancelled
		rec.Message = "cancelled by caller"
		rec.RetryAfterMs = 0
		flipped = true
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	if flipped {
		observability.CancelJob()
		slog.Info("download job cancelled", slog.String("job_id", out.ID), slog.String("from", string(cur.Status)))
	}
	return out, nil
}

// Readiness reports per-collaborator probe results; the object store is the
// only external dependency the engine leans on.
func (s DownloadService) Readiness(ctx domain.Context) []ReadinessCheck {
	st := ReadinessCheck{Name: "storage", OK: true}
	if s.Store == nil {
		st.OK = false
		st.Details = "no object store configured"
	} else if err := s.Store.HealthCheck(ctx); err != nil {
		st.OK = false
		st.Details = err.Error()
	}
	return []ReadinessCheck{st}
}
