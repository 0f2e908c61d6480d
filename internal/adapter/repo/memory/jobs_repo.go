// Package memory implements the job registry as a process-local store.
// The service keeps no durable job state: a restart starts empty.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

type idemKey struct {
	userID          string
	clientRequestID string
}

// JobRegistry maps job ids to records and maintains the idempotency index
// (userId, clientRequestId) -> jobId. All mutations run under the registry
// lock; callers only ever see clones.
type JobRegistry struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	byIdem map[idemKey]string
	clk    clock.Clock
}

// NewJobRegistry constructs an empty registry.
func NewJobRegistry(clk clock.Clock) *JobRegistry {
	return &JobRegistry{
		jobs:   make(map[string]*domain.Job),
		byIdem: make(map[idemKey]string),
		clk:    clk,
	}
}

// Insert stores a new record, or returns the existing one when the
// idempotency index maps (userId, clientRequestId) to a live job. The bool
// reports that idempotent hit. Atomic with respect to concurrent inserts.
func (r *JobRegistry) Insert(ctx domain.Context, j domain.Job) (domain.Job, bool, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.Insert")
	defer span.End()

	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if j.ClientRequestID != "" {
		key := idemKey{userID: j.UserID, clientRequestID: j.ClientRequestID}
		if id, ok := r.byIdem[key]; ok {
			if existing, present := r.jobs[id]; present && !now.After(existing.ExpiresAt) {
				return existing.Clone(), true, nil
			}
			// Target gone or expired: the entry is stale and may be repointed.
			delete(r.byIdem, key)
		}
	}

	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if !j.ExpiresAt.After(j.CreatedAt) {
		return domain.Job{}, false, fmt.Errorf("op=job.insert: expiresAt must follow createdAt: %w", domain.ErrInvalidArgument)
	}
	if _, exists := r.jobs[j.ID]; exists {
		return domain.Job{}, false, fmt.Errorf("op=job.insert: id %s already present: %w", j.ID, domain.ErrConflict)
	}
	j.UpdatedAt = now

	stored := j.Clone()
	r.jobs[j.ID] = &stored
	if j.ClientRequestID != "" {
		r.byIdem[idemKey{userID: j.UserID, clientRequestID: j.ClientRequestID}] = j.ID
	}
	return j.Clone(), false, nil
}

// Get returns a snapshot of the record.
func (r *JobRegistry) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
	}
	return j.Clone(), nil
}

// Update applies mutate to a private copy of the record under the registry
// lock, validates the resulting status edge, and writes it back. Identity
// fields (id, createdAt, expiresAt) cannot be changed by mutators. Returns
// the post-image.
func (r *JobRegistry) Update(ctx domain.Context, id string, mutate func(*domain.Job) error) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.Update")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("op=job.update: %w", domain.ErrNotFound)
	}

	work := cur.Clone()
	if err := mutate(&work); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.update: %w", err)
	}

	if err := r.checkEdge(cur, &work); err != nil {
		return domain.Job{}, err
	}

	work.ID = cur.ID
	work.CreatedAt = cur.CreatedAt
	work.ExpiresAt = cur.ExpiresAt
	work.UpdatedAt = r.clk.Now()
	if work.Status.Terminal() && work.CompletedAt == nil {
		done := work.UpdatedAt
		work.CompletedAt = &done
	}

	stored := work.Clone()
	r.jobs[id] = &stored
	return work.Clone(), nil
}

func (r *JobRegistry) checkEdge(cur *domain.Job, next *domain.Job) error {
	if next.Status == cur.Status {
		return nil
	}
	if !domain.CanTransition(cur.Status, next.Status) {
		return fmt.Errorf("op=job.update: illegal transition %s -> %s: %w", cur.Status, next.Status, domain.ErrConflict)
	}
	if cur.Status == domain.JobFailed && next.Status == domain.JobQueued && next.Attempts >= next.MaxAttempts {
		return fmt.Errorf("op=job.update: retry after %d/%d attempts: %w", next.Attempts, next.MaxAttempts, domain.ErrConflict)
	}
	switch next.Status {
	case domain.JobCompleted:
		if next.Result == nil || next.Error != nil {
			return fmt.Errorf("op=job.update: completed requires result and no error: %w", domain.ErrConflict)
		}
	case domain.JobFailed:
		if next.Error == nil || next.Result != nil {
			return fmt.Errorf("op=job.update: failed requires error and no result: %w", domain.ErrConflict)
		}
	}
	return nil
}

// List returns snapshots matching the filter, newest first.
func (r *JobRegistry) List(ctx domain.Context, f domain.JobFilter) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.List")
	defer span.End()

	r.mu.RLock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.UserID != "" && j.UserID != f.UserID {
			continue
		}
		out = append(out, j.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Sweep expires overdue records and removes the ones already terminal.
// A non-terminal record past its deadline is flipped to expired on this tick
// and deleted on a later one, so clients briefly observe status=expired.
// Each record is handled in its own critical section; foreground calls are
// never blocked for the duration of the whole scan.
func (r *JobRegistry) Sweep(ctx domain.Context, now time.Time) (expired, deleted int) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.Sweep")
	defer span.End()

	r.mu.RLock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.mu.Lock()
		j, ok := r.jobs[id]
		if !ok || !now.After(j.ExpiresAt) {
			r.mu.Unlock()
			continue
		}
		if !j.Status.Terminal() {
			j.Status = domain.JobExpired
			j.UpdatedAt = now
			done := now
			j.CompletedAt = &done
			expired++
		} else {
			delete(r.jobs, id)
			if j.ClientRequestID != "" {
				key := idemKey{userID: j.UserID, clientRequestID: j.ClientRequestID}
				if r.byIdem[key] == id {
					delete(r.byIdem, key)
				}
			}
			deleted++
		}
		r.mu.Unlock()
	}

	// Drop index entries whose target vanished through other paths.
	r.mu.Lock()
	for key, id := range r.byIdem {
		if _, ok := r.jobs[id]; !ok {
			delete(r.byIdem, key)
		}
	}
	r.mu.Unlock()

	return expired, deleted
}

// Purge removes a record immediately. Diagnostics and tests only; not
// reachable over HTTP.
func (r *JobRegistry) Purge(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.Purge")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("op=job.purge: %w", domain.ErrNotFound)
	}
	delete(r.jobs, id)
	if j.ClientRequestID != "" {
		key := idemKey{userID: j.UserID, clientRequestID: j.ClientRequestID}
		if r.byIdem[key] == id {
			delete(r.byIdem, key)
		}
	}
	return nil
}

// Len reports the number of records currently held.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
