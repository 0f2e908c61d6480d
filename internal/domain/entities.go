package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrQueueFull       = errors.New("queue full")
	ErrNotReady        = errors.New("not ready")
	ErrGone            = errors.New("gone")
	ErrRateLimited     = errors.New("rate limited")
	ErrTransient       = errors.New("transient failure")
	ErrPermanent       = errors.New("permanent failure")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInternal        = errors.New("internal error")
)

// Priority selects the queue class. Standard drains before low.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityLow      Priority = "low"
)

// ParsePriority normalizes a request value. Empty means standard; anything
// else outside the two classes is rejected.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityStandard, nil
	case PriorityStandard:
		return PriorityStandard, nil
	case PriorityLow:
		return PriorityLow, nil
	default:
		return "", ErrInvalidArgument
	}
}

type JobStatus string

const (
	JobQueued              JobStatus = "queued"
	JobRunning             JobStatus = "running"
	JobProcessingArtifacts JobStatus = "processing_artifacts"
	JobCompleted           JobStatus = "completed"
	JobFailed              JobStatus = "failed"
	JobCancelled           JobStatus = "cancelled"
	JobExpired             JobStatus = "expired"
)

// Terminal reports whether no further transitions may leave s.
// failed is terminal only once attempts are exhausted; the registry gates
// the failed -> queued edge on that.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobExpired:
		return true
	}
	return false
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobRunning || to == JobCancelled || to == JobExpired
	case JobRunning:
		return to == JobProcessingArtifacts || to == JobFailed || to == JobCancelled || to == JobExpired
	case JobProcessingArtifacts:
		return to == JobCompleted || to == JobFailed || to == JobCancelled || to == JobExpired
	case JobFailed:
		return to == JobQueued
	default:
		return false
	}
}

// Job error codes recorded on terminal failure.
const (
	ErrorCodeTransient = "transient"
	ErrorCodePermanent = "permanent"
	ErrorCodeInternal  = "internal"
)

// JobResult is populated only when the job completed.
type JobResult struct {
	URL          string
	Checksum     string
	Size         int64
	URLExpiresAt time.Time
}

// JobError is populated only when the job failed.
type JobError struct {
	Code          string
	Message       string
	LastAttemptAt time.Time
}

// Job is the unit of asynchronous download work.
// Invariants: terminal status implies CompletedAt set; completed implies
// Result set and Error nil; failed implies Error set and Result nil;
// Attempts <= MaxAttempts; ExpiresAt fixed at creation.
type Job struct {
	ID              string
	FileIDs         []int64
	ClientRequestID string
	UserID          string
	Priority        Priority
	Status          JobStatus
	ProgressPercent int
	Message         string
	Attempts        int
	MaxAttempts     int
	Result          *JobResult
	Error           *JobError
	RetryAfterMs    int64
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExpiresAt       time.Time
	UpdatedAt       time.Time
}

// Clone deep-copies the record so readers never alias registry state.
func (j Job) Clone() Job {
	out := j
	out.FileIDs = append([]int64(nil), j.FileIDs...)
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// JobFilter narrows List results for diagnostics.
type JobFilter struct {
	Status JobStatus
	UserID string
	Limit  int
}

// Repositories (ports)

// JobRegistry owns all job state. Insert reports whether an existing record
// was returned instead of storing a new one (idempotency hit). Update applies
// the mutator under per-record exclusion and rejects illegal status edges.
type JobRegistry interface {
	Insert(ctx Context, j Job) (Job, bool, error)
	Get(ctx Context, id string) (Job, error)
	Update(ctx Context, id string, mutate func(*Job) error) (Job, error)
	List(ctx Context, f JobFilter) ([]Job, error)
	Sweep(ctx Context, now time.Time) (expired, deleted int)
	Purge(ctx Context, id string) error
	Len() int
}

// Queue (port)

// WorkQueue is the bounded two-class queue between the facade and the pool.
// Enqueue never blocks past capacity; it fails fast with ErrQueueFull.
type WorkQueue interface {
	Enqueue(ctx Context, jobID string, p Priority) error
	Dequeue(ctx Context) (string, error)
	Len() (standard, low int)
	Close()
}

// ObjectStore (port)

type ObjectStore interface {
	PutDescriptor(ctx Context, key string, body []byte, contentType string) error
	PresignGet(ctx Context, key string, ttl time.Duration) (string, time.Time, error)
	HealthCheck(ctx Context) error
}

// ArtifactStager (port)

// ArtifactStager turns a job into a retrievable artifact reference.
type ArtifactStager interface {
	Stage(ctx Context, j Job) (JobResult, error)
}

// Context is an alias to context.Context so ports read uniformly without the
// domain importing adapters; callers pass standard contexts through.
type Context = context.Context
