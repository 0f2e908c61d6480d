package httpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/internal/usecase"
)

// Server aggregates handler dependencies. Jobs and Queue are exposed only to
// the admin diagnostics surface; regular endpoints go through Downloads.
type Server struct {
	Cfg       config.Config
	Downloads usecase.DownloadService
	Jobs      domain.JobRegistry
	Queue     domain.WorkQueue
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, downloads usecase.DownloadService, jobs domain.JobRegistry, queue domain.WorkQueue) *Server {
	return &Server{Cfg: cfg, Downloads: downloads, Jobs: jobs, Queue: queue}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// InitiateHandler accepts a bulk download request and returns the job handle
// immediately; all work happens in the background pool.
func (s *Server) InitiateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
			return
		}
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			FileIDs         []int64 `json:"file_ids" validate:"required,min=1"`
			ClientRequestID string  `json:"clientRequestId" validate:"omitempty,max=128"`
			UserID          string  `json:"userId" validate:"omitempty,max=256"`
			Priority        string  `json:"priority" validate:"omitempty,oneof=standard low"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		// The Idempotency-Key header is an alternative spelling of the body
		// field; the body wins when both are present.
		if req.ClientRequestID == "" {
			req.ClientRequestID = r.Header.Get("Idempotency-Key")
		}
		res, err := s.Downloads.Initiate(r.Context(), req.FileIDs, req.ClientRequestID, req.UserID, req.Priority)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// StatusHandler returns the job snapshot. It honors If-None-Match so pollers
// only pay for transfers when the record actually changed.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
			return
		}
		id := chi.URLParam(r, "jobID")
		j, err := s.Downloads.Status(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		m := BuildJobEnvelope(j)
		etag := makeETag(m)
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// DownloadHandler resolves a completed job to its presigned artifact URL and
// redirects. ?format=json returns the snapshot as JSON instead, for clients
// that follow the URL themselves. A not-yet-finished job answers 409 with the
// current snapshot so pollers can reuse the response.
func (s *Server) DownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		res, err := s.Downloads.Resolve(r.Context(), id)
		switch {
		case err == nil:
			if r.URL.Query().Get("format") == "json" {
				writeJSON(w, http.StatusOK, BuildJobEnvelope(res.Job))
				return
			}
			http.Redirect(w, r, res.URL, http.StatusFound)
		case errors.Is(err, domain.ErrNotReady):
			writeJSON(w, http.StatusConflict, BuildJobEnvelope(res.Job))
		case errors.Is(err, domain.ErrGone):
			writeError(w, r, err, goneDetails(res.Job))
		default:
			writeError(w, r, err, nil)
		}
	}
}

func goneDetails(j domain.Job) map[string]any {
	d := map[string]any{"status": string(j.Status)}
	if j.Error != nil {
		d["error"] = map[string]any{"code": j.Error.Code, "message": j.Error.Message}
	}
	return d
}

// CancelHandler stops a job that has not reached a terminal state yet.
// Cancelling twice, or cancelling a settled job, returns the snapshot as-is.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		j, err := s.Downloads.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildJobEnvelope(j))
	}
}

// HealthHandler reports service health in the flat shape monitors expect:
// an overall status plus one entry per collaborator.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := s.Downloads.Readiness(ctx)
		out := make(map[string]string, len(checks))
		healthy := true
		for _, c := range checks {
			v := "ok"
			if !c.OK {
				v = "error"
				healthy = false
			}
			out[c.Name] = v
		}
		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "checks": out})
	}
}

// ReadyzHandler probes collaborators and reports them individually.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := s.Downloads.Readiness(ctx)
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml if present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

// BuildJobEnvelope renders a job snapshot for API responses. Result and error
// blocks appear only in the states that populate them.
func BuildJobEnvelope(j domain.Job) map[string]any {
	m := map[string]any{
		"jobId":           j.ID,
		"status":          string(j.Status),
		"priority":        string(j.Priority),
		"fileIds":         j.FileIDs,
		"totalFileIds":    len(j.FileIDs),
		"progressPercent": j.ProgressPercent,
		"message":         j.Message,
		"attempts":        j.Attempts,
		"maxAttempts":     j.MaxAttempts,
		"createdAt":       j.CreatedAt.UTC(),
		"updatedAt":       j.UpdatedAt.UTC(),
		"expiresAt":       j.ExpiresAt.UTC(),
	}
	if j.UserID != "" {
		m["userId"] = j.UserID
	}
	if j.ClientRequestID != "" {
		m["clientRequestId"] = j.ClientRequestID
	}
	if j.RetryAfterMs > 0 {
		m["retryAfterMs"] = j.RetryAfterMs
	}
	if j.StartedAt != nil {
		m["startedAt"] = j.StartedAt.UTC()
	}
	if j.CompletedAt != nil {
		m["completedAt"] = j.CompletedAt.UTC()
	}
	if j.Status == domain.JobCompleted && j.Result != nil {
		m["result"] = map[string]any{
			"url":          j.Result.URL,
			"checksum":     j.Result.Checksum,
			"size":         j.Result.Size,
			"urlExpiresAt": j.Result.URLExpiresAt.UTC(),
		}
	}
	if j.Status == domain.JobFailed && j.Error != nil {
		m["error"] = map[string]any{
			"code":          j.Error.Code,
			"message":       j.Error.Message,
			"lastAttemptAt": j.Error.LastAttemptAt.UTC(),
		}
	}
	return m
}

func makeETag(v any) string {
	b, _ := json.Marshal(v)
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}
