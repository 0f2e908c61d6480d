package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/bulk-download-service/internal/domain"
)

// MountAdmin mounts the JSON diagnostics surface behind basic auth. Nothing
// here mutates job state; maintenance operations stay out of HTTP reach.
func (s *Server) MountAdmin(r chi.Router) {
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(BasicAuth(s.Cfg))
		ar.Get("/jobs", s.AdminListJobs())
		ar.Get("/jobs/{jobID}", s.AdminJobDetails())
		ar.Get("/stats", s.AdminStats())
	})
}

// AdminListJobs lists job snapshots, newest first, with optional status,
// user, and limit filters.
func (s *Server) AdminListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if res := ValidateStatus(q.Get("status")); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid status filter", domain.ErrInvalidArgument), res.Errors)
			return
		}
		if res := ValidateUserID(q.Get("user_id")); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid user filter", domain.ErrInvalidArgument), res.Errors)
			return
		}
		limit := 50
		if raw := q.Get("limit"); raw != "" {
			if res := ValidateLimit(raw); !res.Valid {
				writeError(w, r, fmt.Errorf("%w: invalid limit", domain.ErrInvalidArgument), res.Errors)
				return
			}
			limit, _ = strconv.Atoi(raw)
		}
		jobs, err := s.Jobs.List(r.Context(), domain.JobFilter{
			Status: domain.JobStatus(q.Get("status")),
			UserID: q.Get("user_id"),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]map[string]any, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, BuildJobEnvelope(j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "count": len(out)})
	}
}

// AdminJobDetails returns the full snapshot of one job.
func (s *Server) AdminJobDetails() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		if res := ValidateJobID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid job id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		j, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildJobEnvelope(j))
	}
}

// AdminStats reports registry and queue occupancy plus a per-status census.
func (s *Server) AdminStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := s.Jobs.List(r.Context(), domain.JobFilter{})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		byStatus := map[string]int{}
		for _, j := range jobs {
			byStatus[string(j.Status)]++
		}
		std, low := s.Queue.Len()
		writeJSON(w, http.StatusOK, map[string]any{
			"registrySize": s.Jobs.Len(),
			"queue":        map[string]int{"standard": std, "low": low},
			"byStatus":     byStatus,
		})
	}
}
