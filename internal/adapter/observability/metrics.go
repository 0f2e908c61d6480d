package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "download_jobs_enqueued_total",
			Help: "Total number of download jobs enqueued by priority",
		},
		[]string{"priority"},
	)
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "download_jobs_running",
			Help: "Number of download attempts currently executing",
		},
	)
	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "download_jobs_completed_total",
			Help: "Total number of download jobs completed",
		},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "download_jobs_failed_total",
			Help: "Total number of download jobs terminally failed by error code",
		},
		[]string{"code"},
	)
	JobsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "download_jobs_cancelled_total",
			Help: "Total number of download jobs cancelled",
		},
	)
	JobsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "download_jobs_expired_total",
			Help: "Total number of download jobs expired by the sweeper",
		},
	)
	JobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "download_job_retries_total",
			Help: "Total number of attempts re-enqueued after a transient failure",
		},
	)
	AttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "download_attempt_duration_seconds",
			Help:    "Wall duration of one processing attempt",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 180},
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "work_queue_depth",
			Help: "Current work queue depth per priority class",
		},
		[]string{"class"},
	)
	RegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "job_registry_size",
			Help: "Number of job records currently held in the registry",
		},
	)

	StorageRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_request_duration_seconds",
			Help:    "Object storage request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsCancelledTotal)
	prometheus.MustRegister(JobsExpiredTotal)
	prometheus.MustRegister(JobRetriesTotal)
	prometheus.MustRegister(AttemptDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(RegistrySize)
	prometheus.MustRegister(StorageRequestDuration)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(priority string) {
	JobsEnqueuedTotal.WithLabelValues(priority).Inc()
}

// StartAttempt and EndAttempt bracket one worker attempt.
func StartAttempt() {
	JobsRunning.Inc()
}

func EndAttempt(elapsed time.Duration) {
	JobsRunning.Dec()
	AttemptDuration.Observe(elapsed.Seconds())
}

func CompleteJob() {
	JobsCompletedTotal.Inc()
}

func FailJob(code string) {
	JobsFailedTotal.WithLabelValues(code).Inc()
}

func CancelJob() {
	JobsCancelledTotal.Inc()
}

func ExpireJobs(n int) {
	if n > 0 {
		JobsExpiredTotal.Add(float64(n))
	}
}

func RetryJob() {
	JobRetriesTotal.Inc()
}

func SetQueueDepth(standard, low int) {
	QueueDepth.WithLabelValues("standard").Set(float64(standard))
	QueueDepth.WithLabelValues("low").Set(float64(low))
}

func SetRegistrySize(n int) {
	RegistrySize.Set(float64(n))
}

// ObserveStorageOp records one object-storage round trip.
func ObserveStorageOp(operation string, elapsed time.Duration) {
	StorageRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
