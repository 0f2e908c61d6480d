// Command server starts the bulk download job service: the HTTP API, the
// worker pool, and the registry sweeper share one process because the job
// registry is process-local.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/bulk-download-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/bulk-download-service/internal/adapter/observability"
	"github.com/fairyhunter13/bulk-download-service/internal/adapter/queue/memqueue"
	jobsrepo "github.com/fairyhunter13/bulk-download-service/internal/adapter/repo/memory"
	memstore "github.com/fairyhunter13/bulk-download-service/internal/adapter/storage/memory"
	miniostore "github.com/fairyhunter13/bulk-download-service/internal/adapter/storage/minio"
	"github.com/fairyhunter13/bulk-download-service/internal/app"
	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/internal/usecase"
	"github.com/fairyhunter13/bulk-download-service/internal/worker"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, job, and queue instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	clk := clock.NewSystem()

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		slog.Warn("catalog not loaded, using built-in size bands",
			slog.String("path", cfg.CatalogPath),
			slog.Any("error", err))
		catalog = config.DefaultCatalog()
	}

	// Object storage. The memory backend keeps artifacts in-process for dev
	// runs without a MinIO endpoint.
	var store domain.ObjectStore
	if cfg.UseMemoryStorage() {
		slog.Warn("using in-process object store; artifacts are lost on restart")
		store = memstore.New(clk)
	} else {
		ms, err := miniostore.New(cfg)
		if err != nil {
			slog.Error("object store init failed", slog.Any("error", err))
			os.Exit(1)
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			slog.Error("artifact bucket unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		store = ms
	}

	// Engine: registry, queue, stager, pool.
	jobs := jobsrepo.NewJobRegistry(clk)
	queue := memqueue.New(cfg.QueueCapacity)
	stager := worker.NewStager(store, catalog, clk, cfg.ArtifactURLTTL)
	pool := worker.NewPool(cfg, jobs, queue, stager, clk)
	pool.Start(ctx)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeper := app.NewSweeper(jobs, clk, cfg.SweepInterval)
	go sweeper.Run(sweepCtx)

	// Facade + HTTP surface.
	downloads := usecase.NewDownloadService(cfg, jobs, queue, store, clk)
	srv := httpserver.NewServer(cfg, downloads, jobs, queue)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	// Stop intake first, then drain the pool; the sweeper goes last so it can
	// still expire records the drain leaves behind.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	queue.Close()
	pool.Shutdown(cfg.ShutdownGrace)
	stopSweeper()
}
