// Package minio implements the object store port on a MinIO (S3-compatible) server.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"log/slog"

	"github.com/fairyhunter13/bulk-download-service/internal/adapter/observability"
	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
)

// Store implements domain.ObjectStore on a single MinIO bucket.
type Store struct {
	client *miniogo.Client
	bucket string
	region string

	retryBase time.Duration
	retryMax  time.Duration
}

// New constructs a Store. It performs no network I/O; call EnsureBucket
// during startup before serving traffic.
func New(cfg config.Config) (*Store, error) {
	// Use otelhttp transport for distributed tracing
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("MinIO %s %s", r.Method, r.URL.Host)
		}),
	)
	client, err := miniogo.New(cfg.MinioEndpoint, &miniogo.Options{
		Creds:     credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("op=storage.new: %w", err)
	}
	retryBase := cfg.BackoffBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	retryMax := cfg.BackoffMax
	if retryMax <= 0 {
		retryMax = 30 * time.Second
	}
	return &Store{
		client:    client,
		bucket:    cfg.MinioBucket,
		region:    cfg.MinioRegion,
		retryBase: retryBase,
		retryMax:  retryMax,
	}, nil
}

// EnsureBucket verifies the artifact bucket exists, creating it when absent.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("op=storage.ensure_bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{Region: s.region}); err != nil {
		// Another replica may have won the creation race.
		if exists, exErr := s.client.BucketExists(ctx, s.bucket); exErr == nil && exists {
			return nil
		}
		return fmt.Errorf("op=storage.ensure_bucket: %w", err)
	}
	slog.Info("created artifact bucket", slog.String("bucket", s.bucket))
	return nil
}

// PutDescriptor uploads an artifact descriptor, retrying transient failures
// until the caller's context expires.
func (s *Store) PutDescriptor(ctx domain.Context, key string, body []byte, contentType string) error {
	ctx, span := otel.Tracer("storage.minio").Start(ctx, "storage.PutDescriptor")
	defer span.End()

	op := func() error {
		start := time.Now()
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), miniogo.PutObjectOptions{
			ContentType: contentType,
		})
		observability.ObserveStorageOp("put", time.Since(start))
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			slog.Warn("object store rejected put",
				slog.String("bucket", s.bucket),
				slog.String("key", key),
				slog.Any("error", err))
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("op=storage.put_descriptor: %w: %v", sentinelFor(err), err)
	}
	return nil
}

// PresignGet signs a GET URL for key, valid for ttl. Signing is local and
// needs no round trip to the server.
func (s *Store) PresignGet(ctx domain.Context, key string, ttl time.Duration) (string, time.Time, error) {
	ctx, span := otel.Tracer("storage.minio").Start(ctx, "storage.PresignGet")
	defer span.End()

	start := time.Now()
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, reqParams)
	observability.ObserveStorageOp("presign", time.Since(start))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("op=storage.presign_get: %w: %v", sentinelFor(err), err)
	}
	return u.String(), time.Now().Add(ttl), nil
}

// HealthCheck probes the bucket with a short deadline.
func (s *Store) HealthCheck(ctx domain.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	exists, err := s.client.BucketExists(ctx, s.bucket)
	observability.ObserveStorageOp("health", time.Since(start))
	if err != nil {
		return fmt.Errorf("op=storage.health: %w", err)
	}
	if !exists {
		return fmt.Errorf("op=storage.health: bucket %q missing", s.bucket)
	}
	return nil
}

func (s *Store) newBackOff() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.retryBase
	expo.MaxInterval = s.retryMax
	// The caller's context bounds the total retry budget.
	expo.MaxElapsedTime = 0
	return expo
}

// isPermanent reports whether a failure cannot be cured by retrying. Client
// errors other than throttling are permanent; everything else, including
// network-level failures, is worth another attempt.
func isPermanent(err error) bool {
	resp := miniogo.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return resp.StatusCode >= 400 && resp.StatusCode < 500
}

func sentinelFor(err error) error {
	if isPermanent(err) {
		return domain.ErrPermanent
	}
	return domain.ErrTransient
}
