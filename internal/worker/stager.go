package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"log/slog"

	"github.com/fairyhunter13/bulk-download-service/internal/config"
	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
	"github.com/fairyhunter13/bulk-download-service/pkg/textx"
)

// descriptorFile is one entry in the artifact descriptor.
type descriptorFile struct {
	FileID int64 `json:"file_id"`
	Bytes  int64 `json:"bytes"`
}

// descriptor is the JSON document staged as the download artifact.
type descriptor struct {
	JobID      string           `json:"job_id"`
	UserID     string           `json:"user_id,omitempty"`
	Priority   string           `json:"priority"`
	FileCount  int              `json:"file_count"`
	TotalBytes int64            `json:"total_bytes"`
	Files      []descriptorFile `json:"files"`
	StagedAt   time.Time        `json:"staged_at"`
}

// Stager implements domain.ArtifactStager: it writes a descriptor document
// for the simulated transfer and presigns a GET URL for it.
type Stager struct {
	store   domain.ObjectStore
	catalog config.Catalog
	clk     clock.Clock
	urlTTL  time.Duration
}

// NewStager constructs a Stager.
func NewStager(store domain.ObjectStore, catalog config.Catalog, clk clock.Clock, urlTTL time.Duration) *Stager {
	if clk == nil {
		clk = clock.System{}
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &Stager{store: store, catalog: catalog, clk: clk, urlTTL: urlTTL}
}

// ArtifactKey returns the object key for a job's descriptor. The user scope
// is sanitized so caller-supplied ids cannot escape the downloads prefix.
func ArtifactKey(j domain.Job) string {
	return fmt.Sprintf("downloads/%s/%s/manifest.json", textx.SafeSegment(j.UserID, "anonymous"), j.ID)
}

// Stage builds, uploads, and presigns the artifact descriptor for a job.
func (s *Stager) Stage(ctx domain.Context, j domain.Job) (domain.JobResult, error) {
	ctx, span := otel.Tracer("worker.stager").Start(ctx, "StageArtifact")
	defer span.End()

	if len(j.FileIDs) == 0 {
		return domain.JobResult{}, fmt.Errorf("op=stager.stage: %w: job %s has no file ids", domain.ErrPermanent, j.ID)
	}

	files := make([]descriptorFile, len(j.FileIDs))
	var total int64
	for i, id := range j.FileIDs {
		n := s.catalog.BytesFor(id)
		files[i] = descriptorFile{FileID: id, Bytes: n}
		total += n
	}
	doc := descriptor{
		JobID:      j.ID,
		UserID:     j.UserID,
		Priority:   string(j.Priority),
		FileCount:  len(files),
		TotalBytes: total,
		Files:      files,
		StagedAt:   s.clk.Now().UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("op=stager.stage: %w: marshal descriptor: %v", domain.ErrPermanent, err)
	}
	sum := sha256.Sum256(body)
	key := ArtifactKey(j)

	if err := s.store.PutDescriptor(ctx, key, body, "application/json"); err != nil {
		return domain.JobResult{}, fmt.Errorf("op=stager.stage: %w", err)
	}
	rawURL, expiresAt, err := s.store.PresignGet(ctx, key, s.urlTTL)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("op=stager.stage: %w", err)
	}

	slog.Info("artifact staged",
		slog.String("job_id", j.ID),
		slog.String("key", key),
		slog.Int("descriptor_bytes", len(body)),
		slog.Int64("total_bytes", total))

	return domain.JobResult{
		URL:          rawURL,
		Checksum:     "sha256:" + hex.EncodeToString(sum[:]),
		Size:         int64(len(body)),
		URLExpiresAt: expiresAt,
	}, nil
}
