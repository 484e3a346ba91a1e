// Package ingest provides the indexing pipeline: it walks a one-level
// category folder structure, embeds images, and batches the resulting
// records into the vector store. Per-file problems are recorded and
// skipped, never aborting the run.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/retina-search/retina/engine/domain"
	"github.com/retina-search/retina/pkg/fn"
)

const (
	// DefaultBatchSize is how many records accumulate before an upsert.
	DefaultBatchSize = 64
	// DefaultEmbedWorkers bounds concurrent embedding calls per batch.
	DefaultEmbedWorkers = 4
)

// ImageEmbedder maps raw image bytes to an embedding vector.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, img []byte) ([]float32, error)
}

// Upserter persists image records.
type Upserter interface {
	Upsert(ctx context.Context, records []domain.ImageRecord) error
}

// Deps holds the external collaborators of the indexing pipeline.
type Deps struct {
	Embedder     ImageEmbedder
	Store        Upserter
	BatchSize    int
	EmbedWorkers int
	EmbedRetry   fn.RetryOpts
	Logger       *slog.Logger
}

// Indexer runs folder and single-image indexing.
type Indexer struct {
	deps Deps
	log  *slog.Logger
}

// New creates an Indexer with defaults filled in.
func New(deps Deps) *Indexer {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.EmbedWorkers <= 0 {
		deps.EmbedWorkers = DefaultEmbedWorkers
	}
	if deps.EmbedRetry.MaxAttempts <= 0 {
		deps.EmbedRetry = fn.DefaultRetry
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{deps: deps, log: log}
}

// RecordID derives the stable record identifier for an image path.
// SHA1-UUID over the path keeps IDs deterministic across re-index runs,
// so re-indexing updates records in place instead of duplicating them.
func RecordID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// IndexFolder indexes root/<category>/<images>. The returned report is
// meaningful even on error: it covers everything processed before the
// failure. Cancellation stops between batches, leaving the store valid.
func (x *Indexer) IndexFolder(ctx context.Context, root string) (domain.IndexReport, error) {
	report := domain.IndexReport{Started: time.Now()}
	defer func() { report.Duration = time.Since(report.Started) }()

	files, err := collectImages(root)
	if err != nil {
		return report, err
	}
	x.log.Info("folder walk complete", "root", root, "candidates", len(files))

	for _, batch := range fn.Chunk(files, x.deps.BatchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		records := x.embedBatch(ctx, batch, &report)
		if len(records) == 0 {
			continue
		}
		if err := x.flush(ctx, records, &report); err != nil {
			return report, err
		}
	}

	x.log.Info("folder indexed",
		"root", root,
		"indexed", report.Indexed,
		"skipped", len(report.Skipped),
		"failed_upserts", len(report.FailedUpserts),
	)
	return report, nil
}

// IndexImage indexes a single image into the given category.
func (x *Indexer) IndexImage(ctx context.Context, path, category string) (domain.ImageRecord, error) {
	file := imageFile{Path: path, Filename: filepath.Base(path), Category: category}
	rec, err := x.buildRecord(ctx, file)
	if err != nil {
		return domain.ImageRecord{}, err
	}
	if err := x.deps.Store.Upsert(ctx, []domain.ImageRecord{rec}); err != nil {
		return domain.ImageRecord{}, err
	}
	return rec, nil
}

// embedBatch turns files into records with bounded concurrency. Files
// that cannot be read, decoded, or embedded land in report.Skipped.
func (x *Indexer) embedBatch(ctx context.Context, batch []imageFile, report *domain.IndexReport) []domain.ImageRecord {
	results := fn.ParMapResult(batch, x.deps.EmbedWorkers, func(f imageFile) fn.Result[domain.ImageRecord] {
		return fn.FromPair(x.buildRecord(ctx, f))
	})

	records := make([]domain.ImageRecord, 0, len(batch))
	for i, r := range results {
		rec, err := r.Unwrap()
		if err != nil {
			x.log.Warn("skipping file", "path", batch[i].Path, "reason", err)
			report.Skipped = append(report.Skipped, domain.SkippedFile{Path: batch[i].Path, Reason: err.Error()})
			continue
		}
		records = append(records, rec)
	}
	return records
}

// buildRecord reads, decode-sniffs, and embeds one image file.
func (x *Indexer) buildRecord(ctx context.Context, f imageFile) (domain.ImageRecord, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return domain.ImageRecord{}, fmt.Errorf("read: %w", err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return domain.ImageRecord{}, fmt.Errorf("decode: %w", err)
	}

	result := fn.Retry(ctx, x.deps.EmbedRetry, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(x.deps.Embedder.EmbedImage(ctx, data))
	})
	vector, err := result.Unwrap()
	if err != nil {
		return domain.ImageRecord{}, fmt.Errorf("embed: %w", err)
	}

	return domain.ImageRecord{
		ID:       RecordID(f.Path),
		Filename: f.Filename,
		Path:     f.Path,
		Category: f.Category,
		Vector:   vector,
	}, nil
}

// flush upserts one batch. Partial failures surface as failed record IDs
// in the report; schema conflicts abort the run.
func (x *Indexer) flush(ctx context.Context, records []domain.ImageRecord, report *domain.IndexReport) error {
	err := x.deps.Store.Upsert(ctx, records)
	if err == nil {
		report.Indexed += len(records)
		return nil
	}

	var ue *domain.UpsertError
	if errors.As(err, &ue) {
		x.log.Warn("partial upsert failure", "failed", len(ue.FailedIDs), "err", ue.Err)
		report.FailedUpserts = append(report.FailedUpserts, ue.FailedIDs...)
		report.Indexed += len(records) - len(ue.FailedIDs)
		return nil
	}
	return err
}
