// Command indexer populates the vector collection from a folder of
// images laid out as root/<category>/<files>. It runs a single folder
// once, or listens for index jobs on NATS.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/retina-search/retina/engine/domain"
	"github.com/retina-search/retina/engine/ingest"
	"github.com/retina-search/retina/engine/semantic"
	"github.com/retina-search/retina/pkg/clip"
	"github.com/retina-search/retina/pkg/metrics"
)

var met = metrics.New()

var (
	mImagesIndexed = met.Counter("retina_index_images_total", "Images indexed")
	mImagesSkipped = met.Counter("retina_index_skipped_total", "Files skipped")
	mUpsertsFailed = met.Counter("retina_index_failed_upserts_total", "Records not persisted after retries")
	mRunsTotal     = met.Counter("retina_index_runs_total", "Folder indexing runs")
	mRunErrors     = met.Counter("retina_index_run_errors_total", "Folder indexing runs that failed")
	mRunDuration   = met.Histogram("retina_index_run_duration_seconds", "Folder indexing run time", nil)
	mActiveRuns    = met.Gauge("retina_index_active_runs", "Currently running index jobs")
)

func main() {
	var (
		root        = flag.String("root", "", "image folder to index (one-shot mode)")
		clipURL     = flag.String("clip", "http://localhost:8000", "CLIP service base URL")
		clipModel   = flag.String("clip-model", "", "CLIP model name")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "retina", "Qdrant collection name")
		vectorName  = flag.String("vector-name", semantic.DefaultVectorName, "named vector to write")
		dims        = flag.Int("dim", semantic.DefaultDimension, "embedding dimension")
		quant       = flag.String("quantization", "int8", "vector quantization: int8 or none")
		onDisk      = flag.Bool("on-disk", true, "store vectors on disk")
		batchSize   = flag.Int("batch", ingest.DefaultBatchSize, "records per upsert batch")
		workers     = flag.Int("workers", ingest.DefaultEmbedWorkers, "concurrent embed calls per batch")
		natsURL     = flag.String("nats", "", "NATS URL; with -listen, consume index jobs")
		listen      = flag.Bool("listen", false, "consume index jobs from NATS instead of one-shot")
		metricsPort = flag.Int("metrics-port", 9092, "Prometheus metrics port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	q := domain.QuantNone
	if *quant == "int8" {
		q = domain.QuantInt8
	}
	store, err := semantic.New(*qdrantAddr, domain.CollectionConfig{
		Name:         *collection,
		VectorName:   *vectorName,
		Dimension:    *dims,
		Quantization: q,
		OnDisk:       *onDisk,
	})
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx); err != nil {
		logger.Error("ensure collection failed", "err", err)
		os.Exit(1)
	}
	logger.Info("connected to Qdrant", "collection", *collection, "dim", *dims, "quantization", *quant)

	indexer := ingest.New(ingest.Deps{
		Embedder:     clip.New(*clipURL, *clipModel),
		Store:        store,
		BatchSize:    *batchSize,
		EmbedWorkers: *workers,
		Logger:       logger,
	})

	runJob := func(ctx context.Context, job domain.IndexJob) {
		mActiveRuns.Inc()
		start := time.Now()
		report, err := indexer.IndexFolder(ctx, job.Root)
		mActiveRuns.Dec()
		mRunDuration.Since(start)
		mRunsTotal.Inc()

		mImagesIndexed.Add(int64(report.Indexed))
		mImagesSkipped.Add(int64(len(report.Skipped)))
		mUpsertsFailed.Add(int64(len(report.FailedUpserts)))

		if err != nil {
			mRunErrors.Inc()
			logger.Error("index run failed", "root", job.Root, "err", err)
			return
		}
		out, _ := json.Marshal(report)
		logger.Info("index run complete", "root", job.Root, "report", string(out))
	}

	if *listen {
		if *natsURL == "" {
			logger.Error("-listen requires -nats")
			os.Exit(1)
		}
		nc, err := nats.Connect(*natsURL, nats.Name("retina-indexer"))
		if err != nil {
			logger.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer nc.Close()

		sub, err := ingest.StartConsumer(nc, indexer, logger)
		if err != nil {
			logger.Error("subscribe failed", "err", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()

		logger.Info("listening for index jobs", "subject", ingest.JobSubject)
		<-ctx.Done()
		logger.Info("shutting down")
		return
	}

	if *root == "" {
		logger.Error("-root is required in one-shot mode")
		os.Exit(1)
	}
	runJob(ctx, domain.IndexJob{Root: *root})
}
