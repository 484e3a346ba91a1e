// Package main implements the Retina search API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/retina-search/retina/engine/domain"
	"github.com/retina-search/retina/engine/ingest"
	"github.com/retina-search/retina/engine/query"
	"github.com/retina-search/retina/engine/semantic"
	"github.com/retina-search/retina/pkg/clip"
	"github.com/retina-search/retina/pkg/metrics"
	"github.com/retina-search/retina/pkg/mid"
	"github.com/retina-search/retina/pkg/natsutil"
	"github.com/retina-search/retina/pkg/rewriter"
)

var met = metrics.New()

var (
	mSearches       = met.Counter("retina_api_searches_total", "Text searches served")
	mImageSearches  = met.Counter("retina_api_image_searches_total", "Image searches served")
	mSearchErrors   = met.Counter("retina_api_search_errors_total", "Searches that failed")
	mDegraded       = met.Counter("retina_api_degraded_total", "Searches served with the rewrite step degraded")
	mTranslations   = met.Counter("retina_api_translations_total", "Rewrite previews served")
	mIngestQueued   = met.Counter("retina_api_ingest_queued_total", "Index jobs published to NATS")
	mIngestInline   = met.Counter("retina_api_ingest_inline_total", "Index jobs run inline")
	mSearchDuration = met.Histogram("retina_api_search_duration_seconds", "Text search latency", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	ClipURL       string
	ClipModel     string
	RewriterURL   string
	RewriterKey   string
	RewriterModel string
	QdrantURL     string
	Collection    string
	VectorName    string
	Dimension     int
	Quantization  string
	OnDisk        bool
	NatsURL       string
	CORSOrigin    string
	RatePerSec    float64
	MetricsPort   int
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8080"),
		ClipURL:       envOr("CLIP_URL", "http://localhost:8000"),
		ClipModel:     envOr("CLIP_MODEL", ""),
		RewriterURL:   envOr("REWRITER_URL", ""),
		RewriterKey:   envOr("REWRITER_API_KEY", ""),
		RewriterModel: envOr("REWRITER_MODEL", "gpt-4o-mini"),
		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		Collection:    envOr("QDRANT_COLLECTION", "retina"),
		VectorName:    envOr("QDRANT_VECTOR_NAME", semantic.DefaultVectorName),
		Dimension:     envIntOr("EMBED_DIM", semantic.DefaultDimension),
		Quantization:  envOr("QDRANT_QUANTIZATION", "int8"),
		OnDisk:        envOr("QDRANT_ON_DISK", "true") == "true",
		NatsURL:       envOr("NATS_URL", ""),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
		RatePerSec:    float64(envIntOr("RATE_PER_SEC", 20)),
		MetricsPort:   envIntOr("METRICS_PORT", 9091),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

	// --- Connect to Qdrant ---
	quant := domain.QuantNone
	if cfg.Quantization == "int8" {
		quant = domain.QuantInt8
	}
	store, err := semantic.New(cfg.QdrantURL, domain.CollectionConfig{
		Name:         cfg.Collection,
		VectorName:   cfg.VectorName,
		Dimension:    cfg.Dimension,
		Quantization: quant,
		OnDisk:       cfg.OnDisk,
	})
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- Embedding provider ---
	embedder := clip.New(cfg.ClipURL, cfg.ClipModel)

	// --- Optional rewriter ---
	var rw query.Rewriter
	if cfg.RewriterURL != "" {
		rw = rewriter.New(rewriter.Opts{
			BaseURL:    cfg.RewriterURL,
			APIKey:     cfg.RewriterKey,
			Model:      cfg.RewriterModel,
			RatePerSec: 5,
			Burst:      5,
		})
	} else {
		logger.Warn("no rewriter configured, queries pass through unrewritten")
	}

	pipe := query.New(embedder, rw, query.DefaultOptions(), logger)

	// --- Indexer (inline fallback when NATS is not configured) ---
	indexer := ingest.New(ingest.Deps{Embedder: embedder, Store: store, Logger: logger})

	// --- Optional NATS for background indexing ---
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL, nats.Name("retina-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/search", handleSearch(pipe, store, logger))
	mux.HandleFunc("POST /api/search-image", handleSearchImage(pipe, store, logger))
	mux.HandleFunc("GET /api/translate", handleTranslate(pipe))
	mux.HandleFunc("POST /api/ingest", handleIngest(indexer, nc, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(met),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RatePerSec, int(cfg.RatePerSec)),
		mid.OTel("retina-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSearch(pipe *query.Pipeline, store *semantic.VectorStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := domain.SearchRequest{
			Query:    r.URL.Query().Get("q"),
			Category: r.URL.Query().Get("category"),
		}
		if k := r.URL.Query().Get("k"); k != "" {
			req.TopK, _ = strconv.Atoi(k)
		}
		req, err := domain.NormalizeSearchRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		mSearches.Inc()
		start := time.Now()

		processed, err := pipe.Process(r.Context(), req.Query)
		if err != nil {
			mSearchErrors.Inc()
			logger.Error("query processing failed", "err", err)
			writeError(w, http.StatusBadGateway, domain.ErrEmbedding)
			return
		}
		if processed.Degraded {
			mDegraded.Inc()
		}

		results, err := store.Search(r.Context(), processed.Vector, req.TopK, req.Category)
		if err != nil {
			mSearchErrors.Inc()
			logger.Error("search failed", "err", err)
			writeError(w, http.StatusInternalServerError, errors.New("search failed"))
			return
		}
		mSearchDuration.Since(start)

		writeJSON(w, http.StatusOK, domain.SearchResponse{
			Query:      req.Query,
			FinalQuery: processed.FinalQuery,
			Degraded:   processed.Degraded,
			Results:    results,
		})
	}
}

func handleSearchImage(pipe *query.Pipeline, store *semantic.VectorStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("image file is required"))
			return
		}
		defer file.Close()

		img, err := io.ReadAll(io.LimitReader(file, 32<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		topK := domain.DefaultTopK
		if k := r.URL.Query().Get("k"); k != "" {
			if n, err := strconv.Atoi(k); err == nil && n > 0 {
				topK = n
			}
		}

		mImageSearches.Inc()

		vector, err := pipe.ProcessImage(r.Context(), img)
		if err != nil {
			mSearchErrors.Inc()
			logger.Error("image embedding failed", "err", err)
			writeError(w, http.StatusBadGateway, domain.ErrEmbedding)
			return
		}

		results, err := store.Search(r.Context(), vector, topK, r.URL.Query().Get("category"))
		if err != nil {
			mSearchErrors.Inc()
			logger.Error("image search failed", "err", err)
			writeError(w, http.StatusInternalServerError, errors.New("search failed"))
			return
		}

		writeJSON(w, http.StatusOK, domain.SearchResponse{Results: results})
	}
}

func handleTranslate(pipe *query.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			writeError(w, http.StatusBadRequest, domain.ErrEmptyQuery)
			return
		}
		mTranslations.Inc()
		final, degraded := pipe.Rewrite(r.Context(), q)
		writeJSON(w, http.StatusOK, map[string]any{
			"input":      q,
			"translated": final,
			"degraded":   degraded,
		})
	}
}

func handleIngest(indexer *ingest.Indexer, nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job domain.IndexJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil || job.Root == "" {
			writeError(w, http.StatusBadRequest, errors.New("root folder is required"))
			return
		}
		if info, err := os.Stat(job.Root); err != nil || !info.IsDir() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid folder: %s", job.Root))
			return
		}

		// With NATS the job runs in the background indexer; without it
		// the indexing happens inline on this request.
		if nc != nil {
			if err := natsutil.Publish(r.Context(), nc, ingest.JobSubject, job); err != nil {
				logger.Error("index job publish failed", "err", err)
				writeError(w, http.StatusInternalServerError, errors.New("failed to enqueue index job"))
				return
			}
			mIngestQueued.Inc()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "root": job.Root})
			return
		}

		mIngestInline.Inc()
		report, err := indexer.IndexFolder(r.Context(), job.Root)
		if err != nil {
			logger.Error("inline indexing failed", "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
