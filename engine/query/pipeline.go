package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/retina-search/retina/engine/domain"
)

// DefaultMaxQueryLen is the character budget for a raw query before it
// reaches classification and embedding. Truncation is silent policy, not
// an error: it bounds external-call cost.
const DefaultMaxQueryLen = 200

// DefaultRewriteTokens caps the rewriter's output length.
const DefaultRewriteTokens = 64

// Embedder maps text or image bytes to a fixed-dimension vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, img []byte) ([]float32, error)
}

// Rewriter optionally rewrites a query into caption style. Calls are
// latent and fallible; the pipeline treats every error as degradation,
// never as request failure.
type Rewriter interface {
	Rewrite(ctx context.Context, query string, maxTokens int) (string, error)
}

// Options configures the pipeline's cost-control knobs.
type Options struct {
	MaxQueryLen   int
	RewriteTokens int
	CacheSize     int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxQueryLen:   DefaultMaxQueryLen,
		RewriteTokens: DefaultRewriteTokens,
		CacheSize:     DefaultCacheCapacity,
	}
}

// Pipeline composes truncation, intent classification, the rewrite cache,
// the rewriter, and the embedder into one query processing flow.
type Pipeline struct {
	embed    Embedder
	rewriter Rewriter
	intents  *Classifier
	cache    *Cache
	opts     Options
	logger   *slog.Logger
}

// New creates a query pipeline. rewriter may be nil, in which case every
// query passes through unrewritten.
func New(embed Embedder, rewriter Rewriter, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxQueryLen <= 0 {
		opts.MaxQueryLen = DefaultMaxQueryLen
	}
	if opts.RewriteTokens <= 0 {
		opts.RewriteTokens = DefaultRewriteTokens
	}
	return &Pipeline{
		embed:    embed,
		rewriter: rewriter,
		intents:  NewClassifier(),
		cache:    NewCache(opts.CacheSize),
		opts:     opts,
		logger:   logger,
	}
}

// Processed is the outcome of running a raw query through the pipeline.
type Processed struct {
	Vector     []float32
	FinalQuery string
	// Degraded reports that the rewrite step failed and the original
	// (truncated) query was embedded instead.
	Degraded bool
}

// Process turns a raw query into its embedding vector. Rewriter
// unavailability never fails the call; it only sets Degraded. Embedding
// failures do fail it, wrapped in the domain.ErrEmbedding chain by the
// provider.
func (p *Pipeline) Process(ctx context.Context, raw string) (Processed, error) {
	final, degraded := p.finalQuery(ctx, raw)

	vector, err := p.embed.EmbedText(ctx, final)
	if err != nil {
		return Processed{FinalQuery: final, Degraded: degraded},
			fmt.Errorf("query: embed %q: %w", final, err)
	}
	return Processed{Vector: vector, FinalQuery: final, Degraded: degraded}, nil
}

// ProcessImage embeds an image query directly; no rewrite path applies.
func (p *Pipeline) ProcessImage(ctx context.Context, img []byte) ([]float32, error) {
	vector, err := p.embed.EmbedImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("query: embed image: %w", err)
	}
	return vector, nil
}

// Rewrite exposes the translate step alone: the query after truncation,
// classification, and (if needed) cached rewriting.
func (p *Pipeline) Rewrite(ctx context.Context, raw string) (string, bool) {
	return p.finalQuery(ctx, raw)
}

// finalQuery applies truncation, classification, and the cached rewrite
// with fallback to the truncated original.
func (p *Pipeline) finalQuery(ctx context.Context, raw string) (string, bool) {
	truncated := truncate(raw, p.opts.MaxQueryLen)

	if p.rewriter == nil || p.intents.Classify(truncated) == domain.IntentPassThrough {
		return truncated, false
	}

	key := NormalizeKey(truncated)
	outcome, err := p.cache.GetOrCompute(key, func() (Outcome, error) {
		start := time.Now()
		rewritten, rerr := p.rewriter.Rewrite(ctx, truncated, p.opts.RewriteTokens)
		if rerr != nil {
			return Outcome{}, rerr
		}
		p.logger.Info("query rewritten",
			"original", truncated,
			"rewritten", rewritten,
			"duration", time.Since(start),
		)
		return Outcome{Rewritten: rewritten, Decided: time.Now()}, nil
	})
	if err != nil {
		p.logger.Warn("query rewrite unavailable, using original query", "err", err)
		return truncated, true
	}
	if outcome.Rewritten == "" {
		return truncated, false
	}
	return outcome.Rewritten, false
}

// truncate cuts s to at most max runes without splitting a rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
