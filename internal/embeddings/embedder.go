// Package embeddings turns chunk and query text into vectors through a remote provider.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/pkg/cache"
)

// Defaults applied by NewEmbedder when a param is zero.
const (
	DefaultMaxBatchSize  = 512
	DefaultMaxConcurrent = 4
	queryCacheName       = "query_embedding"
)

// Provider is one remote embedding API. Implementations return one vector per input, in input order.
type Provider interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

// EmbedderParams configures an Embedder.
type EmbedderParams struct {
	Provider   Provider
	Model      string
	Dimensions int
	// MaxBatchSize bounds one provider call; longer inputs are split into sub-batches.
	MaxBatchSize int
	// MaxConcurrent bounds sub-batches in flight.
	MaxConcurrent int
	// RateLimit is provider calls per second; zero or negative disables throttling.
	RateLimit float64
	// QueryCacheSize is the number of cached query vectors; zero disables the cache.
	QueryCacheSize int
	Metrics        observability.EmbeddingMetrics
	CacheMetrics   observability.CacheMetrics
	Logger         *slog.Logger
}

// Embedder batches, throttles and validates calls to a Provider.
type Embedder struct {
	provider      Provider
	model         string
	dimensions    int
	maxBatchSize  int
	maxConcurrent int
	limiter       *rate.Limiter
	queryCache    *cache.LoaderCache[string, []float32]
	metrics       observability.EmbeddingMetrics
	cacheMetrics  observability.CacheMetrics
	logger        *slog.Logger
}

// NewEmbedder creates an Embedder. Provider and a positive Dimensions are required.
func NewEmbedder(params EmbedderParams) (*Embedder, error) {
	if params.Provider == nil {
		return nil, huberrors.NewConfigurationError("EMBEDDING_PROVIDER", "embedding provider is required")
	}

	if params.Dimensions <= 0 {
		return nil, huberrors.NewConfigurationError("EMBEDDING_DIMENSIONS",
			fmt.Sprintf("embedding dimensions must be positive, got %d", params.Dimensions))
	}

	e := &Embedder{
		provider:      params.Provider,
		model:         params.Model,
		dimensions:    params.Dimensions,
		maxBatchSize:  params.MaxBatchSize,
		maxConcurrent: params.MaxConcurrent,
		metrics:       params.Metrics,
		cacheMetrics:  params.CacheMetrics,
		logger:        params.Logger,
	}

	if e.maxBatchSize <= 0 {
		e.maxBatchSize = DefaultMaxBatchSize
	}

	if e.maxConcurrent <= 0 {
		e.maxConcurrent = DefaultMaxConcurrent
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if params.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(params.RateLimit), max(1, int(params.RateLimit)))
	}

	if params.QueryCacheSize > 0 {
		c, err := cache.New[string, []float32](cache.Options{MaxEntries: params.QueryCacheSize}, cacheKey)
		if err != nil {
			return nil, fmt.Errorf("create query cache: %w", err)
		}

		e.queryCache = c
	}

	return e, nil
}

// Dimensions returns the vector length every result is checked against.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Model returns the embedding model name (used in index fingerprints).
func (e *Embedder) Model() string { return e.model }

// EmbedBatch returns one vector per text, in order. Inputs longer than MaxBatchSize are
// split into sub-batches that run in parallel. On failure the returned
// *huberrors.EmbeddingFailure lists the input indices that have no vector.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	for i, t := range texts {
		if t == "" {
			return nil, huberrors.NewValidationError("texts", fmt.Sprintf("text at index %d is empty", i))
		}
	}

	ctx, span := observability.Tracer().Start(ctx, "embeddings.EmbedBatch")
	defer span.End()

	span.SetAttributes(attribute.Int("embedding.inputs", len(texts)))

	out := make([][]float32, len(texts))

	var (
		mu       sync.Mutex
		failed   []int
		failures []error
	)

	g := new(errgroup.Group)
	g.SetLimit(e.maxConcurrent)

	for start := 0; start < len(texts); start += e.maxBatchSize {
		end := min(start+e.maxBatchSize, len(texts))

		g.Go(func() error {
			vecs, err := e.embedSubBatch(ctx, texts[start:end])
			if err != nil {
				mu.Lock()
				for i := start; i < end; i++ {
					failed = append(failed, i)
				}

				failures = append(failures, err)
				mu.Unlock()

				return nil
			}

			copy(out[start:end], vecs)

			return nil
		})
	}

	_ = g.Wait()

	if len(failed) > 0 {
		slices.Sort(failed)

		err := &huberrors.EmbeddingFailure{Indices: failed, Err: errors.Join(failures...)}
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")

		return nil, err
	}

	return out, nil
}

func (e *Embedder) embedSubBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.recordProviderError(ctx, "rate_limit_wait")

			return nil, fmt.Errorf("wait for embedding rate limit: %w", err)
		}
	}

	started := time.Now()
	vecs, err := e.provider.CreateEmbeddings(ctx, texts)

	if err != nil {
		e.recordBatch(ctx, len(texts), time.Since(started), "error")
		e.recordProviderError(ctx, "provider_unavailable")
		e.logger.WarnContext(ctx, "embedding sub-batch failed", "size", len(texts), "error", err)

		return nil, err
	}

	if len(vecs) != len(texts) {
		e.recordBatch(ctx, len(texts), time.Since(started), "error")

		return nil, huberrors.NewProviderUnavailableError("embeddings", "create_embeddings", true,
			fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(texts)))
	}

	for i, v := range vecs {
		if len(v) != e.dimensions {
			e.recordBatch(ctx, len(texts), time.Since(started), "error")
			e.recordProviderError(ctx, "dimension_mismatch")

			return nil, huberrors.NewConfigurationError("EMBEDDING_DIMENSIONS",
				fmt.Sprintf("provider returned dimension %d at position %d, configured %d", len(v), i, e.dimensions))
		}
	}

	e.recordBatch(ctx, len(texts), time.Since(started), "success")

	return vecs, nil
}

// EmbedQuery embeds a single query text, serving repeats from the query cache.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, huberrors.NewValidationError("text", "query text is empty")
	}

	load := func(ctx context.Context, t string) ([]float32, error) {
		vecs, err := e.EmbedBatch(ctx, []string{t})
		if err != nil {
			return nil, err
		}

		return vecs[0], nil
	}

	if e.queryCache == nil {
		return load(ctx, text)
	}

	vec, hit, err := e.queryCache.Get(ctx, text, load)
	if err != nil {
		return nil, err
	}

	if e.cacheMetrics != nil {
		if hit {
			e.cacheMetrics.RecordHit(ctx, queryCacheName)
		} else {
			e.cacheMetrics.RecordMiss(ctx, queryCacheName)
		}
	}

	// Cached slices are shared; hand out a copy.
	return slices.Clone(vec), nil
}

func (e *Embedder) recordBatch(ctx context.Context, size int, d time.Duration, status string) {
	if e.metrics != nil {
		e.metrics.RecordBatch(ctx, size, d, status)
	}
}

func (e *Embedder) recordProviderError(ctx context.Context, reason string) {
	if e.metrics != nil {
		e.metrics.RecordProviderError(ctx, reason)
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}
