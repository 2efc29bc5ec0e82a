// Package bootstrap builds the grader's providers, vector index and services from configuration.
// The API server and gradectl share it so both grade with the same wiring.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/essaygrader/hub/internal/chunker"
	"github.com/essaygrader/hub/internal/config"
	"github.com/essaygrader/hub/internal/embeddings"
	"github.com/essaygrader/hub/internal/googleai"
	"github.com/essaygrader/hub/internal/grading"
	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/localai"
	"github.com/essaygrader/hub/internal/models"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/internal/openai"
	"github.com/essaygrader/hub/internal/providers"
	"github.com/essaygrader/hub/internal/repository"
	"github.com/essaygrader/hub/internal/service"
	"github.com/essaygrader/hub/internal/vectorindex"
	"github.com/essaygrader/hub/pkg/cache"
)

// EmbeddingProvider is a remote embedding API that can name its model.
type EmbeddingProvider interface {
	embeddings.Provider
	EmbeddingModel() string
}

// ChatProvider is a remote LLM that can name its model.
type ChatProvider interface {
	service.LLM
	Model() string
}

func retryPolicy(cfg *config.Config) providers.RetryPolicy {
	p := providers.DefaultRetryPolicy()
	p.MaxRetries = cfg.ProviderMaxRetries

	return p
}

// NewEmbeddingProvider returns the client selected by EMBEDDING_PROVIDER.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config) (EmbeddingProvider, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		if cfg.EmbeddingProviderAPIKey == "" {
			return nil, huberrors.NewConfigurationError("EMBEDDING_PROVIDER_API_KEY", "required for the openai provider")
		}

		opts := []openai.ClientOption{
			openai.WithModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
			openai.WithRetryPolicy(retryPolicy(cfg)),
		}
		if cfg.EmbeddingBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.EmbeddingBaseURL))
		}

		return openai.NewClient(cfg.EmbeddingProviderAPIKey, opts...), nil
	case config.ProviderGoogle:
		if cfg.EmbeddingProviderAPIKey == "" {
			return nil, huberrors.NewConfigurationError("EMBEDDING_PROVIDER_API_KEY", "required for the google provider")
		}

		client, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimensions),
			googleai.WithBaseURL(cfg.EmbeddingBaseURL),
			googleai.WithRetryPolicy(retryPolicy(cfg)),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	case config.ProviderLocal:
		client, err := localai.NewClient(baseURLOrDefault(cfg.EmbeddingBaseURL), cfg.EmbeddingProviderAPIKey,
			localai.WithModel(cfg.EmbeddingModel),
			localai.WithRetryPolicy(retryPolicy(cfg)),
		)
		if err != nil {
			return nil, fmt.Errorf("create local embedding client: %w", err)
		}

		return client, nil
	default:
		return nil, huberrors.NewConfigurationError("EMBEDDING_PROVIDER", "unsupported provider "+cfg.EmbeddingProvider)
	}
}

// NewChatProvider returns the client selected by LLM_PROVIDER.
func NewChatProvider(ctx context.Context, cfg *config.Config) (ChatProvider, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		if cfg.LLMAPIKey == "" {
			return nil, huberrors.NewConfigurationError("LLM_API_KEY", "required for the openai provider")
		}

		opts := []openai.ClientOption{
			openai.WithChatModel(cfg.LLMModel),
			openai.WithTemperature(cfg.LLMTemperature),
			openai.WithRetryPolicy(retryPolicy(cfg)),
		}
		if cfg.LLMBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLMBaseURL))
		}

		return openai.NewClient(cfg.LLMAPIKey, opts...), nil
	case config.ProviderGoogle:
		if cfg.LLMAPIKey == "" {
			return nil, huberrors.NewConfigurationError("LLM_API_KEY", "required for the google provider")
		}

		client, err := googleai.NewClient(ctx, cfg.LLMAPIKey,
			googleai.WithChatModel(cfg.LLMModel),
			googleai.WithTemperature(cfg.LLMTemperature),
			googleai.WithBaseURL(cfg.LLMBaseURL),
			googleai.WithRetryPolicy(retryPolicy(cfg)),
		)
		if err != nil {
			return nil, fmt.Errorf("create google chat client: %w", err)
		}

		return client, nil
	case config.ProviderLocal:
		client, err := localai.NewClient(baseURLOrDefault(cfg.LLMBaseURL), cfg.LLMAPIKey,
			localai.WithChatModel(cfg.LLMModel),
			localai.WithTemperature(cfg.LLMTemperature),
			localai.WithRetryPolicy(retryPolicy(cfg)),
		)
		if err != nil {
			return nil, fmt.Errorf("create local chat client: %w", err)
		}

		return client, nil
	default:
		return nil, huberrors.NewConfigurationError("LLM_PROVIDER", "unsupported provider "+cfg.LLMProvider)
	}
}

func baseURLOrDefault(u string) string {
	if u == "" {
		return localai.DefaultBaseURL
	}

	return u
}

// NewVectorIndex returns the backend selected by VECTOR_STORE. db is only used by pgvector.
func NewVectorIndex(cfg *config.Config, db *pgxpool.Pool) (vectorindex.Index, error) {
	switch cfg.VectorStore {
	case config.VectorStorePgvector:
		if db == nil {
			return nil, huberrors.NewConfigurationError("VECTOR_STORE", "pgvector needs a database pool")
		}

		return vectorindex.NewPgVector(db), nil
	case config.VectorStoreQdrant:
		q, err := vectorindex.NewQdrant(vectorindex.QdrantOptions{
			URL:      cfg.QdrantURL,
			APIKey:   cfg.QdrantAPIKey,
			RetryMax: cfg.ProviderMaxRetries,
			Timeout:  cfg.SearchTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create qdrant index: %w", err)
		}

		return q, nil
	case config.VectorStoreMemory:
		slog.Warn("using in-memory vector index; vectors are lost on restart")

		return vectorindex.NewMemory(), nil
	default:
		return nil, huberrors.NewConfigurationError("VECTOR_STORE", "unsupported vector store "+cfg.VectorStore)
	}
}

// Services is the wired service layer.
type Services struct {
	AnswerKeys     *service.AnswerKeysService
	StudentAnswers *service.StudentAnswersService
	Indexing       *service.IndexingService
	Assessments    *service.AssessmentsService
	Assessor       *service.Assessor
}

// Params are the already-built dependencies NewServices wires together.
type Params struct {
	Config    *config.Config
	DB        *pgxpool.Pool
	Embedding EmbeddingProvider
	Chat      ChatProvider
	Index     vectorindex.Index
	// Metrics may be nil when metrics are disabled.
	Metrics  *observability.Metrics
	Observer service.StateObserver
	Logger   *slog.Logger
}

// NewServices builds repositories, the embedder and every service. Async indexing stays
// disabled until Services.Indexing.SetInserter is called.
func NewServices(p Params) (*Services, error) {
	cfg := p.Config

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := p.Metrics
	if metrics == nil {
		metrics = &observability.Metrics{}
	}

	embedder, err := embeddings.NewEmbedder(embeddings.EmbedderParams{
		Provider:       p.Embedding,
		Model:          p.Embedding.EmbeddingModel(),
		Dimensions:     cfg.EmbeddingDimensions,
		MaxBatchSize:   cfg.EmbeddingMaxBatchSize,
		MaxConcurrent:  cfg.EmbeddingMaxConcurrent,
		RateLimit:      cfg.EmbeddingRateLimit,
		QueryCacheSize: cfg.EmbeddingQueryCacheSize,
		Metrics:        metrics.Embeddings,
		CacheMetrics:   metrics.Cache,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	var answerKeysRepo service.AnswerKeysRepository = repository.NewAnswerKeysRepository(p.DB)

	if cfg.AnswerKeyCacheSize > 0 {
		answerKeyCache, err := cache.New[uuid.UUID, *models.AnswerKey](
			cache.Options{MaxEntries: cfg.AnswerKeyCacheSize, TTL: cfg.AnswerKeyCacheTTL}, uuid.UUID.String)
		if err != nil {
			return nil, fmt.Errorf("create answer key cache: %w", err)
		}

		answerKeysRepo = service.NewCachingAnswerKeysRepository(answerKeysRepo, answerKeyCache, metrics.Cache)
	}
	studentAnswersRepo := repository.NewStudentAnswersRepository(p.DB)
	assessmentsRepo := repository.NewAssessmentsRepository(p.DB)

	indexing, err := service.NewIndexingService(service.IndexingServiceParams{
		AnswerKeys:     answerKeysRepo,
		StudentAnswers: studentAnswersRepo,
		Embedder:       embedder,
		Index:          p.Index,
		Progress:       repository.NewIndexProgressRepository(p.DB),
		Chunking:       chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		MaxAttempts:    cfg.IndexingMaxAttempts,
		Metrics:        metrics.Indexing,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create indexing service: %w", err)
	}

	assessor := service.NewAssessor(service.AssessorParams{
		AnswerKeys:     answerKeysRepo,
		StudentAnswers: studentAnswersRepo,
		Embedder:       embedder,
		Index:          p.Index,
		LLM:            p.Chat,
		LLMProvider:    cfg.LLMProvider,
		Store:          assessmentsRepo,
		Usage:          repository.NewLLMUsageRepository(p.DB),
		Parser:         grading.NewParser(cfg.DefaultConfidence),
		TopK:           cfg.RetrievalTopK,
		EmbedTimeout:   cfg.EmbedTimeout,
		SearchTimeout:  cfg.SearchTimeout,
		LLMTimeout:     cfg.LLMTimeout,
		Observer:       p.Observer,
		Metrics:        metrics.Assessments,
		LLMMetrics:     metrics.LLM,
		Logger:         logger,
	})

	return &Services{
		AnswerKeys:     service.NewAnswerKeysService(answerKeysRepo),
		StudentAnswers: service.NewStudentAnswersService(studentAnswersRepo),
		Indexing:       indexing,
		Assessments:    service.NewAssessmentsService(assessmentsRepo, assessor),
		Assessor:       assessor,
	}, nil
}
