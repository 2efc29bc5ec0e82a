package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Run("getEnv falls back on empty value", func(t *testing.T) {
		t.Setenv("GRADER_TEST_EMPTY", "")
		assert.Equal(t, "default", getEnv("GRADER_TEST_EMPTY", "default"))
	})

	t.Run("getEnvAsInt ignores garbage", func(t *testing.T) {
		t.Setenv("GRADER_TEST_INT", "twelve")
		assert.Equal(t, 7, getEnvAsInt("GRADER_TEST_INT", 7))
	})

	t.Run("getEnvAsFloat parses decimals", func(t *testing.T) {
		t.Setenv("GRADER_TEST_FLOAT", "0.35")
		assert.InDelta(t, 0.35, getEnvAsFloat("GRADER_TEST_FLOAT", 1), 1e-9)
	})

	t.Run("getEnvAsDuration parses go durations", func(t *testing.T) {
		t.Setenv("GRADER_TEST_DURATION", "90s")
		assert.Equal(t, 90*time.Second, getEnvAsDuration("GRADER_TEST_DURATION", time.Second))
	})

	t.Run("getEnvAsBool falls back on garbage", func(t *testing.T) {
		t.Setenv("GRADER_TEST_BOOL", "maybe")
		assert.True(t, getEnvAsBool("GRADER_TEST_BOOL", true))
	})
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("API_KEY", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("EMBEDDING_PROVIDER_API_KEY", "sk-embed")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, ProviderOpenAI, cfg.EmbeddingProvider)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "gpt-4", cfg.LLMModel)
	assert.Equal(t, "sk-embed", cfg.LLMAPIKey)
	assert.Equal(t, 1536, cfg.EmbeddingDimensions)
	assert.Equal(t, 512, cfg.EmbeddingMaxBatchSize)
	assert.Equal(t, 3, cfg.RetrievalTopK)
	assert.InDelta(t, 70.0, cfg.DefaultConfidence, 1e-9)
	assert.InDelta(t, 0.2, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, VectorStorePgvector, cfg.VectorStore)
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 256, cfg.AnswerKeyCacheSize)
	assert.Equal(t, 5*time.Minute, cfg.AnswerKeyCacheTTL)
	assert.Equal(t, 60*time.Second, cfg.OtelMetricExportInterval)
}

func TestLoad_LLMModelFollowsProvider(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("LLM_PROVIDER", "google")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLMModel)

	t.Setenv("LLM_MODEL", "gemini-2.5-pro")

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLMModel)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"overlap equal to size", map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"}},
		{"negative overlap", map[string]string{"CHUNK_OVERLAP": "-1"}},
		{"zero top k", map[string]string{"RETRIEVAL_TOP_K": "0"}},
		{"confidence above 100", map[string]string{"DEFAULT_CONFIDENCE": "120"}},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "anthropic-direct"}},
		{"unknown vector store", map[string]string{"VECTOR_STORE": "milvus"}},
		{"qdrant without url", map[string]string{"VECTOR_STORE": "qdrant"}},
		{"zero llm timeout", map[string]string{"LLM_TIMEOUT": "0s"}},
		{"zero answer key cache", map[string]string{"ANSWER_KEY_CACHE_SIZE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("API_KEY", "secret")

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_LocalProviders(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("LLM_PROVIDER", "LOCAL")
	t.Setenv("LLM_BASE_URL", "http://localhost:1234/v1")
	t.Setenv("VECTOR_STORE", "qdrant")
	t.Setenv("QDRANT_URL", "http://localhost:6333")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, cfg.LLMProvider)
	assert.Equal(t, "http://localhost:1234/v1", cfg.LLMBaseURL)
	assert.Equal(t, VectorStoreQdrant, cfg.VectorStore)
}
