package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/essaygrader/hub/internal/huberrors"
)

type mockProvider struct {
	createFunc func(ctx context.Context, inputs []string) ([][]float32, error)

	mu      sync.Mutex
	batches [][]string
}

func (m *mockProvider) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	m.mu.Lock()
	m.batches = append(m.batches, inputs)
	m.mu.Unlock()

	return m.createFunc(ctx, inputs)
}

// echoVectors encodes the input number ("t7" -> 7) in the first component.
func echoVectors(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))

	for i, in := range inputs {
		var n int
		_, _ = fmt.Sscanf(in, "t%d", &n)
		out[i] = []float32{float32(n), 1}
	}

	return out, nil
}

func inputs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%d", i)
	}

	return out
}

func TestNewEmbedder_Validation(t *testing.T) {
	_, err := NewEmbedder(EmbedderParams{Dimensions: 2})
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	_, err = NewEmbedder(EmbedderParams{Provider: NewMockProvider(2)})
	require.ErrorIs(t, err, huberrors.ErrConfiguration)
}

func TestEmbedBatch_PreservesOrderAcrossSubBatches(t *testing.T) {
	p := &mockProvider{createFunc: echoVectors}

	e, err := NewEmbedder(EmbedderParams{Provider: p, Dimensions: 2, MaxBatchSize: 3, MaxConcurrent: 4})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), inputs(10))
	require.NoError(t, err)
	require.Len(t, vecs, 10)

	for i, v := range vecs {
		assert.InDelta(t, float32(i), v[0], 1e-9, "position %d", i)
	}

	assert.Len(t, p.batches, 4)

	for _, b := range p.batches {
		assert.LessOrEqual(t, len(b), 3)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e, err := NewEmbedder(EmbedderParams{Provider: NewMockProvider(4), Dimensions: 4})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedBatch_RejectsEmptyText(t *testing.T) {
	e, err := NewEmbedder(EmbedderParams{Provider: NewMockProvider(4), Dimensions: 4})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, huberrors.ErrValidation)
}

func TestEmbedBatch_FailureCarriesIndices(t *testing.T) {
	providerErr := huberrors.NewProviderUnavailableError("openai", "embeddings", true, errors.New("429"))
	p := &mockProvider{createFunc: func(ctx context.Context, in []string) ([][]float32, error) {
		if strings.HasPrefix(in[0], "t3") {
			return nil, providerErr
		}

		return echoVectors(ctx, in)
	}}

	e, err := NewEmbedder(EmbedderParams{Provider: p, Dimensions: 2, MaxBatchSize: 3})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), inputs(7))
	require.Error(t, err)

	var failure *huberrors.EmbeddingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []int{3, 4, 5}, failure.Indices)
	assert.True(t, huberrors.IsRetryable(err))
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	e, err := NewEmbedder(EmbedderParams{Provider: NewMockProvider(8), Dimensions: 4})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a"})
	require.ErrorIs(t, err, huberrors.ErrConfiguration)
	assert.False(t, huberrors.IsRetryable(err))
}

func TestEmbedBatch_WrongVectorCount(t *testing.T) {
	p := &mockProvider{createFunc: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}}

	e, err := NewEmbedder(EmbedderParams{Provider: p, Dimensions: 2})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, huberrors.ErrProviderUnavailable)
}

func TestEmbedQuery_UsesCache(t *testing.T) {
	mock := NewMockProvider(16)

	e, err := NewEmbedder(EmbedderParams{Provider: mock, Dimensions: 16, QueryCacheSize: 10})
	require.NoError(t, err)

	first, err := e.EmbedQuery(context.Background(), "photosynthesis")
	require.NoError(t, err)

	second, err := e.EmbedQuery(context.Background(), "photosynthesis")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), mock.Calls())

	// mutating the returned slice must not poison the cache
	first[0] = 42

	third, err := e.EmbedQuery(context.Background(), "photosynthesis")
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestEmbedQuery_NoCache(t *testing.T) {
	mock := NewMockProvider(16)

	e, err := NewEmbedder(EmbedderParams{Provider: mock, Dimensions: 16})
	require.NoError(t, err)

	for range 2 {
		_, err = e.EmbedQuery(context.Background(), "same")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), mock.Calls())

	_, err = e.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, huberrors.ErrValidation)
}

func TestMockProvider_Deterministic(t *testing.T) {
	m := NewMockProvider(32)

	a, err := m.CreateEmbeddings(context.Background(), []string{"x", "y", "x"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[2])
	assert.NotEqual(t, a[0], a[1])
	assert.Len(t, a[0], 32)
}
