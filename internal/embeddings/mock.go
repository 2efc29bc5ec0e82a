package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	pkgembeddings "github.com/essaygrader/hub/pkg/embeddings"
)

// MockProvider is a Provider that derives unit vectors from a hash of each input.
// Identical texts always map to identical vectors.
type MockProvider struct {
	dimensions int
	calls      atomic.Int64
}

// NewMockProvider creates a mock provider with the given dimension (1536 when zero).
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 1536
	}

	return &MockProvider{dimensions: dimensions}
}

// Calls returns how many CreateEmbeddings calls were made.
func (m *MockProvider) Calls() int64 { return m.calls.Load() }

// CreateEmbeddings implements Provider.
func (m *MockProvider) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	m.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(inputs))

	for i, text := range inputs {
		if text == "" {
			return nil, fmt.Errorf("input at index %d is empty", i)
		}

		out[i] = m.vector(text)
	}

	return out, nil
}

func (m *MockProvider) vector(text string) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, m.dimensions)

	for i := range vec {
		// cycle hash bytes, mapped to [-1, 1]
		vec[i] = float32(hash[i%len(hash)])/127.5 - 1.0
	}

	pkgembeddings.NormalizeL2(vec)

	return vec
}

var _ Provider = (*MockProvider)(nil)
