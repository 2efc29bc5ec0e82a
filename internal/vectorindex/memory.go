package vectorindex

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/essaygrader/hub/pkg/embeddings"
)

type memoryCollection struct {
	dimension int
	records   []Record
}

// Memory is an in-process Index with brute-force cosine ranking (tests, VECTOR_STORE=memory).
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) EnsureCollection(_ context.Context, name string, dimension int) (string, error) {
	if err := validateEnsure(name, dimension); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[name]; ok {
		if c.dimension != dimension {
			return "", dimensionMismatch(name, c.dimension, dimension)
		}

		return name, nil
	}

	m.collections[name] = &memoryCollection{dimension: dimension}

	return name, nil
}

func (m *Memory) HasCollection(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.collections[name]

	return ok, nil
}

func (m *Memory) Insert(_ context.Context, collection string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return missingCollection(collection)
	}

	if err := checkRecords(collection, c.dimension, records); err != nil {
		return err
	}

	c.records = append(c.records, cloneRecords(records)...)

	return nil
}

func (m *Memory) Delete(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return 0, missingCollection(collection)
	}

	return c.delete(filter), nil
}

func (c *memoryCollection) delete(filter Filter) int64 {
	before := len(c.records)
	c.records = slices.DeleteFunc(c.records, filter.matches)

	return int64(before - len(c.records))
}

func (m *Memory) Replace(_ context.Context, collection, ownerID string, records []Record) error {
	if err := checkReplaceOwner(ownerID, records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return missingCollection(collection)
	}

	if err := checkRecords(collection, c.dimension, records); err != nil {
		return err
	}

	c.delete(OwnerFilter(ownerID))
	c.records = append(c.records, cloneRecords(records)...)

	return nil
}

func (m *Memory) Search(_ context.Context, collection string, query []float32, filter Filter, topK int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, missingCollection(collection)
	}

	if len(query) != c.dimension {
		return nil, dimensionMismatch(collection, c.dimension, len(query))
	}

	results := []SearchResult{}
	if topK <= 0 {
		return results, nil
	}

	for _, r := range c.records {
		if !filter.matches(r) {
			continue
		}

		results = append(results, SearchResult{
			ChunkText: r.ChunkText,
			ChunkID:   r.ChunkID,
			Score:     embeddings.Cosine(query, r.Vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func (m *Memory) Count(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return 0, missingCollection(collection)
	}

	var n int64

	for _, r := range c.records {
		if filter.matches(r) {
			n++
		}
	}

	return n, nil
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		r.Vector = slices.Clone(r.Vector)
		out[i] = r
	}

	return out
}

var _ Index = (*Memory)(nil)
