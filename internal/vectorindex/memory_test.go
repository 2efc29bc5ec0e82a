package vectorindex

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/essaygrader/hub/internal/huberrors"
)

func records(owner string, vectors ...[]float32) []Record {
	out := make([]Record, len(vectors))
	for i, v := range vectors {
		out[i] = Record{OwnerID: owner, ChunkID: i, ChunkText: fmt.Sprintf("%s-%d", owner, i), Vector: v}
	}

	return out
}

func newMemoryWith(t *testing.T, recs ...Record) *Memory {
	t.Helper()

	m := NewMemory()
	_, err := m.EnsureCollection(context.Background(), AnswerKeyCollection, 2)
	require.NoError(t, err)
	require.NoError(t, m.Insert(context.Background(), AnswerKeyCollection, recs))

	return m
}

func TestMemory_EnsureCollection_ConcurrentIdempotent(t *testing.T) {
	m := NewMemory()

	var wg sync.WaitGroup

	errs := make(chan error, 16)

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := m.EnsureCollection(context.Background(), AnswerKeyCollection, 3)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, m.collections, 1)
}

func TestMemory_EnsureCollection_Rejects(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.EnsureCollection(ctx, "Bad-Name", 3)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	_, err = m.EnsureCollection(ctx, AnswerKeyCollection, 0)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	_, err = m.EnsureCollection(ctx, AnswerKeyCollection, 3)
	require.NoError(t, err)

	_, err = m.EnsureCollection(ctx, AnswerKeyCollection, 4)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)
}

func TestMemory_MissingCollectionFailsLoudly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Search(ctx, "nope", []float32{1, 0}, Filter{}, 3)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	err = m.Insert(ctx, "nope", nil)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	_, err = m.Count(ctx, "nope", Filter{})
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	ok, err := m.HasCollection(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Search_TopKAndOrdering(t *testing.T) {
	recs := records("key-1",
		[]float32{1, 0},
		[]float32{0.6, 0.8},
		[]float32{0, 1},
		[]float32{-1, 0},
	)
	recs = append(recs, records("key-2", []float32{1, 0}, []float32{1, 0.01})...)
	m := newMemoryWith(t, recs...)

	for _, k := range []int{0, 1, 2, 3, 4, 10} {
		t.Run(fmt.Sprintf("topK=%d", k), func(t *testing.T) {
			got, err := m.Search(context.Background(), AnswerKeyCollection, []float32{1, 0}, OwnerFilter("key-1"), k)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), k)
			assert.LessOrEqual(t, len(got), 4)

			for i := 1; i < len(got); i++ {
				assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
			}

			for _, r := range got {
				assert.Contains(t, r.ChunkText, "key-1-")
			}
		})
	}

	got, err := m.Search(context.Background(), AnswerKeyCollection, []float32{1, 0}, OwnerFilter("key-1"), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ChunkID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, 1, got[1].ChunkID)
}

func TestMemory_Insert_DimensionMismatch(t *testing.T) {
	m := newMemoryWith(t)

	err := m.Insert(context.Background(), AnswerKeyCollection, records("k", []float32{1, 2, 3}))
	require.ErrorIs(t, err, huberrors.ErrConfiguration)
}

func TestMemory_ReplaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMemoryWith(t, records("other", []float32{1, 1})...)
	recs := records("key-1", []float32{1, 0}, []float32{0, 1}, []float32{1, 1})

	for range 2 {
		require.NoError(t, m.Replace(ctx, AnswerKeyCollection, "key-1", recs))

		n, err := m.Count(ctx, AnswerKeyCollection, OwnerFilter("key-1"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	}

	n, err := m.Count(ctx, AnswerKeyCollection, OwnerFilter("other"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = m.Replace(ctx, AnswerKeyCollection, "key-1", records("someone-else", []float32{1, 0}))
	assert.ErrorIs(t, err, huberrors.ErrValidation)
}

func TestMemory_InsertAppendsDuplicates(t *testing.T) {
	ctx := context.Background()
	recs := records("key-1", []float32{1, 0})
	m := newMemoryWith(t, recs...)

	require.NoError(t, m.Insert(ctx, AnswerKeyCollection, recs))

	n, err := m.Count(ctx, AnswerKeyCollection, OwnerFilter("key-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemory_DeleteFromChunk(t *testing.T) {
	ctx := context.Background()
	m := newMemoryWith(t, records("key-1", []float32{1, 0}, []float32{0, 1}, []float32{1, 1}, []float32{1, 2})...)

	from := 2
	deleted, err := m.Delete(ctx, AnswerKeyCollection, Filter{OwnerID: "key-1", MinChunkID: &from})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := m.Count(ctx, AnswerKeyCollection, OwnerFilter("key-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
