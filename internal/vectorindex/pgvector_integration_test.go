//go:build integration

package vectorindex

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/testutil/pgtest"
)

func TestPgVector_Lifecycle(t *testing.T) {
	idx := NewPgVector(pgtest.NewPool(t))
	ctx := context.Background()

	_, err := idx.Search(ctx, AnswerKeyCollection, []float32{1, 0}, Filter{}, 3)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := idx.EnsureCollection(ctx, AnswerKeyCollection, 2)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	_, err = idx.EnsureCollection(ctx, AnswerKeyCollection, 3)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	require.NoError(t, idx.Insert(ctx, AnswerKeyCollection, records("other", []float32{1, 0})))

	recs := records("key-1", []float32{1, 0}, []float32{0.6, 0.8}, []float32{0, 1})
	for range 2 {
		require.NoError(t, idx.Replace(ctx, AnswerKeyCollection, "key-1", recs))
	}

	n, err := idx.Count(ctx, AnswerKeyCollection, OwnerFilter("key-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := idx.Search(ctx, AnswerKeyCollection, []float32{1, 0}, OwnerFilter("key-1"), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ChunkID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-5)
	assert.Equal(t, 1, got[1].ChunkID)

	from := 1
	deleted, err := idx.Delete(ctx, AnswerKeyCollection, Filter{OwnerID: "key-1", MinChunkID: &from})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
