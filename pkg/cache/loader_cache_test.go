package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntCache(t *testing.T, opts Options) *LoaderCache[int, string] {
	t.Helper()

	c, err := New[int, string](opts, strconv.Itoa)
	require.NoError(t, err)

	return c
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	_, err := New[int, string](Options{}, strconv.Itoa)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestGet_HitAfterMiss(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 4})

	var loads atomic.Int32

	load := func(_ context.Context, k int) (string, error) {
		loads.Add(1)

		return "v" + strconv.Itoa(k), nil
	}

	v, hit, err := c.Get(context.Background(), 1, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "v1", v)

	v, hit, err = c.Get(context.Background(), 1, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, 1, c.Len())
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 4})
	boom := errors.New("boom")
	calls := 0

	load := func(context.Context, int) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}

		return "ok", nil
	}

	_, _, err := c.Get(context.Background(), 7, load)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, hit, err := c.Get(context.Background(), 7, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v)
}

func TestGet_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 4})
	release := make(chan struct{})

	var loads atomic.Int32

	load := func(context.Context, int) (string, error) {
		loads.Add(1)
		<-release

		return "shared", nil
	}

	const n = 8

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)

	results := make([]string, n)

	started.Add(n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			started.Done()

			v, _, err := c.Get(context.Background(), 3, load)
			assert.NoError(t, err)

			results[i] = v
		}()
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())

	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestGet_WaiterCancellationDoesNotAbortLoad(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 4})
	release := make(chan struct{})
	done := make(chan struct{})

	load := func(ctx context.Context, _ int) (string, error) {
		defer close(done)
		<-release

		return "late", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)

	go func() {
		_, _, err := c.Get(ctx, 9, load)
		errc <- err
	}()

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	<-done

	require.Eventually(t, func() bool {
		_, ok := c.Peek(9)

		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLRUEviction(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 2})
	load := func(_ context.Context, k int) (string, error) { return strconv.Itoa(k), nil }

	for _, k := range []int{1, 2, 3} {
		_, _, err := c.Get(context.Background(), k, load)
		require.NoError(t, err)
	}

	_, ok := c.Peek(1)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestTTLExpiry(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 2, TTL: 30 * time.Millisecond})
	load := func(_ context.Context, k int) (string, error) { return strconv.Itoa(k), nil }

	_, _, err := c.Get(context.Background(), 1, load)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := c.Peek(1)

		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestInvalidateAndPurge(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 4})
	load := func(_ context.Context, k int) (string, error) { return strconv.Itoa(k), nil }

	for _, k := range []int{1, 2} {
		_, _, err := c.Get(context.Background(), k, load)
		require.NoError(t, err)
	}

	c.Invalidate(1)

	_, ok := c.Peek(1)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestGet_LoadKeepsCallerDeadline(t *testing.T) {
	c := newIntCache(t, Options{MaxEntries: 4})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	want, _ := ctx.Deadline()

	_, _, err := c.Get(ctx, 1, func(loadCtx context.Context, _ int) (string, error) {
		got, ok := loadCtx.Deadline()
		assert.True(t, ok)
		assert.Equal(t, want, got)

		return "x", nil
	})
	require.NoError(t, err)
}
