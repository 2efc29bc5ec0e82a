package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/pkg/embeddings"
)

// fakeQdrant implements the subset of the Qdrant REST API the client uses.
type fakeQdrant struct {
	mu          sync.Mutex
	dims        map[string]int
	points      map[string]map[string]qdrantPoint
	createCalls int
	failSearch  atomic.Bool
	// hideGets makes the next N collection lookups answer 404.
	hideGets atomic.Int32
}

func (f *fakeQdrant) seed(name string, dim int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dims[name] = dim
	f.points[name] = map[string]qdrantPoint{}
}

func (f *fakeQdrant) stats(name string) (creates, points int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.createCalls, len(f.points[name])
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *Qdrant) {
	t.Helper()

	f := &fakeQdrant{dims: map[string]int{}, points: map[string]map[string]qdrantPoint{}}
	srv := httptest.NewServer(f.routes())
	t.Cleanup(srv.Close)

	q, err := NewQdrant(QdrantOptions{URL: srv.URL, RetryMax: 1})
	require.NoError(t, err)

	q.httpClient.RetryWaitMin = 0
	q.httpClient.RetryWaitMax = 0

	return f, q
}

type fakeFilter struct {
	Must []struct {
		Key   string `json:"key"`
		Match *struct {
			Value string `json:"value"`
		} `json:"match"`
		Range *struct {
			Gte int `json:"gte"`
		} `json:"range"`
	} `json:"must"`
	MustNot []struct {
		HasID []string `json:"has_id"`
	} `json:"must_not"`
}

func (ff fakeFilter) matches(p qdrantPoint) bool {
	owner, _ := p.Payload[payloadOwnerID].(string)
	chunk := toInt(p.Payload[payloadChunkID])

	for _, c := range ff.Must {
		if c.Match != nil && owner != c.Match.Value {
			return false
		}

		if c.Range != nil && chunk < c.Range.Gte {
			return false
		}
	}

	for _, c := range ff.MustNot {
		if slices.Contains(c.HasID, p.ID) {
			return false
		}
	}

	return true
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return -1
	}
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func (f *fakeQdrant) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		if f.hideGets.Add(-1) >= 0 {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)

			return
		}

		f.hideGets.Store(0)

		f.mu.Lock()
		defer f.mu.Unlock()

		d, ok := f.dims[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)

			return
		}

		writeResult(w, map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": d}}}})
	})

	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()

		f.createCalls++

		if _, ok := f.dims[r.PathValue("name")]; ok {
			http.Error(w, `{"status":{"error":"already exists"}}`, http.StatusConflict)

			return
		}

		f.dims[r.PathValue("name")] = body.Vectors.Size
		f.points[r.PathValue("name")] = map[string]qdrantPoint{}
		writeResult(w, true)
	})

	mux.HandleFunc("PUT /collections/{name}/index", func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, map[string]any{"status": "completed"})
	})

	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()

		for _, p := range body.Points {
			f.points[r.PathValue("name")][p.ID] = p
		}

		writeResult(w, map[string]any{"status": "completed"})
	})

	mux.HandleFunc("POST /collections/{name}/points/delete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filter fakeFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()

		for id, p := range f.points[r.PathValue("name")] {
			if body.Filter.matches(p) {
				delete(f.points[r.PathValue("name")], id)
			}
		}

		writeResult(w, map[string]any{"status": "completed"})
	})

	mux.HandleFunc("POST /collections/{name}/points/count", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filter fakeFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()

		n := 0

		for _, p := range f.points[r.PathValue("name")] {
			if body.Filter.matches(p) {
				n++
			}
		}

		writeResult(w, map[string]any{"count": n})
	})

	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		if f.failSearch.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)

			return
		}

		var body struct {
			Vector []float32  `json:"vector"`
			Limit  int        `json:"limit"`
			Filter fakeFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()

		type hit struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}

		hits := []hit{}

		for _, p := range f.points[r.PathValue("name")] {
			if body.Filter.matches(p) {
				hits = append(hits, hit{Score: embeddings.Cosine(body.Vector, p.Vector), Payload: p.Payload})
			}
		}

		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}

		writeResult(w, hits)
	})

	return mux
}

func TestQdrant_EnsureCollection(t *testing.T) {
	f, q := newFakeQdrant(t)
	ctx := context.Background()

	name, err := q.EnsureCollection(ctx, AnswerKeyCollection, 2)
	require.NoError(t, err)
	assert.Equal(t, AnswerKeyCollection, name)

	_, err = q.EnsureCollection(ctx, AnswerKeyCollection, 2)
	require.NoError(t, err)

	creates, _ := f.stats(AnswerKeyCollection)
	assert.Equal(t, 1, creates)

	_, err = q.EnsureCollection(ctx, AnswerKeyCollection, 3)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)

	ok, err := q.HasCollection(ctx, AnswerKeyCollection)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQdrant_EnsureCollection_LostRace(t *testing.T) {
	f, q := newFakeQdrant(t)

	// Another process creates the collection between our lookup and our create.
	f.seed(StudentAnswerCollection, 2)
	f.hideGets.Store(1)

	_, err := q.EnsureCollection(context.Background(), StudentAnswerCollection, 2)
	require.NoError(t, err)

	creates, _ := f.stats(StudentAnswerCollection)
	assert.Equal(t, 1, creates)
}

func TestQdrant_MissingCollection(t *testing.T) {
	_, q := newFakeQdrant(t)

	_, err := q.Search(context.Background(), AnswerKeyCollection, []float32{1, 0}, Filter{}, 3)
	require.ErrorIs(t, err, huberrors.ErrConfiguration)
}

func TestQdrant_ReplaceAndSearch(t *testing.T) {
	f, q := newFakeQdrant(t)
	ctx := context.Background()

	_, err := q.EnsureCollection(ctx, AnswerKeyCollection, 2)
	require.NoError(t, err)

	require.NoError(t, q.Insert(ctx, AnswerKeyCollection, records("other", []float32{1, 0})))

	first := records("key-1", []float32{1, 0}, []float32{0, 1}, []float32{0.6, 0.8})
	require.NoError(t, q.Replace(ctx, AnswerKeyCollection, "key-1", first))
	require.NoError(t, q.Replace(ctx, AnswerKeyCollection, "key-1", first[:2]))

	n, err := q.Count(ctx, AnswerKeyCollection, OwnerFilter("key-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, stored := f.stats(AnswerKeyCollection)
	assert.Equal(t, 3, stored)

	got, err := q.Search(ctx, AnswerKeyCollection, []float32{1, 0}, OwnerFilter("key-1"), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ChunkID)
	assert.Equal(t, "key-1-0", got[0].ChunkText)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)

	deleted, err := q.Delete(ctx, AnswerKeyCollection, OwnerFilter("other"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestQdrant_ServerErrorIsRetryable(t *testing.T) {
	f, q := newFakeQdrant(t)
	ctx := context.Background()

	_, err := q.EnsureCollection(ctx, AnswerKeyCollection, 2)
	require.NoError(t, err)

	f.failSearch.Store(true)

	_, err = q.Search(ctx, AnswerKeyCollection, []float32{1, 0}, Filter{}, 1)
	require.ErrorIs(t, err, huberrors.ErrProviderUnavailable)
	assert.True(t, huberrors.IsRetryable(err))
}

func TestNewQdrant_RequiresURL(t *testing.T) {
	_, err := NewQdrant(QdrantOptions{})
	assert.ErrorIs(t, err, huberrors.ErrConfiguration)
}
