package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/essaygrader/hub/internal/huberrors"
)

const (
	qdrantProvider   = "qdrant"
	payloadOwnerID   = "owner_id"
	payloadChunkID   = "chunk_id"
	payloadChunkText = "chunk_text"
)

// pointNamespace derives stable point ids for Replace from (owner, chunk).
var pointNamespace = uuid.MustParse("6f1c2d7e-3b9a-4f0e-9d6a-2c8b5e4a1f03")

// QdrantOptions configures the Qdrant REST client.
type QdrantOptions struct {
	URL    string
	APIKey string
	// RetryMax is the maximum number of HTTP retries (default: 3).
	RetryMax int
	// Timeout is the per-request timeout (default: 15 seconds).
	Timeout time.Duration
}

// Qdrant is an Index backed by Qdrant's REST API with cosine distance.
// Replace upserts the new points before deleting stale ones; readers may briefly see both.
type Qdrant struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// NewQdrant creates a Qdrant index client.
func NewQdrant(opts QdrantOptions) (*Qdrant, error) {
	if opts.URL == "" {
		return nil, huberrors.NewConfigurationError("QDRANT_URL", "qdrant url is required")
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}

	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil

	return &Qdrant{
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		apiKey:     opts.APIKey,
		httpClient: retryClient,
	}, nil
}

type qdrantStatusError struct {
	status int
	body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.status, e.body)
}

// do sends body as JSON and decodes the "result" field into out when out is non-nil.
func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return huberrors.NewProviderUnavailableError(qdrantProvider, method+" "+path, ctx.Err() == nil, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close qdrant response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &qdrantStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return huberrors.NewProviderUnavailableError(qdrantProvider, method+" "+path, true, statusErr)
		}

		return statusErr
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode qdrant result: %w", err)
	}

	return nil
}

func isStatus(err error, status int) bool {
	var se *qdrantStatusError

	return errors.As(err, &se) && se.status == status
}

func collectionPath(name string, suffix string) string {
	return "/collections/" + url.PathEscape(name) + suffix
}

type qdrantCollectionInfo struct {
	Config struct {
		Params struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

// dimension returns the vector size of name, or errNoCollection.
func (q *Qdrant) dimension(ctx context.Context, name string) (int, error) {
	var info qdrantCollectionInfo

	err := q.do(ctx, http.MethodGet, collectionPath(name, ""), nil, &info)
	if isStatus(err, http.StatusNotFound) {
		return 0, errNoCollection
	}

	if err != nil {
		return 0, err
	}

	return info.Config.Params.Vectors.Size, nil
}

func (q *Qdrant) requireCollection(ctx context.Context, name string) (int, error) {
	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	d, err := q.dimension(ctx, name)
	if errors.Is(err, errNoCollection) {
		return 0, missingCollection(name)
	}

	return d, err
}

func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dimension int) (string, error) {
	if err := validateEnsure(name, dimension); err != nil {
		return "", err
	}

	existing, err := q.dimension(ctx, name)

	switch {
	case err == nil:
		if existing != dimension {
			return "", dimensionMismatch(name, existing, dimension)
		}

		return name, nil
	case !errors.Is(err, errNoCollection):
		return "", err
	}

	create := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
	}

	err = q.do(ctx, http.MethodPut, collectionPath(name, ""), create, nil)
	// A concurrent creator won; Qdrant answers 409 Conflict.
	if err != nil && !isStatus(err, http.StatusConflict) {
		return "", fmt.Errorf("create qdrant collection %s: %w", name, err)
	}

	for field, schema := range map[string]string{payloadOwnerID: "keyword", payloadChunkID: "integer"} {
		idx := map[string]any{"field_name": field, "field_schema": schema}
		if err := q.do(ctx, http.MethodPut, collectionPath(name, "/index?wait=true"), idx, nil); err != nil {
			return "", fmt.Errorf("create qdrant payload index %s.%s: %w", name, field, err)
		}
	}

	if existing, err = q.dimension(ctx, name); err != nil {
		return "", err
	}

	if existing != dimension {
		return "", dimensionMismatch(name, existing, dimension)
	}

	return name, nil
}

func (q *Qdrant) HasCollection(ctx context.Context, name string) (bool, error) {
	_, err := q.dimension(ctx, name)
	if errors.Is(err, errNoCollection) {
		return false, nil
	}

	return err == nil, err
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func toPoint(id string, r Record) qdrantPoint {
	return qdrantPoint{
		ID:     id,
		Vector: r.Vector,
		Payload: map[string]any{
			payloadOwnerID:   r.OwnerID,
			payloadChunkID:   r.ChunkID,
			payloadChunkText: r.ChunkText,
		},
	}
}

func stablePointID(r Record) string {
	return uuid.NewSHA1(pointNamespace, []byte(r.OwnerID+"/"+strconv.Itoa(r.ChunkID))).String()
}

func (q *Qdrant) upsert(ctx context.Context, collection string, points []qdrantPoint) error {
	if len(points) == 0 {
		return nil
	}

	body := map[string]any{"points": points}
	if err := q.do(ctx, http.MethodPut, collectionPath(collection, "/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("upsert qdrant points: %w", err)
	}

	return nil
}

// Insert appends records under fresh random point ids.
func (q *Qdrant) Insert(ctx context.Context, collection string, records []Record) error {
	d, err := q.requireCollection(ctx, collection)
	if err != nil {
		return err
	}

	if err := checkRecords(collection, d, records); err != nil {
		return err
	}

	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = toPoint(uuid.NewString(), r)
	}

	return q.upsert(ctx, collection, points)
}

func qdrantFilter(filter Filter) map[string]any {
	must := []map[string]any{}

	if filter.OwnerID != "" {
		must = append(must, map[string]any{"key": payloadOwnerID, "match": map[string]any{"value": filter.OwnerID}})
	}

	if filter.MinChunkID != nil {
		must = append(must, map[string]any{"key": payloadChunkID, "range": map[string]any{"gte": *filter.MinChunkID}})
	}

	return map[string]any{"must": must}
}

func (q *Qdrant) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	n, err := q.Count(ctx, collection, filter)
	if err != nil {
		return 0, err
	}

	if n == 0 {
		return 0, nil
	}

	if err := q.deleteByFilter(ctx, collection, qdrantFilter(filter)); err != nil {
		return 0, err
	}

	return n, nil
}

func (q *Qdrant) deleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	body := map[string]any{"filter": filter}
	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("delete qdrant points: %w", err)
	}

	return nil
}

// Replace upserts records under ids derived from (owner, chunk), then deletes every other
// point of the owner. The owner never has zero points mid-swap.
func (q *Qdrant) Replace(ctx context.Context, collection, ownerID string, records []Record) error {
	if err := checkReplaceOwner(ownerID, records); err != nil {
		return err
	}

	d, err := q.requireCollection(ctx, collection)
	if err != nil {
		return err
	}

	if err := checkRecords(collection, d, records); err != nil {
		return err
	}

	points := make([]qdrantPoint, len(records))
	ids := make([]string, len(records))

	for i, r := range records {
		ids[i] = stablePointID(r)
		points[i] = toPoint(ids[i], r)
	}

	if err := q.upsert(ctx, collection, points); err != nil {
		return err
	}

	filter := qdrantFilter(OwnerFilter(ownerID))
	if len(ids) > 0 {
		filter["must_not"] = []map[string]any{{"has_id": ids}}
	}

	return q.deleteByFilter(ctx, collection, filter)
}

func (q *Qdrant) Search(
	ctx context.Context, collection string, query []float32, filter Filter, topK int,
) ([]SearchResult, error) {
	d, err := q.requireCollection(ctx, collection)
	if err != nil {
		return nil, err
	}

	if len(query) != d {
		return nil, dimensionMismatch(collection, d, len(query))
	}

	results := []SearchResult{}
	if topK <= 0 {
		return results, nil
	}

	body := map[string]any{
		"vector":       query,
		"limit":        topK,
		"filter":       qdrantFilter(filter),
		"with_payload": true,
	}

	var hits []struct {
		Score   float64 `json:"score"`
		Payload struct {
			ChunkID   int    `json:"chunk_id"`
			ChunkText string `json:"chunk_text"`
		} `json:"payload"`
	}

	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "/points/search"), body, &hits); err != nil {
		return nil, fmt.Errorf("search qdrant: %w", err)
	}

	for _, h := range hits {
		results = append(results, SearchResult{ChunkText: h.Payload.ChunkText, ChunkID: h.Payload.ChunkID, Score: h.Score})
	}

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func (q *Qdrant) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	if _, err := q.requireCollection(ctx, collection); err != nil {
		return 0, err
	}

	body := map[string]any{"filter": qdrantFilter(filter), "exact": true}

	var res struct {
		Count int64 `json:"count"`
	}

	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "/points/count"), body, &res); err != nil {
		return 0, fmt.Errorf("count qdrant points: %w", err)
	}

	return res.Count, nil
}

var _ Index = (*Qdrant)(nil)
