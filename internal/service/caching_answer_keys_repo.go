package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/models"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/pkg/cache"
)

const cacheNameAnswerKeyGetByID = "answer_key_get_by_id"

// cachingAnswerKeysRepo serves GetByID from a cache. Answer key content never changes after
// creation, so only SetChunkCount invalidates.
type cachingAnswerKeysRepo struct {
	inner   AnswerKeysRepository
	byID    *cache.LoaderCache[uuid.UUID, *models.AnswerKey]
	metrics observability.CacheMetrics
}

// NewCachingAnswerKeysRepository wraps inner with byID. metrics may be nil.
func NewCachingAnswerKeysRepository(
	inner AnswerKeysRepository,
	byID *cache.LoaderCache[uuid.UUID, *models.AnswerKey],
	metrics observability.CacheMetrics,
) AnswerKeysRepository {
	return &cachingAnswerKeysRepo{inner: inner, byID: byID, metrics: metrics}
}

func (r *cachingAnswerKeysRepo) Create(ctx context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error) {
	k, err := r.inner.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create answer key: %w", err)
	}

	return k, nil
}

func (r *cachingAnswerKeysRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error) {
	k, hit, err := r.byID.Get(ctx, id, r.inner.GetByID)
	if err != nil {
		return nil, fmt.Errorf("get answer key by id: %w", err)
	}

	if r.metrics != nil {
		if hit {
			r.metrics.RecordHit(ctx, cacheNameAnswerKeyGetByID)
		} else {
			r.metrics.RecordMiss(ctx, cacheNameAnswerKeyGetByID)
		}
	}

	// Callers may mutate the result.
	cp := *k

	return &cp, nil
}

func (r *cachingAnswerKeysRepo) SetChunkCount(ctx context.Context, id uuid.UUID, chunkCount int) error {
	if err := r.inner.SetChunkCount(ctx, id, chunkCount); err != nil {
		return fmt.Errorf("set chunk count: %w", err)
	}

	r.byID.Invalidate(id)

	return nil
}
