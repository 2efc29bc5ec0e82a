// Package service holds the grading and indexing business logic.
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
)

// AnswerKeysRepository defines the interface for answer key data access.
type AnswerKeysRepository interface {
	Create(ctx context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error)
	SetChunkCount(ctx context.Context, id uuid.UUID, chunkCount int) error
}

// AnswerKeysService handles business logic for answer keys
type AnswerKeysService struct {
	repo AnswerKeysRepository
}

// NewAnswerKeysService creates a new answer keys service
func NewAnswerKeysService(repo AnswerKeysRepository) *AnswerKeysService {
	return &AnswerKeysService{repo: repo}
}

// CreateAnswerKey stores a new answer key. Indexing is a separate step.
func (s *AnswerKeysService) CreateAnswerKey(ctx context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, huberrors.NewValidationError("content", "content must not be blank")
	}

	if req.MaxScore <= 0 {
		return nil, huberrors.NewValidationError("maxScore", "maxScore must be positive")
	}

	req.Title = strings.TrimSpace(req.Title)

	return s.repo.Create(ctx, req)
}

// GetAnswerKey retrieves a single answer key by ID
func (s *AnswerKeysService) GetAnswerKey(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error) {
	return s.repo.GetByID(ctx, id)
}
