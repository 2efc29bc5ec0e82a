package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
)

// StudentAnswersRepository defines the interface for student answer data access.
type StudentAnswersRepository interface {
	Create(ctx context.Context, req *models.CreateStudentAnswerRequest) (*models.StudentAnswer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.StudentAnswer, error)
	SetChunkCount(ctx context.Context, id uuid.UUID, chunkCount int) error
}

// StudentAnswersService handles business logic for student answers
type StudentAnswersService struct {
	repo StudentAnswersRepository
}

// NewStudentAnswersService creates a new student answers service
func NewStudentAnswersService(repo StudentAnswersRepository) *StudentAnswersService {
	return &StudentAnswersService{repo: repo}
}

// SubmitStudentAnswer stores a student answer.
func (s *StudentAnswersService) SubmitStudentAnswer(ctx context.Context, req *models.CreateStudentAnswerRequest) (*models.StudentAnswer, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, huberrors.NewValidationError("content", "content must not be blank")
	}

	req.StudentRef = strings.TrimSpace(req.StudentRef)

	return s.repo.Create(ctx, req)
}

// GetStudentAnswer retrieves a single student answer by ID
func (s *StudentAnswersService) GetStudentAnswer(ctx context.Context, id uuid.UUID) (*models.StudentAnswer, error) {
	return s.repo.GetByID(ctx, id)
}
