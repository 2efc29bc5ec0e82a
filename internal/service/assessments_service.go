package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/grading"
	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
)

// AssessmentsRepository defines the interface for assessment data access.
type AssessmentsRepository interface {
	AssessmentRunStore
	GetByID(ctx context.Context, id uuid.UUID) (*models.Assessment, error)
	Latest(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*models.Assessment, error)
	ListByPair(ctx context.Context, filters *models.AssessmentPairFilters) ([]models.Assessment, error)
	Review(ctx context.Context, id uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error)
}

// Grader runs one assessment. Implemented by Assessor.
type Grader interface {
	Assess(ctx context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error)
}

// AssessmentsService handles grading runs, history and human review.
type AssessmentsService struct {
	repo   AssessmentsRepository
	grader Grader
}

// NewAssessmentsService creates a new assessments service
func NewAssessmentsService(repo AssessmentsRepository, grader Grader) *AssessmentsService {
	return &AssessmentsService{repo: repo, grader: grader}
}

// Assess grades a student answer against an answer key.
func (s *AssessmentsService) Assess(ctx context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error) {
	return s.grader.Assess(ctx, req)
}

// Current returns the current assessment of a pair.
func (s *AssessmentsService) Current(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*models.Assessment, error) {
	return s.repo.Latest(ctx, studentAnswerID, answerKeyID)
}

// History returns all assessments of a pair, newest first.
func (s *AssessmentsService) History(ctx context.Context, filters *models.AssessmentPairFilters) (*models.ListAssessmentsResponse, error) {
	if filters.Limit > 1000 {
		filters.Limit = 1000
	}

	data, err := s.repo.ListByPair(ctx, filters)
	if err != nil {
		return nil, err
	}

	return &models.ListAssessmentsResponse{Data: data}, nil
}

// Review applies a reviewer's edit. Scores outside [0, maxScore] are rejected rather than clamped.
func (s *AssessmentsService) Review(ctx context.Context, id uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Score != nil && (*req.Score < 0 || *req.Score > float64(current.MaxScore)) {
		return nil, huberrors.NewValidationError("score", "score must be between 0 and the answer key's max score")
	}

	if req.Confidence != nil && *req.Confidence != grading.ClampConfidence(*req.Confidence) {
		return nil, huberrors.NewValidationError("confidence", "confidence must be between 0 and 100")
	}

	return s.repo.Review(ctx, id, req)
}
