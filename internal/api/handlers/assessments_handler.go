package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/api/response"
	"github.com/essaygrader/hub/internal/api/validation"
	"github.com/essaygrader/hub/internal/models"
)

// AssessmentsService defines the interface for grading and review.
type AssessmentsService interface {
	Assess(ctx context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error)
	Current(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*models.Assessment, error)
	History(ctx context.Context, filters *models.AssessmentPairFilters) (*models.ListAssessmentsResponse, error)
	Review(ctx context.Context, id uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error)
}

// AssessmentsHandler handles HTTP requests for assessments
type AssessmentsHandler struct {
	service AssessmentsService
}

// NewAssessmentsHandler creates a new assessments handler
func NewAssessmentsHandler(service AssessmentsService) *AssessmentsHandler {
	return &AssessmentsHandler{service: service}
}

// Create handles POST /v1/assessments
// @Summary Grade a student answer
// @Description Retrieves the relevant answer key chunks, asks the LLM for a grade and stores the result.
// @Description An unapproved current assessment of the same pair is overwritten; an approved one is kept and a new row is added.
// @Tags Assessments
// @Accept json
// @Produce json
// @Param request body CreateAssessmentRequest true "Pair to grade"
// @Success 200 {object} AssessmentResult
// @Failure 400 {object} ProblemDetails
// @Failure 404 {object} ProblemDetails "Student answer or answer key not found"
// @Failure 503 {object} ProblemDetails "Provider unavailable or timed out, safe to retry"
// @Security BearerAuth
// @Router /v1/assessments [post]
func (h *AssessmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAssessmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Assess(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Current handles GET /v1/assessments/current
func (h *AssessmentsHandler) Current(w http.ResponseWriter, r *http.Request) {
	var filters models.AssessmentPairFilters
	if err := validation.ValidateAndDecodeQueryParams(r, &filters); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	assessment, err := h.service.Current(r.Context(), filters.StudentAnswerID, filters.AnswerKeyID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, assessment)
}

// List handles GET /v1/assessments
// @Summary Assessment history of a pair
// @Tags Assessments
// @Produce json
// @Param studentAnswerId query string true "Student answer ID"
// @Param answerKeyId query string true "Answer key ID"
// @Param limit query int false "Number of results to return (max 1000)"
// @Success 200 {object} ListAssessmentsResponse
// @Security BearerAuth
// @Router /v1/assessments [get]
func (h *AssessmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	var filters models.AssessmentPairFilters
	if err := validation.ValidateAndDecodeQueryParams(r, &filters); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	result, err := h.service.History(r.Context(), &filters)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Review handles PATCH /v1/assessments/{id}
func (h *AssessmentsHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req models.ReviewAssessmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	assessment, err := h.service.Review(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, assessment)
}
