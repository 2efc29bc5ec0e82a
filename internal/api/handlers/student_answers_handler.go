package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/api/response"
	"github.com/essaygrader/hub/internal/models"
)

// StudentAnswersService defines the interface for student answer business logic.
type StudentAnswersService interface {
	SubmitStudentAnswer(ctx context.Context, req *models.CreateStudentAnswerRequest) (*models.StudentAnswer, error)
	GetStudentAnswer(ctx context.Context, id uuid.UUID) (*models.StudentAnswer, error)
}

// StudentAnswersHandler handles HTTP requests for student answers
type StudentAnswersHandler struct {
	service StudentAnswersService
}

// NewStudentAnswersHandler creates a new student answers handler
func NewStudentAnswersHandler(service StudentAnswersService) *StudentAnswersHandler {
	return &StudentAnswersHandler{service: service}
}

// Create handles POST /v1/student-answers
func (h *StudentAnswersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStudentAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	answer, err := h.service.SubmitStudentAnswer(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusCreated, answer)
}

// Get handles GET /v1/student-answers/{id}
func (h *StudentAnswersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	answer, err := h.service.GetStudentAnswer(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, answer)
}
