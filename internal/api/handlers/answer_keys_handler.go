package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/api/response"
	"github.com/essaygrader/hub/internal/models"
)

// AnswerKeysService defines the interface for answer key business logic.
type AnswerKeysService interface {
	CreateAnswerKey(ctx context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error)
	GetAnswerKey(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error)
}

// AnswerKeysHandler handles HTTP requests for answer keys
type AnswerKeysHandler struct {
	service AnswerKeysService
}

// NewAnswerKeysHandler creates a new answer keys handler
func NewAnswerKeysHandler(service AnswerKeysService) *AnswerKeysHandler {
	return &AnswerKeysHandler{service: service}
}

// Create handles POST /v1/answer-keys
// @Summary Create answer key
// @Description Stores an instructor answer key. Indexing is a separate call.
// @Tags Answer Keys
// @Accept json
// @Produce json
// @Param request body CreateAnswerKeyRequest true "Answer key"
// @Success 201 {object} AnswerKey
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails "Unauthorized - Invalid or missing API key"
// @Security BearerAuth
// @Router /v1/answer-keys [post]
func (h *AnswerKeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAnswerKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key, err := h.service.CreateAnswerKey(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusCreated, key)
}

// Get handles GET /v1/answer-keys/{id}
// @Summary Get an answer key by ID
// @Tags Answer Keys
// @Produce json
// @Param id path string true "Answer key ID (UUID)"
// @Success 200 {object} AnswerKey
// @Failure 400 {object} ProblemDetails "Invalid UUID format"
// @Failure 404 {object} ProblemDetails "Answer key not found"
// @Security BearerAuth
// @Router /v1/answer-keys/{id} [get]
func (h *AnswerKeysHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	key, err := h.service.GetAnswerKey(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, key)
}

// pathID parses the {id} path value, writing the 400 itself on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		response.RespondBadRequest(w, "ID is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		response.RespondBadRequest(w, "Invalid UUID format")
		return uuid.Nil, false
	}

	return id, true
}
