package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/api/response"
	"github.com/essaygrader/hub/internal/models"
	"github.com/essaygrader/hub/internal/service"
)

// IndexingService defines the interface for indexing documents into the vector index.
type IndexingService interface {
	IndexAnswerKey(ctx context.Context, req *models.IndexAnswerKeyRequest) (*service.IndexResult, error)
	IndexStudentAnswer(ctx context.Context, id uuid.UUID) (*service.IndexResult, error)
	EnqueueAnswerKeyIndexing(ctx context.Context, req *models.IndexAnswerKeyRequest) (int64, error)
	EnqueueIndexing(ctx context.Context, role service.OwnerRole, id uuid.UUID) (int64, error)
}

// IndexingHandler handles HTTP requests that index documents
type IndexingHandler struct {
	service IndexingService
}

// NewIndexingHandler creates a new indexing handler
func NewIndexingHandler(service IndexingService) *IndexingHandler {
	return &IndexingHandler{service: service}
}

// IndexAnswerKey handles POST /v1/indexing/answer-keys
// @Summary Index an answer key
// @Description Chunks and embeds a stored answer key. With async=true the work is queued and the job id returned.
// @Tags Indexing
// @Accept json
// @Produce json
// @Param async query bool false "Queue the work instead of running it in the request"
// @Param request body IndexAnswerKeyRequest true "Answer key to index"
// @Success 200 {object} IndexResponse
// @Success 202 {object} IndexJobResponse
// @Failure 400 {object} ProblemDetails
// @Failure 404 {object} ProblemDetails "Answer key not found"
// @Failure 409 {object} ProblemDetails "Content differs from the stored answer key"
// @Failure 503 {object} ProblemDetails "Provider unavailable, indexing can be resumed"
// @Security BearerAuth
// @Router /v1/indexing/answer-keys [post]
func (h *IndexingHandler) IndexAnswerKey(w http.ResponseWriter, r *http.Request) {
	async, ok := asyncParam(w, r)
	if !ok {
		return
	}

	var req models.IndexAnswerKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if async {
		jobID, err := h.service.EnqueueAnswerKeyIndexing(r.Context(), &req)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}

		response.RespondJSON(w, http.StatusAccepted, models.IndexJobResponse{JobID: jobID})

		return
	}

	res, err := h.service.IndexAnswerKey(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, models.IndexResponse{ChunkCount: res.ChunkCount, Resumed: res.Resumed})
}

// IndexStudentAnswer handles POST /v1/indexing/student-answers
func (h *IndexingHandler) IndexStudentAnswer(w http.ResponseWriter, r *http.Request) {
	async, ok := asyncParam(w, r)
	if !ok {
		return
	}

	var req models.IndexStudentAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if async {
		jobID, err := h.service.EnqueueIndexing(r.Context(), service.RoleStudentAnswer, req.StudentAnswerID)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}

		response.RespondJSON(w, http.StatusAccepted, models.IndexJobResponse{JobID: jobID})

		return
	}

	res, err := h.service.IndexStudentAnswer(r.Context(), req.StudentAnswerID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, models.IndexResponse{ChunkCount: res.ChunkCount, Resumed: res.Resumed})
}

func asyncParam(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("async")
	if raw == "" {
		return false, true
	}

	async, err := strconv.ParseBool(raw)
	if err != nil {
		response.RespondBadRequest(w, "Invalid async parameter")
		return false, false
	}

	return async, true
}
