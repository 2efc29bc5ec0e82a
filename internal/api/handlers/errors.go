package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/essaygrader/hub/internal/api/response"
	"github.com/essaygrader/hub/internal/api/validation"
	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/service"
)

// respondServiceError maps domain errors to problem details. Unknown errors are logged and
// answered with a generic 500 so internals never reach the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		runErr      *service.RunError
		indexErr    *huberrors.IndexingError
		validateErr *huberrors.ValidationError
		notFoundErr *huberrors.NotFoundError
	)

	switch {
	case errors.As(err, &notFoundErr):
		response.RespondNotFound(w, notFoundErr.Error())
	case errors.As(err, &validateErr):
		response.RespondBadRequest(w, validateErr.Error())
	case errors.Is(err, huberrors.ErrConflict):
		response.RespondConflict(w, err.Error())
	case errors.As(err, &indexErr):
		respondIndexingError(w, r, indexErr)
	case errors.As(err, &runErr):
		respondRunError(w, r, runErr)
	case errors.Is(err, huberrors.ErrProviderUnavailable):
		slog.WarnContext(r.Context(), "provider unavailable", "error", err)
		response.RespondServiceUnavailable(w, "An upstream provider is unavailable, try again later")
	case errors.Is(err, huberrors.ErrConfiguration):
		slog.ErrorContext(r.Context(), "configuration error", "error", err)
		response.RespondInternalServerError(w, "The server is misconfigured")
	default:
		slog.ErrorContext(r.Context(), "unexpected error", "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}

func respondIndexingError(w http.ResponseWriter, r *http.Request, err *huberrors.IndexingError) {
	detail := fmt.Sprintf("indexing stopped after %d of %d chunks", err.Processed, err.Total)

	if huberrors.IsRetryable(err) {
		slog.WarnContext(r.Context(), "indexing interrupted", "error", err)
		response.RespondServiceUnavailable(w, detail+", retry to resume")

		return
	}

	if errors.Is(err, huberrors.ErrConfiguration) {
		slog.ErrorContext(r.Context(), "indexing misconfigured", "error", err)
		response.RespondInternalServerError(w, detail+": the server is misconfigured")

		return
	}

	slog.ErrorContext(r.Context(), "indexing failed", "error", err)
	response.RespondError(w, http.StatusBadGateway, "Bad Gateway", detail)
}

func respondRunError(w http.ResponseWriter, r *http.Request, err *service.RunError) {
	if err.Retryable {
		slog.WarnContext(r.Context(), "assessment interrupted", "state", err.State, "error", err)
		response.RespondServiceUnavailable(w, fmt.Sprintf("assessment failed while %s, try again later", err.State))

		return
	}

	slog.ErrorContext(r.Context(), "assessment failed", "state", err.State, "error", err)
	response.RespondInternalServerError(w, fmt.Sprintf("assessment failed while %s", err.State))
}

// decodeBody decodes and validates a JSON request body, writing the 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validation.DecodeJSON(r, dst); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return false
	}

	if err := validation.ValidateStruct(dst); err != nil {
		validation.RespondValidationError(w, err)

		return false
	}

	return true
}
