// Package huberrors provides sentinel and custom error types for the application.
package huberrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound represents a "not found" error.
// Use when a requested resource doesn't exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for resources that are not found.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "resource not found"
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrValidation represents a validation error.
// Use when client input fails validation.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrConflict is the sentinel for conflict errors (e.g. indexing content that differs from the stored answer key).
var ErrConflict = &ConflictError{}

// ConflictError is a sentinel error for resource conflicts.
type ConflictError struct {
	Message string
}

// NewConflictError creates a ConflictError with a custom message.
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "conflict"
}

// Is implements the error interface for error comparison.
func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)

	return ok
}

// ErrConfiguration is the sentinel for deployment/setup errors: bad chunk overlap,
// vector dimension mismatch, missing collection. Never retryable.
var ErrConfiguration = &ConfigurationError{}

// ConfigurationError is a sentinel error for invalid configuration or setup.
type ConfigurationError struct {
	Setting string
	Message string
}

// NewConfigurationError creates a ConfigurationError for the given setting.
func NewConfigurationError(setting, message string) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Message: message}
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	switch {
	case e.Setting != "" && e.Message != "":
		return "configuration error (" + e.Setting + "): " + e.Message
	case e.Message != "":
		return "configuration error: " + e.Message
	case e.Setting != "":
		return "configuration error: " + e.Setting
	default:
		return "configuration error"
	}
}

// Is implements the error interface for error comparison.
func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)

	return ok
}

// ErrProviderUnavailable is the sentinel for failed calls to an external provider
// (embedding API, LLM API, vector store).
var ErrProviderUnavailable = &ProviderUnavailableError{}

// ProviderUnavailableError reports a failed remote call. Retryable is false when the
// provider rejected the request outright (e.g. 400, 401) and retrying cannot help.
type ProviderUnavailableError struct {
	Provider  string
	Op        string
	Retryable bool
	Err       error
}

// NewProviderUnavailableError wraps err as a provider failure.
func NewProviderUnavailableError(provider, op string, retryable bool, err error) *ProviderUnavailableError {
	return &ProviderUnavailableError{Provider: provider, Op: op, Retryable: retryable, Err: err}
}

// Error implements the error interface.
func (e *ProviderUnavailableError) Error() string {
	var b strings.Builder

	b.WriteString("provider unavailable")

	if e.Provider != "" {
		b.WriteString(": " + e.Provider)
	}

	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}

	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying provider error.
func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *ProviderUnavailableError) Is(target error) bool {
	_, ok := target.(*ProviderUnavailableError)

	return ok
}

// EmbeddingFailure is returned by the embedder when one or more sub-batches failed.
// Indices are positions in the caller's input slice.
type EmbeddingFailure struct {
	Indices []int
	Err     error
}

// Error implements the error interface.
func (e *EmbeddingFailure) Error() string {
	return fmt.Sprintf("embedding failed for %d input(s): %v", len(e.Indices), e.Err)
}

// Unwrap returns the provider error that caused the failure.
func (e *EmbeddingFailure) Unwrap() error { return e.Err }

// IndexingError reports an aborted indexing run together with how far it got.
// Chunks below Processed are stored and are not redone on the next run.
type IndexingError struct {
	Collection string
	OwnerID    string
	Processed  int
	Total      int
	Err        error
}

// Error implements the error interface.
func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing %s/%s stopped after %d of %d chunks: %v",
		e.Collection, e.OwnerID, e.Processed, e.Total, e.Err)
}

// Unwrap returns the cause.
func (e *IndexingError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying: provider failures flagged retryable.
// Configuration, validation and not-found errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrConfiguration) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return false
	}

	var pe *ProviderUnavailableError
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	return false
}
