package models

import (
	"time"

	"github.com/google/uuid"
)

// StudentAnswer is one submitted free-text answer. Immutable once submitted.
type StudentAnswer struct {
	ID         uuid.UUID `json:"id"`
	StudentRef string    `json:"studentRef"`
	Content    string    `json:"content"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateStudentAnswerRequest represents the request to submit a student answer
type CreateStudentAnswerRequest struct {
	StudentRef string `json:"studentRef" validate:"omitempty,max=255,no_null_bytes"`
	Content    string `json:"content" validate:"required,no_null_bytes"`
}
