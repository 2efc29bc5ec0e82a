package models

import (
	"time"

	"github.com/google/uuid"
)

// AnswerKey is the instructor's reference answer. Content never changes after creation;
// a corrected key is uploaded as a new AnswerKey.
type AnswerKey struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	MaxScore   int       `json:"maxScore"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CreateAnswerKeyRequest represents the request to upload an answer key
type CreateAnswerKeyRequest struct {
	Title    string `json:"title" validate:"omitempty,max=255,no_null_bytes"`
	Content  string `json:"content" validate:"required,no_null_bytes"`
	MaxScore int    `json:"maxScore" validate:"required,min=1,max=100000"`
}
