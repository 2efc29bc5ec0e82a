package models

import (
	"time"

	"github.com/google/uuid"
)

// Index progress statuses.
const (
	IndexStatusInProgress = "in_progress"
	IndexStatusComplete   = "complete"
	IndexStatusFailed     = "failed"
)

// IndexProgress tracks how many chunks of one owner are stored in a collection.
// Fingerprint identifies content and chunking parameters; a changed fingerprint restarts indexing.
type IndexProgress struct {
	Collection    string    `json:"collection"`
	OwnerID       string    `json:"ownerId"`
	Fingerprint   string    `json:"fingerprint"`
	TotalChunks   int       `json:"totalChunks"`
	IndexedChunks int       `json:"indexedChunks"`
	Status        string    `json:"status"`
	LastError     string    `json:"lastError,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IndexAnswerKeyRequest triggers indexing of an answer key. Content, when sent, must equal the stored content.
type IndexAnswerKeyRequest struct {
	AnswerKeyID uuid.UUID `json:"answerKeyId" validate:"required"`
	Content     *string   `json:"content,omitempty" validate:"omitempty,no_null_bytes"`
}

// IndexStudentAnswerRequest triggers indexing of a student answer
type IndexStudentAnswerRequest struct {
	StudentAnswerID uuid.UUID `json:"studentAnswerId" validate:"required"`
}

// IndexResponse reports a finished indexing run
type IndexResponse struct {
	ChunkCount int  `json:"chunkCount"`
	Resumed    bool `json:"resumed,omitempty"`
}

// IndexJobResponse reports an enqueued indexing job
type IndexJobResponse struct {
	JobID int64 `json:"jobId"`
}
