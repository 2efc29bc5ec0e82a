package models

import (
	"time"

	"github.com/google/uuid"
)

// LLMUsageLog records one completion call for cost tracking.
type LLMUsageLog struct {
	ID               uuid.UUID
	AssessmentID     *uuid.UUID
	Provider         string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	Latency          time.Duration
	CreatedAt        time.Time
}
