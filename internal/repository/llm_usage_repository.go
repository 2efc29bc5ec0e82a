package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/essaygrader/hub/internal/models"
)

// LLMUsageRepository stores completion usage for cost tracking.
type LLMUsageRepository struct {
	db *pgxpool.Pool
}

// NewLLMUsageRepository creates a new LLM usage repository.
func NewLLMUsageRepository(db *pgxpool.Pool) *LLMUsageRepository {
	return &LLMUsageRepository{db: db}
}

// Create inserts one usage row.
func (r *LLMUsageRepository) Create(ctx context.Context, log *models.LLMUsageLog) error {
	if log.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate usage log id: %w", err)
		}

		log.ID = id
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO llm_usage_logs (id, assessment_id, provider, model, prompt_tokens, completion_tokens, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ID, log.AssessmentID, log.Provider, log.Model, log.PromptTokens, log.CompletionTokens,
		log.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to create llm usage log: %w", err)
	}

	return nil
}
