// Package repository provides data access for answer keys, student answers and assessments.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
)

// AnswerKeysRepository handles data access for answer keys.
type AnswerKeysRepository struct {
	db *pgxpool.Pool
}

// NewAnswerKeysRepository creates a new answer keys repository.
func NewAnswerKeysRepository(db *pgxpool.Pool) *AnswerKeysRepository {
	return &AnswerKeysRepository{db: db}
}

const answerKeyColumns = `id, title, content, max_score, chunk_count, created_at, updated_at`

func scanAnswerKey(row pgx.Row) (*models.AnswerKey, error) {
	var key models.AnswerKey

	err := row.Scan(&key.ID, &key.Title, &key.Content, &key.MaxScore, &key.ChunkCount, &key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &key, nil
}

// Create inserts a new answer key.
func (r *AnswerKeysRepository) Create(ctx context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer key id: %w", err)
	}

	query := `
		INSERT INTO answer_keys (id, title, content, max_score)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + answerKeyColumns

	key, err := scanAnswerKey(r.db.QueryRow(ctx, query, id, req.Title, req.Content, req.MaxScore))
	if err != nil {
		return nil, fmt.Errorf("failed to create answer key: %w", err)
	}

	return key, nil
}

// GetByID retrieves a single answer key by ID.
func (r *AnswerKeysRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error) {
	query := `SELECT ` + answerKeyColumns + ` FROM answer_keys WHERE id = $1`

	key, err := scanAnswerKey(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("answer key", "answer key not found")
		}

		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}

	return key, nil
}

// SetChunkCount records the chunk count of a completed indexing run.
func (r *AnswerKeysRepository) SetChunkCount(ctx context.Context, id uuid.UUID, chunkCount int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE answer_keys SET chunk_count = $2, updated_at = now() WHERE id = $1`, id, chunkCount)
	if err != nil {
		return fmt.Errorf("failed to update answer key chunk count: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return huberrors.NewNotFoundError("answer key", "answer key not found")
	}

	return nil
}

// ListIDs returns answer key IDs, oldest first. With unindexedOnly, keys that never finished
// indexing (chunk_count = 0) are returned.
func (r *AnswerKeysRepository) ListIDs(ctx context.Context, unindexedOnly bool) ([]uuid.UUID, error) {
	return listIDs(ctx, r.db, "answer_keys", unindexedOnly)
}

func listIDs(ctx context.Context, db *pgxpool.Pool, table string, unindexedOnly bool) ([]uuid.UUID, error) {
	query := `SELECT id FROM ` + table
	if unindexedOnly {
		query += ` WHERE chunk_count = 0`
	}

	query += ` ORDER BY created_at, id`

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s ids: %w", table, err)
	}

	return ids, nil
}
