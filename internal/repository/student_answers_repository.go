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

// StudentAnswersRepository handles data access for student answers.
type StudentAnswersRepository struct {
	db *pgxpool.Pool
}

// NewStudentAnswersRepository creates a new student answers repository.
func NewStudentAnswersRepository(db *pgxpool.Pool) *StudentAnswersRepository {
	return &StudentAnswersRepository{db: db}
}

const studentAnswerColumns = `id, student_ref, content, chunk_count, created_at`

func scanStudentAnswer(row pgx.Row) (*models.StudentAnswer, error) {
	var answer models.StudentAnswer

	err := row.Scan(&answer.ID, &answer.StudentRef, &answer.Content, &answer.ChunkCount, &answer.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &answer, nil
}

// Create inserts a new student answer.
func (r *StudentAnswersRepository) Create(ctx context.Context, req *models.CreateStudentAnswerRequest) (*models.StudentAnswer, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate student answer id: %w", err)
	}

	query := `
		INSERT INTO student_answers (id, student_ref, content)
		VALUES ($1, $2, $3)
		RETURNING ` + studentAnswerColumns

	answer, err := scanStudentAnswer(r.db.QueryRow(ctx, query, id, req.StudentRef, req.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to create student answer: %w", err)
	}

	return answer, nil
}

// GetByID retrieves a single student answer by ID.
func (r *StudentAnswersRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StudentAnswer, error) {
	query := `SELECT ` + studentAnswerColumns + ` FROM student_answers WHERE id = $1`

	answer, err := scanStudentAnswer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("student answer", "student answer not found")
		}

		return nil, fmt.Errorf("failed to get student answer: %w", err)
	}

	return answer, nil
}

// SetChunkCount records the chunk count of a completed indexing run.
func (r *StudentAnswersRepository) SetChunkCount(ctx context.Context, id uuid.UUID, chunkCount int) error {
	tag, err := r.db.Exec(ctx, `UPDATE student_answers SET chunk_count = $2 WHERE id = $1`, id, chunkCount)
	if err != nil {
		return fmt.Errorf("failed to update student answer chunk count: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return huberrors.NewNotFoundError("student answer", "student answer not found")
	}

	return nil
}

// ListIDs returns student answer IDs, oldest first. With unindexedOnly, answers with
// chunk_count = 0 are returned.
func (r *StudentAnswersRepository) ListIDs(ctx context.Context, unindexedOnly bool) ([]uuid.UUID, error) {
	return listIDs(ctx, r.db, "student_answers", unindexedOnly)
}
