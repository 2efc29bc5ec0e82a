package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
)

// DefaultHistoryLimit caps ListByPair when no limit is given.
const DefaultHistoryLimit = 100

const assessmentColumns = `id, student_answer_id, answer_key_id, score, max_score, confidence,
	feedback_text, parse_status, model, approved, approved_at, created_at, updated_at`

const latestOrder = ` ORDER BY created_at DESC, updated_at DESC, id DESC`

// AssessmentsRepository handles data access for assessments.
type AssessmentsRepository struct {
	db *pgxpool.Pool
}

// NewAssessmentsRepository creates a new assessments repository.
func NewAssessmentsRepository(db *pgxpool.Pool) *AssessmentsRepository {
	return &AssessmentsRepository{db: db}
}

func scanAssessment(row pgx.Row) (*models.Assessment, error) {
	var a models.Assessment

	err := row.Scan(
		&a.ID, &a.StudentAnswerID, &a.AnswerKeyID, &a.Score, &a.MaxScore, &a.Confidence,
		&a.FeedbackText, &a.ParseStatus, &a.Model, &a.Approved, &a.ApprovedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// SaveRun persists one grading run. Under a per-pair advisory lock, an unapproved current
// assessment is updated in place; otherwise a new row is inserted. The bool reports an update.
func (r *AssessmentsRepository) SaveRun(ctx context.Context, run *models.AssessmentRun) (*models.Assessment, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('assessment:' || $1::text || ':' || $2::text, 0))`,
		run.StudentAnswerID, run.AnswerKeyID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock assessment pair: %w", err)
	}

	var (
		currentID uuid.UUID
		approved  bool
	)

	err = tx.QueryRow(ctx,
		`SELECT id, approved FROM assessments
		WHERE student_answer_id = $1 AND answer_key_id = $2`+latestOrder+` LIMIT 1`,
		run.StudentAnswerID, run.AnswerKeyID,
	).Scan(&currentID, &approved)

	found := true

	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to load current assessment: %w", err)
		}

		found = false
	}

	var (
		saved   *models.Assessment
		updated bool
	)

	if found && !approved {
		query := `
			UPDATE assessments
			SET score = $2, max_score = $3, confidence = $4, feedback_text = $5,
				parse_status = $6, model = $7, updated_at = clock_timestamp()
			WHERE id = $1
			RETURNING ` + assessmentColumns

		saved, err = scanAssessment(tx.QueryRow(ctx, query, currentID,
			run.Score, run.MaxScore, run.Confidence, run.FeedbackText, run.ParseStatus, run.Model))
		updated = true
	} else {
		var id uuid.UUID

		id, err = uuid.NewV7()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate assessment id: %w", err)
		}

		query := `
			INSERT INTO assessments (
				id, student_answer_id, answer_key_id, score, max_score, confidence,
				feedback_text, parse_status, model, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp(), clock_timestamp())
			RETURNING ` + assessmentColumns

		saved, err = scanAssessment(tx.QueryRow(ctx, query, id, run.StudentAnswerID, run.AnswerKeyID,
			run.Score, run.MaxScore, run.Confidence, run.FeedbackText, run.ParseStatus, run.Model))
	}

	if err != nil {
		return nil, false, mapAssessmentError("failed to save assessment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit assessment: %w", err)
	}

	return saved, updated, nil
}

// GetByID retrieves a single assessment by ID.
func (r *AssessmentsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Assessment, error) {
	a, err := scanAssessment(r.db.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("assessment", "assessment not found")
		}

		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	return a, nil
}

// Latest returns the current assessment of a pair.
func (r *AssessmentsRepository) Latest(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments
		WHERE student_answer_id = $1 AND answer_key_id = $2` + latestOrder + ` LIMIT 1`

	a, err := scanAssessment(r.db.QueryRow(ctx, query, studentAnswerID, answerKeyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("assessment", "no assessment for this pair")
		}

		return nil, fmt.Errorf("failed to get current assessment: %w", err)
	}

	return a, nil
}

// ListByPair returns the assessment history of a pair, newest first.
func (r *AssessmentsRepository) ListByPair(ctx context.Context, filters *models.AssessmentPairFilters) ([]models.Assessment, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments
		WHERE student_answer_id = $1 AND answer_key_id = $2` + latestOrder + ` LIMIT $3`

	rows, err := r.db.Query(ctx, query, filters.StudentAnswerID, filters.AnswerKeyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	assessments := []models.Assessment{}

	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}

		assessments = append(assessments, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assessments: %w", err)
	}

	return assessments, nil
}

// buildReviewQuery builds the UPDATE for a reviewer edit.
// Returns false when the request changes nothing.
func buildReviewQuery(req *models.ReviewAssessmentRequest, id uuid.UUID) (query string, args []any, ok bool) {
	var sets []string

	argCount := 1

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, value)
		argCount++
	}

	if req.Score != nil {
		add("score", *req.Score)
	}

	if req.Confidence != nil {
		add("confidence", *req.Confidence)
	}

	if req.FeedbackText != nil {
		add("feedback_text", *req.FeedbackText)
	}

	if req.Approved != nil {
		add("approved", *req.Approved)

		if *req.Approved {
			sets = append(sets, "approved_at = COALESCE(approved_at, now())")
		} else {
			sets = append(sets, "approved_at = NULL")
		}
	}

	if len(sets) == 0 {
		return "", nil, false
	}

	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query = fmt.Sprintf("UPDATE assessments SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), argCount, assessmentColumns)

	return query, args, true
}

// Review applies a reviewer edit. An empty edit returns the row unchanged.
func (r *AssessmentsRepository) Review(ctx context.Context, id uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error) {
	query, args, ok := buildReviewQuery(req, id)
	if !ok {
		return r.GetByID(ctx, id)
	}

	a, err := scanAssessment(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("assessment", "assessment not found")
		}

		return nil, mapAssessmentError("failed to review assessment", err)
	}

	return a, nil
}

// mapAssessmentError turns check violations into validation errors.
func mapAssessmentError(prefix string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return huberrors.NewValidationError(pgErr.ConstraintName, "value out of range")
	}

	return fmt.Errorf("%s: %w", prefix, err)
}
