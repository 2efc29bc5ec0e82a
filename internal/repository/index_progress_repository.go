package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
)

// IndexProgressRepository tracks resumable indexing runs.
type IndexProgressRepository struct {
	db *pgxpool.Pool
}

// NewIndexProgressRepository creates a new index progress repository.
func NewIndexProgressRepository(db *pgxpool.Pool) *IndexProgressRepository {
	return &IndexProgressRepository{db: db}
}

// Get returns the progress of one owner in a collection.
func (r *IndexProgressRepository) Get(ctx context.Context, collection, ownerID string) (*models.IndexProgress, error) {
	query := `
		SELECT collection, owner_id, fingerprint, total_chunks, indexed_chunks, status, last_error, updated_at
		FROM index_progress
		WHERE collection = $1 AND owner_id = $2
	`

	var p models.IndexProgress

	err := r.db.QueryRow(ctx, query, collection, ownerID).Scan(
		&p.Collection, &p.OwnerID, &p.Fingerprint, &p.TotalChunks, &p.IndexedChunks,
		&p.Status, &p.LastError, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("index progress", "no indexing run recorded")
		}

		return nil, fmt.Errorf("failed to get index progress: %w", err)
	}

	return &p, nil
}

// Start records the beginning (or resumption) of a run.
func (r *IndexProgressRepository) Start(ctx context.Context, p *models.IndexProgress) error {
	query := `
		INSERT INTO index_progress (collection, owner_id, fingerprint, total_chunks, indexed_chunks, status, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', now())
		ON CONFLICT (collection, owner_id) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			total_chunks = EXCLUDED.total_chunks,
			indexed_chunks = EXCLUDED.indexed_chunks,
			status = EXCLUDED.status,
			last_error = '',
			updated_at = now()
	`

	_, err := r.db.Exec(ctx, query, p.Collection, p.OwnerID, p.Fingerprint, p.TotalChunks, p.IndexedChunks,
		models.IndexStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to start index progress: %w", err)
	}

	return nil
}

// Advance stores the number of chunks inserted so far.
func (r *IndexProgressRepository) Advance(ctx context.Context, collection, ownerID string, indexed int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE index_progress SET indexed_chunks = $3, updated_at = now()
		WHERE collection = $1 AND owner_id = $2`, collection, ownerID, indexed)
	if err != nil {
		return fmt.Errorf("failed to advance index progress: %w", err)
	}

	return nil
}

// Finish marks a run complete or failed. A complete run counts every chunk as indexed.
func (r *IndexProgressRepository) Finish(ctx context.Context, collection, ownerID, status, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE index_progress SET
			status = $3,
			last_error = $4,
			indexed_chunks = CASE WHEN $3 = $5 THEN total_chunks ELSE indexed_chunks END,
			updated_at = now()
		WHERE collection = $1 AND owner_id = $2`, collection, ownerID, status, lastError, models.IndexStatusComplete)
	if err != nil {
		return fmt.Errorf("failed to finish index progress: %w", err)
	}

	return nil
}

// LockOwner blocks until this session holds the advisory lock for one owner in a collection.
// The lock lives on a dedicated pooled connection, so it also excludes other processes sharing
// the database. The returned func releases it.
func (r *IndexProgressRepository) LockOwner(ctx context.Context, collection, ownerID string) (func(), error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for index lock: %w", err)
	}

	key := "index:" + collection + ":" + ownerID

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()

		return nil, fmt.Errorf("failed to lock %s for indexing: %w", ownerID, err)
	}

	return func() {
		unlockCtx := context.WithoutCancel(ctx)

		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			// A closed connection drops its session locks.
			_ = conn.Conn().Close(unlockCtx)
		}

		conn.Release()
	}, nil
}
