// Package workers provides River job workers for asynchronous indexing.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/internal/service"
)

// documentIndexer is the minimal interface needed by the worker.
type documentIndexer interface {
	IndexDocument(ctx context.Context, role service.OwnerRole, id uuid.UUID) (*service.IndexResult, error)
}

// DefaultIndexDocumentTimeout bounds one indexing job.
const DefaultIndexDocumentTimeout = 10 * time.Minute

// IndexDocumentWorker indexes one answer key or student answer.
type IndexDocumentWorker struct {
	river.WorkerDefaults[service.IndexDocumentArgs]

	indexer documentIndexer
	timeout time.Duration
}

// NewIndexDocumentWorker creates the worker. A zero timeout uses DefaultIndexDocumentTimeout.
func NewIndexDocumentWorker(indexer documentIndexer, timeout time.Duration) *IndexDocumentWorker {
	if timeout <= 0 {
		timeout = DefaultIndexDocumentTimeout
	}

	return &IndexDocumentWorker{indexer: indexer, timeout: timeout}
}

// Timeout limits how long a single indexing job can run.
func (w *IndexDocumentWorker) Timeout(*river.Job[service.IndexDocumentArgs]) time.Duration {
	return w.timeout
}

// Work runs the indexing routine. Errors that another attempt cannot fix cancel the job;
// everything else is retried by River, resuming from the last stored batch.
func (w *IndexDocumentWorker) Work(ctx context.Context, job *river.Job[service.IndexDocumentArgs]) error {
	ctx = observability.WithJobID(ctx, job.ID)
	args := job.Args

	res, err := w.indexer.IndexDocument(ctx, args.Role, args.OwnerID)
	if err != nil {
		if permanent(err) {
			slog.ErrorContext(ctx, "indexing: giving up",
				"role", args.Role, "owner_id", args.OwnerID, "error", err)

			return river.JobCancel(err)
		}

		return fmt.Errorf("index %s %s: %w", args.Role, args.OwnerID, err)
	}

	slog.InfoContext(ctx, "indexing: stored",
		"role", args.Role, "owner_id", args.OwnerID,
		"chunk_count", res.ChunkCount, "resumed", res.Resumed, "attempt", job.Attempt)

	return nil
}

func permanent(err error) bool {
	return errors.Is(err, huberrors.ErrNotFound) ||
		errors.Is(err, huberrors.ErrValidation) ||
		errors.Is(err, huberrors.ErrConflict) ||
		errors.Is(err, huberrors.ErrConfiguration)
}
