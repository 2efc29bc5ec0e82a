package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
)

const indexDocumentKind = "index_document"

// IndexingQueueName is the River queue used for indexing jobs.
const IndexingQueueName = "indexing"

// JobInserter inserts jobs (e.g. River client).
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// IndexDocumentArgs is the job payload for indexing one document.
// Uniqueness is by role and owner so repeated requests for the same document share one job.
type IndexDocumentArgs struct {
	Role    OwnerRole `json:"role" river:"unique"`
	OwnerID uuid.UUID `json:"owner_id" river:"unique"`
}

// Kind returns the River job kind.
func (IndexDocumentArgs) Kind() string { return indexDocumentKind }

var _ river.JobArgs = IndexDocumentArgs{}

// SetInserter enables EnqueueIndexing. The River client needs its workers, and so this
// service, before it exists; call this once right after creating the client.
func (s *IndexingService) SetInserter(inserter JobInserter) {
	s.inserter = inserter
}

// EnqueueIndexing schedules an indexing job and returns its id. A job already pending for the
// same document is returned instead of a new one.
func (s *IndexingService) EnqueueIndexing(ctx context.Context, role OwnerRole, id uuid.UUID) (int64, error) {
	if s.inserter == nil {
		return 0, huberrors.NewConfigurationError("RIVER_ENABLED", "async indexing is disabled")
	}

	if !role.Valid() {
		return 0, huberrors.NewValidationError("role", "unknown owner role "+string(role))
	}

	// Unknown documents are rejected before a job exists.
	switch role {
	case RoleAnswerKey:
		if _, err := s.answerKeys.GetByID(ctx, id); err != nil {
			return 0, err
		}
	case RoleStudentAnswer:
		if _, err := s.studentAnswers.GetByID(ctx, id); err != nil {
			return 0, err
		}
	}

	opts := &river.InsertOpts{
		Queue: IndexingQueueName,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStatePending,
				rivertype.JobStateAvailable,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	}

	if s.maxAttempts > 0 {
		opts.MaxAttempts = s.maxAttempts
	}

	res, err := s.inserter.Insert(ctx, IndexDocumentArgs{Role: role, OwnerID: id}, opts)
	if err != nil {
		return 0, err
	}

	if res.UniqueSkippedAsDuplicate {
		s.logger.Debug("indexing job already queued", "role", role, "owner_id", id, "job_id", res.Job.ID)
	}

	return res.Job.ID, nil
}

// EnqueueAnswerKeyIndexing is EnqueueIndexing for an answer key, with the same content check
// as IndexAnswerKey.
func (s *IndexingService) EnqueueAnswerKeyIndexing(ctx context.Context, req *models.IndexAnswerKeyRequest) (int64, error) {
	if req.Content != nil {
		if _, err := s.answerKeyFor(ctx, req); err != nil {
			return 0, err
		}
	}

	return s.EnqueueIndexing(ctx, RoleAnswerKey, req.AnswerKeyID)
}
