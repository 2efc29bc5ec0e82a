package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/internal/chunker"
	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/internal/vectorindex"
)

// OwnerRole selects which kind of document is indexed. It decides the collection.
type OwnerRole string

// Owner roles.
const (
	RoleAnswerKey     OwnerRole = "answer_key"
	RoleStudentAnswer OwnerRole = "student_answer"
)

// Collection returns the vector collection for the role.
func (r OwnerRole) Collection() string {
	if r == RoleStudentAnswer {
		return vectorindex.StudentAnswerCollection
	}

	return vectorindex.AnswerKeyCollection
}

// Valid reports whether r is a known role.
func (r OwnerRole) Valid() bool {
	return r == RoleAnswerKey || r == RoleStudentAnswer
}

// DefaultIndexBatchSize is how many chunks are embedded and inserted per progress step.
const DefaultIndexBatchSize = 64

// BatchEmbedder embeds document chunks.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// IndexProgressRepository tracks resumable runs. See repository.IndexProgressRepository.
type IndexProgressRepository interface {
	Get(ctx context.Context, collection, ownerID string) (*models.IndexProgress, error)
	Start(ctx context.Context, p *models.IndexProgress) error
	Advance(ctx context.Context, collection, ownerID string, indexed int) error
	Finish(ctx context.Context, collection, ownerID, status, lastError string) error
	// LockOwner excludes other runs for the same owner, including ones in other processes.
	LockOwner(ctx context.Context, collection, ownerID string) (func(), error)
}

// IndexResult describes a finished run.
type IndexResult struct {
	ChunkCount int
	Resumed    bool
}

// IndexingService chunks, embeds and stores documents. Answer keys and student answers go
// through the same routine; only the collection differs.
type IndexingService struct {
	answerKeys     AnswerKeysRepository
	studentAnswers StudentAnswersRepository
	embedder       BatchEmbedder
	index          vectorindex.Index
	progress       IndexProgressRepository
	inserter       JobInserter
	chunking       chunker.Config
	batchSize      int
	maxAttempts    int
	metrics        observability.IndexingMetrics
	logger         *slog.Logger
	locks          ownerLocks
}

// IndexingServiceParams configures IndexingService. Progress, Inserter and Metrics may be nil:
// without Progress runs are never resumed, without Inserter async indexing is unavailable.
type IndexingServiceParams struct {
	AnswerKeys     AnswerKeysRepository
	StudentAnswers StudentAnswersRepository
	Embedder       BatchEmbedder
	Index          vectorindex.Index
	Progress       IndexProgressRepository
	Inserter       JobInserter
	Chunking       chunker.Config
	BatchSize      int
	MaxAttempts    int
	Metrics        observability.IndexingMetrics
	Logger         *slog.Logger
}

// NewIndexingService creates an IndexingService. Invalid chunking settings fail here.
func NewIndexingService(p IndexingServiceParams) (*IndexingService, error) {
	if err := p.Chunking.Validate(); err != nil {
		return nil, err
	}

	if p.Embedder == nil || p.Index == nil {
		return nil, huberrors.NewConfigurationError("indexing", "embedder and vector index are required")
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultIndexBatchSize
	}

	return &IndexingService{
		answerKeys:     p.AnswerKeys,
		studentAnswers: p.StudentAnswers,
		embedder:       p.Embedder,
		index:          p.Index,
		progress:       p.Progress,
		inserter:       p.Inserter,
		chunking:       p.Chunking,
		batchSize:      batchSize,
		maxAttempts:    p.MaxAttempts,
		metrics:        p.Metrics,
		logger:         logger,
	}, nil
}

// Fingerprint identifies content together with everything that changes its vectors.
func Fingerprint(content string, cfg chunker.Config, model string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(cfg.Size) + ":" + strconv.Itoa(cfg.Overlap) + ":" + model))

	return hex.EncodeToString(h.Sum(nil))
}

// IndexAnswerKey indexes a stored answer key. When content is given it must equal the stored content.
func (s *IndexingService) IndexAnswerKey(ctx context.Context, req *models.IndexAnswerKeyRequest) (*IndexResult, error) {
	key, err := s.answerKeyFor(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := s.Index(ctx, RoleAnswerKey, key.ID.String(), key.Content)
	if err != nil {
		return nil, err
	}

	if err := s.answerKeys.SetChunkCount(ctx, key.ID, res.ChunkCount); err != nil {
		return nil, fmt.Errorf("record chunk count: %w", err)
	}

	return res, nil
}

func (s *IndexingService) answerKeyFor(ctx context.Context, req *models.IndexAnswerKeyRequest) (*models.AnswerKey, error) {
	key, err := s.answerKeys.GetByID(ctx, req.AnswerKeyID)
	if err != nil {
		return nil, err
	}

	if req.Content != nil && *req.Content != key.Content {
		return nil, huberrors.NewConflictError("answer key content is immutable; upload a new answer key instead")
	}

	return key, nil
}

// IndexStudentAnswer indexes a stored student answer.
func (s *IndexingService) IndexStudentAnswer(ctx context.Context, id uuid.UUID) (*IndexResult, error) {
	answer, err := s.studentAnswers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.Index(ctx, RoleStudentAnswer, answer.ID.String(), answer.Content)
	if err != nil {
		return nil, err
	}

	if err := s.studentAnswers.SetChunkCount(ctx, answer.ID, res.ChunkCount); err != nil {
		return nil, fmt.Errorf("record chunk count: %w", err)
	}

	return res, nil
}

// IndexDocument dispatches on role. Used by the async worker.
func (s *IndexingService) IndexDocument(ctx context.Context, role OwnerRole, id uuid.UUID) (*IndexResult, error) {
	switch role {
	case RoleAnswerKey:
		return s.IndexAnswerKey(ctx, &models.IndexAnswerKeyRequest{AnswerKeyID: id})
	case RoleStudentAnswer:
		return s.IndexStudentAnswer(ctx, id)
	default:
		return nil, huberrors.NewValidationError("role", "unknown owner role "+string(role))
	}
}

// Index chunks content and stores its vectors under ownerID in the role's collection.
//
// A run with the same fingerprint as an unfinished earlier run continues where that run
// stopped. Any other run embeds everything first and then swaps the owner's vectors in one
// Replace, so a failed re-index leaves the previous vectors searchable. Runs for the same
// owner never overlap.
func (s *IndexingService) Index(ctx context.Context, role OwnerRole, ownerID, content string) (*IndexResult, error) {
	start := time.Now()
	collection := role.Collection()

	chunks, err := s.chunking.Split(content)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return nil, huberrors.NewValidationError("content", "nothing to index")
	}

	unlock, err := s.lockOwner(ctx, collection, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.index.EnsureCollection(ctx, collection, s.embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	fp := Fingerprint(content, s.chunking, s.embedder.Model())

	from, incremental, err := s.resumePoint(ctx, collection, ownerID, fp, len(chunks))
	if err != nil {
		return nil, err
	}

	if s.progress != nil {
		err := s.progress.Start(ctx, &models.IndexProgress{
			Collection: collection, OwnerID: ownerID, Fingerprint: fp,
			TotalChunks: len(chunks), IndexedChunks: from,
		})
		if err != nil {
			return nil, err
		}
	}

	var processed int

	if incremental {
		processed, err = s.insertFrom(ctx, collection, ownerID, chunks, from)
	} else {
		processed, err = s.replaceAll(ctx, collection, ownerID, chunks)
	}

	if err != nil {
		s.finish(ctx, collection, ownerID, models.IndexStatusFailed, err.Error())
		s.recordRun(ctx, role, runStatus(err), processed-from, start)

		s.logger.Error("indexing failed",
			"collection", collection, "owner_id", ownerID,
			"processed", processed, "total", len(chunks), "error", err)

		return nil, &huberrors.IndexingError{
			Collection: collection, OwnerID: ownerID, Processed: processed, Total: len(chunks), Err: err,
		}
	}

	s.finish(ctx, collection, ownerID, models.IndexStatusComplete, "")

	resumed := incremental && from > 0

	status := "success"
	if resumed {
		status = "resumed"
	}

	s.recordRun(ctx, role, status, len(chunks)-from, start)

	s.logger.Info("indexed document",
		"collection", collection, "owner_id", ownerID,
		"chunk_count", len(chunks), "resumed_from", from, "duration", time.Since(start))

	return &IndexResult{ChunkCount: len(chunks), Resumed: resumed}, nil
}

// lockOwner takes the in-process lock first so concurrent local runs wait without holding a
// database connection each.
func (s *IndexingService) lockOwner(ctx context.Context, collection, ownerID string) (func(), error) {
	unlockLocal, err := s.locks.lock(ctx, collection+":"+ownerID)
	if err != nil {
		return nil, fmt.Errorf("wait for running index of %s: %w", ownerID, err)
	}

	if s.progress == nil {
		return unlockLocal, nil
	}

	unlockShared, err := s.progress.LockOwner(ctx, collection, ownerID)
	if err != nil {
		unlockLocal()

		return nil, err
	}

	return func() {
		unlockShared()
		unlockLocal()
	}, nil
}

// resumePoint decides where a run starts. Incremental runs insert batch by batch and can be
// resumed; the others go through Replace.
func (s *IndexingService) resumePoint(ctx context.Context, collection, ownerID, fp string, total int) (int, bool, error) {
	if s.progress == nil {
		return 0, false, nil
	}

	p, err := s.progress.Get(ctx, collection, ownerID)
	if err != nil {
		if errors.Is(err, huberrors.ErrNotFound) {
			return 0, true, nil
		}

		return 0, false, err
	}

	if p.Fingerprint == fp && p.Status != models.IndexStatusComplete && p.TotalChunks == total {
		return min(max(p.IndexedChunks, 0), total), true, nil
	}

	return 0, false, nil
}

// insertFrom removes anything at or past from (left by a crashed batch) and inserts the rest.
func (s *IndexingService) insertFrom(ctx context.Context, collection, ownerID string, chunks []chunker.Chunk, from int) (int, error) {
	if _, err := s.index.Delete(ctx, collection, vectorindex.Filter{OwnerID: ownerID, MinChunkID: &from}); err != nil {
		return from, fmt.Errorf("clear partial batch: %w", err)
	}

	done := from

	for lo := from; lo < len(chunks); lo += s.batchSize {
		hi := min(lo+s.batchSize, len(chunks))

		records, err := s.embedChunks(ctx, ownerID, chunks[lo:hi])
		if err != nil {
			return done, err
		}

		if err := s.index.Insert(ctx, collection, records); err != nil {
			return done, fmt.Errorf("insert vectors: %w", err)
		}

		done = hi

		if s.progress != nil {
			if err := s.progress.Advance(ctx, collection, ownerID, done); err != nil {
				return done, err
			}
		}
	}

	return done, nil
}

func (s *IndexingService) replaceAll(ctx context.Context, collection, ownerID string, chunks []chunker.Chunk) (int, error) {
	records, err := s.embedChunks(ctx, ownerID, chunks)
	if err != nil {
		return 0, err
	}

	if err := s.index.Replace(ctx, collection, ownerID, records); err != nil {
		return 0, fmt.Errorf("replace vectors: %w", err)
	}

	return len(chunks), nil
}

func (s *IndexingService) embedChunks(ctx context.Context, ownerID string, chunks []chunker.Chunk) ([]vectorindex.Record, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	records := make([]vectorindex.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorindex.Record{OwnerID: ownerID, ChunkID: c.ID, ChunkText: c.Text, Vector: vectors[i]}
	}

	return records, nil
}

// finish runs on a context detached from cancellation so a timed-out run is still recorded.
func (s *IndexingService) finish(ctx context.Context, collection, ownerID, status, lastError string) {
	if s.progress == nil {
		return
	}

	if err := s.progress.Finish(context.WithoutCancel(ctx), collection, ownerID, status, lastError); err != nil {
		s.logger.Warn("failed to record index progress",
			"collection", collection, "owner_id", ownerID, "status", status, "error", err)
	}
}

func (s *IndexingService) recordRun(ctx context.Context, role OwnerRole, status string, chunks int, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRun(ctx, string(role), status, chunks, time.Since(start))
	}
}

func runStatus(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	return "error"
}
