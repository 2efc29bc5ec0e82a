package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/essaygrader/hub/internal/grading"
	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/internal/providers"
	"github.com/essaygrader/hub/internal/vectorindex"
)

// AssessState is a step of one grading run.
type AssessState string

// Assessment states, in run order. Done and Failed are terminal.
const (
	StateIdle        AssessState = "idle"
	StateLoading     AssessState = "loading"
	StateEmbedding   AssessState = "embedding"
	StateSearching   AssessState = "searching"
	StatePrompting   AssessState = "prompting"
	StateAwaitingLLM AssessState = "awaiting_llm"
	StateParsing     AssessState = "parsing"
	StatePersisting  AssessState = "persisting"
	StateDone        AssessState = "done"
	StateFailed      AssessState = "failed"
)

// Assessor defaults.
const (
	DefaultTopK          = 3
	DefaultEmbedTimeout  = 15 * time.Second
	DefaultSearchTimeout = 10 * time.Second
	DefaultLLMTimeout    = 60 * time.Second
)

// RunError is returned when a run stops before persisting. Nothing was written.
type RunError struct {
	State     AssessState
	Retryable bool
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("assessment failed while %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// StateObserver is told about every transition. It must not block.
type StateObserver func(ctx context.Context, from, to AssessState)

// QueryEmbedder embeds one query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LLM produces one completion.
type LLM interface {
	Complete(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error)
}

// AssessmentRunStore persists a finished run.
type AssessmentRunStore interface {
	SaveRun(ctx context.Context, run *models.AssessmentRun) (*models.Assessment, bool, error)
}

// UsageLogger records LLM usage.
type UsageLogger interface {
	Create(ctx context.Context, log *models.LLMUsageLog) error
}

type answerKeyGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error)
}

type studentAnswerGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StudentAnswer, error)
}

// AssessorParams configures Assessor. Usage, Observer and the metrics may be nil.
type AssessorParams struct {
	AnswerKeys     answerKeyGetter
	StudentAnswers studentAnswerGetter
	Embedder       QueryEmbedder
	Index          vectorindex.Index
	LLM            LLM
	LLMProvider    string
	Store          AssessmentRunStore
	Usage          UsageLogger
	Parser         grading.Parser
	TopK           int
	EmbedTimeout   time.Duration
	SearchTimeout  time.Duration
	LLMTimeout     time.Duration
	Observer       StateObserver
	Metrics        observability.AssessmentMetrics
	LLMMetrics     observability.LLMMetrics
	Logger         *slog.Logger
}

// Assessor grades one student answer against one answer key.
type Assessor struct {
	p      AssessorParams
	logger *slog.Logger
}

// NewAssessor creates an Assessor, filling zero settings with defaults.
func NewAssessor(p AssessorParams) *Assessor {
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}

	if p.EmbedTimeout <= 0 {
		p.EmbedTimeout = DefaultEmbedTimeout
	}

	if p.SearchTimeout <= 0 {
		p.SearchTimeout = DefaultSearchTimeout
	}

	if p.LLMTimeout <= 0 {
		p.LLMTimeout = DefaultLLMTimeout
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Assessor{p: p, logger: logger}
}

// run carries the state of one Assess call.
type run struct {
	a     *Assessor
	state AssessState
}

func (r *run) enter(ctx context.Context, next AssessState) {
	prev := r.state
	r.state = next

	trace.SpanFromContext(ctx).AddEvent("state", trace.WithAttributes(attribute.String("state", string(next))))

	if r.a.p.Observer != nil {
		r.a.p.Observer(ctx, prev, next)
	}
}

// fail moves to Failed and wraps err. A deadline hit by one step is retryable as long as the
// caller's own context is still alive.
func (r *run) fail(ctx context.Context, err error) *RunError {
	failed := r.state

	retryable := huberrors.IsRetryable(err)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		retryable = true
	}

	r.enter(ctx, StateFailed)

	return &RunError{State: failed, Retryable: retryable, Err: err}
}

// Assess runs the grading pipeline: load, embed the answer, retrieve key chunks, prompt the
// LLM, parse, clamp and persist.
func (a *Assessor) Assess(ctx context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "assessor.Assess", trace.WithAttributes(
		attribute.String("student_answer_id", req.StudentAnswerID.String()),
		attribute.String("answer_key_id", req.AnswerKeyID.String()),
	))
	defer span.End()

	start := time.Now()
	r := &run{a: a, state: StateIdle}

	result, err := a.assess(ctx, r, req)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			outcome := "failed"
			if runErr.Retryable {
				outcome = "retryable"
			}

			a.recordAssessment(ctx, outcome, string(runErr.State), start)
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		a.logger.Warn("assessment failed",
			"student_answer_id", req.StudentAnswerID, "answer_key_id", req.AnswerKeyID,
			"state", r.failedState(err), "error", err)

		return nil, err
	}

	a.recordAssessment(ctx, "success", "", start)

	return result, nil
}

func (r *run) failedState(err error) AssessState {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.State
	}

	return r.state
}

func (a *Assessor) assess(ctx context.Context, r *run, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error) {
	r.enter(ctx, StateLoading)

	answer, err := a.p.StudentAnswers.GetByID(ctx, req.StudentAnswerID)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	key, err := a.p.AnswerKeys.GetByID(ctx, req.AnswerKeyID)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(ctx, StateEmbedding)

	query, err := a.embed(ctx, answer.Content)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(ctx, StateSearching)

	hits, err := a.search(ctx, key.ID.String(), query)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(ctx, StatePrompting)

	prompt := grading.BuildPrompt(keyContext(hits, key.Content), answer.Content, key.MaxScore)

	r.enter(ctx, StateAwaitingLLM)

	completion, latency, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(ctx, StateParsing)

	parsed := a.p.Parser.Parse(completion.Text)
	if a.p.Metrics != nil {
		a.p.Metrics.RecordParseStatus(ctx, string(parsed.Status))
	}

	if parsed.Status != grading.ParseComplete {
		a.logger.Info("llm reply only partly parsed",
			"answer_key_id", key.ID, "student_answer_id", answer.ID, "parse_status", parsed.Status)
	}

	r.enter(ctx, StatePersisting)

	saved, updated, err := a.p.Store.SaveRun(ctx, &models.AssessmentRun{
		StudentAnswerID: answer.ID,
		AnswerKeyID:     key.ID,
		Score:           grading.ClampScore(parsed.Score, key.MaxScore),
		MaxScore:        key.MaxScore,
		Confidence:      grading.ClampConfidence(parsed.Confidence),
		FeedbackText:    parsed.Feedback,
		ParseStatus:     string(parsed.Status),
		Model:           completion.Model,
	})
	if err != nil {
		a.logUsage(ctx, nil, completion, latency)

		return nil, r.fail(ctx, err)
	}

	a.logUsage(ctx, &saved.ID, completion, latency)
	r.enter(ctx, StateDone)

	return &models.AssessmentResult{
		AssessmentID: saved.ID,
		Score:        saved.Score,
		MaxScore:     saved.MaxScore,
		Confidence:   saved.Confidence,
		Feedback:     saved.FeedbackText,
		ParseStatus:  saved.ParseStatus,
		NeedsReview:  saved.NeedsReview(),
		Updated:      updated,
	}, nil
}

func (a *Assessor) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, a.p.EmbedTimeout)
	defer cancel()

	v, err := a.p.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed student answer: %w", err)
	}

	return v, nil
}

// search treats a collection that does not exist yet as "nothing indexed".
func (a *Assessor) search(ctx context.Context, ownerID string, query []float32) ([]vectorindex.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.p.SearchTimeout)
	defer cancel()

	hits, err := a.p.Index.Search(ctx, vectorindex.AnswerKeyCollection, query, vectorindex.OwnerFilter(ownerID), a.p.TopK)
	if err == nil {
		return hits, nil
	}

	if errors.Is(err, huberrors.ErrConfiguration) {
		exists, hasErr := a.p.Index.HasCollection(ctx, vectorindex.AnswerKeyCollection)
		if hasErr == nil && !exists {
			return nil, nil
		}
	}

	return nil, fmt.Errorf("search answer key chunks: %w", err)
}

func (a *Assessor) complete(ctx context.Context, prompt grading.Prompt) (*providers.Completion, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, a.p.LLMTimeout)
	defer cancel()

	start := time.Now()
	completion, err := a.p.LLM.Complete(ctx, providers.CompletionRequest{System: prompt.System, User: prompt.User})
	latency := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}

	if a.p.LLMMetrics != nil {
		a.p.LLMMetrics.RecordCall(ctx, a.p.LLMProvider, status, latency)

		if err == nil {
			a.p.LLMMetrics.RecordTokens(ctx, a.p.LLMProvider, completion.PromptTokens, completion.CompletionTokens)
		}
	}

	if err != nil {
		return nil, latency, fmt.Errorf("llm completion: %w", err)
	}

	return completion, latency, nil
}

// keyContext joins retrieved chunks in document order. With nothing retrieved the whole
// answer key is used.
func keyContext(hits []vectorindex.SearchResult, fullContent string) string {
	if len(hits) == 0 {
		return fullContent
	}

	ordered := slices.Clone(hits)
	slices.SortFunc(ordered, func(x, y vectorindex.SearchResult) int { return x.ChunkID - y.ChunkID })

	parts := make([]string, 0, len(ordered))
	for _, h := range ordered {
		parts = append(parts, h.ChunkText)
	}

	return strings.Join(parts, "\n\n")
}

func (a *Assessor) logUsage(ctx context.Context, assessmentID *uuid.UUID, c *providers.Completion, latency time.Duration) {
	if a.p.Usage == nil {
		return
	}

	err := a.p.Usage.Create(context.WithoutCancel(ctx), &models.LLMUsageLog{
		AssessmentID:     assessmentID,
		Provider:         a.p.LLMProvider,
		Model:            c.Model,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		Latency:          latency,
	})
	if err != nil {
		a.logger.Warn("failed to log llm usage", "error", err)
	}
}

func (a *Assessor) recordAssessment(ctx context.Context, outcome, failedState string, start time.Time) {
	if a.p.Metrics != nil {
		a.p.Metrics.RecordAssessment(ctx, outcome, failedState, time.Since(start))
	}
}
