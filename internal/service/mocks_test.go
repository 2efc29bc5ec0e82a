package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
	"github.com/essaygrader/hub/internal/providers"
)

type mockAnswerKeysRepo struct {
	mu          sync.Mutex
	keys        map[uuid.UUID]*models.AnswerKey
	chunkCounts map[uuid.UUID]int
}

func newMockAnswerKeysRepo(keys ...*models.AnswerKey) *mockAnswerKeysRepo {
	m := &mockAnswerKeysRepo{keys: map[uuid.UUID]*models.AnswerKey{}, chunkCounts: map[uuid.UUID]int{}}
	for _, k := range keys {
		m.keys[k.ID] = k
	}

	return m
}

func (m *mockAnswerKeysRepo) Create(_ context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := &models.AnswerKey{ID: uuid.New(), Title: req.Title, Content: req.Content, MaxScore: req.MaxScore}
	m.keys[k.ID] = k

	return k, nil
}

func (m *mockAnswerKeysRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AnswerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("answer key", "answer key not found")
	}

	return k, nil
}

func (m *mockAnswerKeysRepo) SetChunkCount(_ context.Context, id uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chunkCounts[id] = n

	return nil
}

type mockStudentAnswersRepo struct {
	mu          sync.Mutex
	answers     map[uuid.UUID]*models.StudentAnswer
	chunkCounts map[uuid.UUID]int
}

func newMockStudentAnswersRepo(answers ...*models.StudentAnswer) *mockStudentAnswersRepo {
	m := &mockStudentAnswersRepo{answers: map[uuid.UUID]*models.StudentAnswer{}, chunkCounts: map[uuid.UUID]int{}}
	for _, a := range answers {
		m.answers[a.ID] = a
	}

	return m
}

func (m *mockStudentAnswersRepo) Create(_ context.Context, req *models.CreateStudentAnswerRequest) (*models.StudentAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := &models.StudentAnswer{ID: uuid.New(), StudentRef: req.StudentRef, Content: req.Content}
	m.answers[a.ID] = a

	return a, nil
}

func (m *mockStudentAnswersRepo) GetByID(_ context.Context, id uuid.UUID) (*models.StudentAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.answers[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("student answer", "student answer not found")
	}

	return a, nil
}

func (m *mockStudentAnswersRepo) SetChunkCount(_ context.Context, id uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chunkCounts[id] = n

	return nil
}

type progressKey struct{ collection, owner string }

type mockProgressRepo struct {
	mu    sync.Mutex
	rows  map[progressKey]models.IndexProgress
	locks int
}

func newMockProgressRepo() *mockProgressRepo {
	return &mockProgressRepo{rows: map[progressKey]models.IndexProgress{}}
}

func (m *mockProgressRepo) Get(_ context.Context, collection, ownerID string) (*models.IndexProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.rows[progressKey{collection, ownerID}]
	if !ok {
		return nil, huberrors.NewNotFoundError("index progress", "no indexing run recorded")
	}

	return &p, nil
}

func (m *mockProgressRepo) Start(_ context.Context, p *models.IndexProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := *p
	row.Status = models.IndexStatusInProgress
	row.LastError = ""
	m.rows[progressKey{p.Collection, p.OwnerID}] = row

	return nil
}

func (m *mockProgressRepo) Advance(_ context.Context, collection, ownerID string, indexed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.rows[progressKey{collection, ownerID}]
	row.IndexedChunks = indexed
	m.rows[progressKey{collection, ownerID}] = row

	return nil
}

func (m *mockProgressRepo) Finish(_ context.Context, collection, ownerID, status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.rows[progressKey{collection, ownerID}]
	row.Status = status
	row.LastError = lastError

	if status == models.IndexStatusComplete {
		row.IndexedChunks = row.TotalChunks
	}

	m.rows[progressKey{collection, ownerID}] = row

	return nil
}

func (m *mockProgressRepo) LockOwner(context.Context, string, string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.locks++

	return func() {}, nil
}

type mockLLM struct {
	completeFunc func(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error)
}

func (m *mockLLM) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error) {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}

	return &providers.Completion{Text: "คะแนน: 5\nความมั่นใจในการตรวจ: 80\nความคิดเห็น: ดี", Model: "test-model"}, nil
}

// memoryAssessments keeps assessments in memory with the same save rules as the postgres repository.
type memoryAssessments struct {
	mu    sync.Mutex
	rows  []*models.Assessment
	clock time.Time
}

func newMemoryAssessments() *memoryAssessments {
	return &memoryAssessments{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memoryAssessments) tick() time.Time {
	m.clock = m.clock.Add(time.Second)

	return m.clock
}

func (m *memoryAssessments) latest(sa, ak uuid.UUID) *models.Assessment {
	var cur *models.Assessment

	for _, r := range m.rows {
		if r.StudentAnswerID != sa || r.AnswerKeyID != ak {
			continue
		}

		if cur == nil || r.CreatedAt.After(cur.CreatedAt) ||
			(r.CreatedAt.Equal(cur.CreatedAt) && r.UpdatedAt.After(cur.UpdatedAt)) {
			cur = r
		}
	}

	return cur
}

func (m *memoryAssessments) SaveRun(_ context.Context, run *models.AssessmentRun) (*models.Assessment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.tick()

	if cur := m.latest(run.StudentAnswerID, run.AnswerKeyID); cur != nil && !cur.Approved {
		cur.Score, cur.MaxScore, cur.Confidence = run.Score, run.MaxScore, run.Confidence
		cur.FeedbackText, cur.ParseStatus, cur.Model = run.FeedbackText, run.ParseStatus, run.Model
		cur.UpdatedAt = now

		out := *cur

		return &out, true, nil
	}

	row := &models.Assessment{
		ID: uuid.New(), StudentAnswerID: run.StudentAnswerID, AnswerKeyID: run.AnswerKeyID,
		Score: run.Score, MaxScore: run.MaxScore, Confidence: run.Confidence,
		FeedbackText: run.FeedbackText, ParseStatus: run.ParseStatus, Model: run.Model,
		CreatedAt: now, UpdatedAt: now,
	}
	m.rows = append(m.rows, row)

	out := *row

	return &out, false, nil
}

func (m *memoryAssessments) find(id uuid.UUID) *models.Assessment {
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}

	return nil
}

func (m *memoryAssessments) GetByID(_ context.Context, id uuid.UUID) (*models.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(id)
	if r == nil {
		return nil, huberrors.NewNotFoundError("assessment", "assessment not found")
	}

	out := *r

	return &out, nil
}

func (m *memoryAssessments) Latest(_ context.Context, sa, ak uuid.UUID) (*models.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.latest(sa, ak)
	if r == nil {
		return nil, huberrors.NewNotFoundError("assessment", "no assessment for this pair")
	}

	out := *r

	return &out, nil
}

func (m *memoryAssessments) ListByPair(_ context.Context, f *models.AssessmentPairFilters) ([]models.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Assessment{}

	for _, r := range m.rows {
		if r.StudentAnswerID == f.StudentAnswerID && r.AnswerKeyID == f.AnswerKeyID {
			out = append(out, *r)
		}
	}

	slices.Reverse(out)

	return out, nil
}

func (m *memoryAssessments) Review(_ context.Context, id uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(id)
	if r == nil {
		return nil, huberrors.NewNotFoundError("assessment", "assessment not found")
	}

	if req.Score != nil {
		r.Score = *req.Score
	}

	if req.Confidence != nil {
		r.Confidence = *req.Confidence
	}

	if req.FeedbackText != nil {
		r.FeedbackText = *req.FeedbackText
	}

	if req.Approved != nil {
		r.Approved = *req.Approved
	}

	r.UpdatedAt = m.tick()

	out := *r

	return &out, nil
}

func (m *memoryAssessments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.rows)
}

type mockUsageLogger struct {
	mu   sync.Mutex
	logs []models.LLMUsageLog
}

func (m *mockUsageLogger) Create(_ context.Context, log *models.LLMUsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs = append(m.logs, *log)

	return nil
}

type mockInserter struct {
	insertFunc func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

func (m *mockInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, args, opts)
	}

	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 1}}, nil
}
