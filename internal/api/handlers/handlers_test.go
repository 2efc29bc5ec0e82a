package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/essaygrader/hub/internal/api/response"
	"github.com/essaygrader/hub/internal/huberrors"
	"github.com/essaygrader/hub/internal/models"
	"github.com/essaygrader/hub/internal/service"
)

var (
	keyID    = uuid.MustParse("0190b0c0-0000-7000-8000-0000000000a1")
	answerID = uuid.MustParse("0190b0c0-0000-7000-8000-0000000000b1")
)

type mockAnswerKeysService struct {
	createFunc func(ctx context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error)
	getFunc    func(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error)
}

func (m *mockAnswerKeysService) CreateAnswerKey(ctx context.Context, req *models.CreateAnswerKeyRequest) (*models.AnswerKey, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}

	return &models.AnswerKey{ID: keyID, Title: req.Title, Content: req.Content, MaxScore: req.MaxScore}, nil
}

func (m *mockAnswerKeysService) GetAnswerKey(ctx context.Context, id uuid.UUID) (*models.AnswerKey, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}

	return nil, huberrors.NewNotFoundError("answer key", "answer key not found")
}

type mockIndexingService struct {
	indexKeyFunc func(ctx context.Context, req *models.IndexAnswerKeyRequest) (*service.IndexResult, error)
	enqueueFunc  func(ctx context.Context, role service.OwnerRole, id uuid.UUID) (int64, error)
}

func (m *mockIndexingService) IndexAnswerKey(ctx context.Context, req *models.IndexAnswerKeyRequest) (*service.IndexResult, error) {
	if m.indexKeyFunc != nil {
		return m.indexKeyFunc(ctx, req)
	}

	return &service.IndexResult{ChunkCount: 3}, nil
}

func (m *mockIndexingService) IndexStudentAnswer(context.Context, uuid.UUID) (*service.IndexResult, error) {
	return &service.IndexResult{ChunkCount: 1}, nil
}

func (m *mockIndexingService) EnqueueAnswerKeyIndexing(ctx context.Context, req *models.IndexAnswerKeyRequest) (int64, error) {
	return m.EnqueueIndexing(ctx, service.RoleAnswerKey, req.AnswerKeyID)
}

func (m *mockIndexingService) EnqueueIndexing(ctx context.Context, role service.OwnerRole, id uuid.UUID) (int64, error) {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, role, id)
	}

	return 99, nil
}

type mockAssessmentsService struct {
	assessFunc  func(ctx context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error)
	currentFunc func(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*models.Assessment, error)
	historyFunc func(ctx context.Context, filters *models.AssessmentPairFilters) (*models.ListAssessmentsResponse, error)
	reviewFunc  func(ctx context.Context, id uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error)
}

func (m *mockAssessmentsService) Assess(ctx context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error) {
	return m.assessFunc(ctx, req)
}

func (m *mockAssessmentsService) Current(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*models.Assessment, error) {
	return m.currentFunc(ctx, studentAnswerID, answerKeyID)
}

func (m *mockAssessmentsService) History(ctx context.Context, filters *models.AssessmentPairFilters) (*models.ListAssessmentsResponse, error) {
	return m.historyFunc(ctx, filters)
}

func (m *mockAssessmentsService) Review(ctx context.Context, id uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error) {
	return m.reviewFunc(ctx, id, req)
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) response.ProblemDetails {
	t.Helper()

	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p response.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, rec.Code, p.Status)

	return p
}

func TestHealthHandler_Check(t *testing.T) {
	rec := httptest.NewRecorder()

	failing := func(context.Context) error { return errors.New("down") }

	NewHealthHandler(map[string]ReadinessCheck{"database": failing}).
		Check(rec, httptest.NewRequest(http.MethodGet, "http://test/health", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealthHandler_Ready(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]ReadinessCheck
		status int
		want   ReadyResponse
	}{
		{"no checks", nil, http.StatusOK, ReadyResponse{Status: "ok", Checks: map[string]string{}}},
		{
			"all pass",
			map[string]ReadinessCheck{"database": ok, "vector_index": ok},
			http.StatusOK,
			ReadyResponse{Status: "ok", Checks: map[string]string{"database": "ok", "vector_index": "ok"}},
		},
		{
			"one fails",
			map[string]ReadinessCheck{"database": ok, "vector_index": down},
			http.StatusServiceUnavailable,
			ReadyResponse{Status: "unavailable", Checks: map[string]string{"database": "ok", "vector_index": "unavailable"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			NewHealthHandler(tt.checks).Ready(rec, httptest.NewRequest(http.MethodGet, "http://test/ready", http.NoBody))

			assert.Equal(t, tt.status, rec.Code)

			var got ReadyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

func TestAnswerKeysHandler_Create(t *testing.T) {
	h := NewAnswerKeysHandler(&mockAnswerKeysService{})

	t.Run("valid body returns 201", func(t *testing.T) {
		body := `{"title":"Photosynthesis","content":"Light becomes chemical energy.","maxScore":10}`
		req := httptest.NewRequest(http.MethodPost, "http://test/v1/answer-keys", strings.NewReader(body))
		rec := httptest.NewRecorder()

		h.Create(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var key models.AnswerKey
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &key))
		assert.Equal(t, keyID, key.ID)
		assert.Equal(t, 10, key.MaxScore)
	})

	t.Run("unknown field returns 400", func(t *testing.T) {
		body := `{"content":"x","maxScore":10,"extra":true}`
		rec := httptest.NewRecorder()

		h.Create(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/answer-keys", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body", decodeProblem(t, rec).Detail)
	})

	t.Run("missing content and zero max score are reported per field", func(t *testing.T) {
		rec := httptest.NewRecorder()

		h.Create(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/answer-keys", strings.NewReader(`{"title":"t"}`)))

		require.Equal(t, http.StatusBadRequest, rec.Code)

		p := decodeProblem(t, rec)
		assert.Equal(t, "Validation Error", p.Title)

		locations := make([]string, 0, len(p.Errors))
		for _, e := range p.Errors {
			locations = append(locations, e.Location)
		}

		assert.ElementsMatch(t, []string{"content", "maxScore"}, locations)
	})

	t.Run("null bytes are rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := `{"content":"a\u0000b","maxScore":5}`

		h.Create(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/answer-keys", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAnswerKeysHandler_Get(t *testing.T) {
	h := NewAnswerKeysHandler(&mockAnswerKeysService{})

	t.Run("invalid uuid returns 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://test/v1/answer-keys/nope", http.NoBody)
		req.SetPathValue("id", "nope")
		rec := httptest.NewRecorder()

		h.Get(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing key returns 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://test/v1/answer-keys/"+keyID.String(), http.NoBody)
		req.SetPathValue("id", keyID.String())
		rec := httptest.NewRecorder()

		h.Get(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		decodeProblem(t, rec)
	})
}

func TestIndexingHandler_IndexAnswerKey(t *testing.T) {
	body := func() *strings.Reader {
		return strings.NewReader(`{"answerKeyId":"` + keyID.String() + `"}`)
	}

	t.Run("sync returns chunk count", func(t *testing.T) {
		h := NewIndexingHandler(&mockIndexingService{})
		rec := httptest.NewRecorder()

		h.IndexAnswerKey(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/indexing/answer-keys", body()))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.IndexResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.ChunkCount)
	})

	t.Run("async returns 202 with job id", func(t *testing.T) {
		var gotRole service.OwnerRole

		h := NewIndexingHandler(&mockIndexingService{
			enqueueFunc: func(_ context.Context, role service.OwnerRole, id uuid.UUID) (int64, error) {
				gotRole = role

				assert.Equal(t, keyID, id)

				return 17, nil
			},
		})
		rec := httptest.NewRecorder()

		h.IndexAnswerKey(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/indexing/answer-keys?async=true", body()))

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"jobId":17}`, rec.Body.String())
		assert.Equal(t, service.RoleAnswerKey, gotRole)
	})

	t.Run("bad async flag returns 400", func(t *testing.T) {
		h := NewIndexingHandler(&mockIndexingService{})
		rec := httptest.NewRecorder()

		h.IndexAnswerKey(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/indexing/answer-keys?async=maybe", body()))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"changed content", huberrors.NewConflictError("answer key content is immutable"), http.StatusConflict, "immutable"},
		{
			"interrupted run is resumable",
			&huberrors.IndexingError{
				Processed: 2, Total: 5,
				Err: huberrors.NewProviderUnavailableError("openai", "embeddings", true, errors.New("429")),
			},
			http.StatusServiceUnavailable,
			"2 of 5",
		},
		{
			"rejected by provider",
			&huberrors.IndexingError{
				Processed: 0, Total: 5,
				Err: huberrors.NewProviderUnavailableError("openai", "embeddings", false, errors.New("401")),
			},
			http.StatusBadGateway,
			"0 of 5",
		},
		{"dimension mismatch", huberrors.NewConfigurationError("EMBEDDING_DIMENSIONS", "mismatch"), http.StatusInternalServerError, "misconfigured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewIndexingHandler(&mockIndexingService{
				indexKeyFunc: func(context.Context, *models.IndexAnswerKeyRequest) (*service.IndexResult, error) {
					return nil, tt.err
				},
			})
			rec := httptest.NewRecorder()

			h.IndexAnswerKey(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/indexing/answer-keys", body()))

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeProblem(t, rec).Detail, tt.detail)
		})
	}
}

func TestIndexingHandler_IndexStudentAnswer(t *testing.T) {
	h := NewIndexingHandler(&mockIndexingService{})
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"studentAnswerId":"` + answerID.String() + `"}`)

	h.IndexStudentAnswer(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/indexing/student-answers", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chunkCount":1}`, rec.Body.String())
}

func TestAssessmentsHandler_Create(t *testing.T) {
	body := func() *strings.Reader {
		return strings.NewReader(`{"studentAnswerId":"` + answerID.String() + `","answerKeyId":"` + keyID.String() + `"}`)
	}

	t.Run("success returns assessment result", func(t *testing.T) {
		h := NewAssessmentsHandler(&mockAssessmentsService{
			assessFunc: func(_ context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error) {
				assert.Equal(t, answerID, req.StudentAnswerID)
				assert.Equal(t, keyID, req.AnswerKeyID)

				return &models.AssessmentResult{Score: 8, MaxScore: 10, Confidence: 90, ParseStatus: models.ParseStatusComplete}, nil
			},
		})
		rec := httptest.NewRecorder()

		h.Create(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/assessments", body()))

		require.Equal(t, http.StatusOK, rec.Code)

		var res models.AssessmentResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.InDelta(t, 8, res.Score, 1e-9)
		assert.False(t, res.NeedsReview)
	})

	t.Run("missing ids return 400", func(t *testing.T) {
		h := NewAssessmentsHandler(&mockAssessmentsService{})
		rec := httptest.NewRecorder()

		h.Create(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/assessments", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"llm timeout is retryable", &service.RunError{State: service.StateAwaitingLLM, Retryable: true, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{"provider rejection is not retryable", &service.RunError{State: service.StateAwaitingLLM, Err: errors.New("401")}, http.StatusInternalServerError},
		{
			"unknown answer key",
			&service.RunError{State: service.StateLoading, Err: huberrors.NewNotFoundError("answer key", "answer key not found")},
			http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAssessmentsHandler(&mockAssessmentsService{
				assessFunc: func(context.Context, *models.CreateAssessmentRequest) (*models.AssessmentResult, error) {
					return nil, tt.err
				},
			})
			rec := httptest.NewRecorder()

			h.Create(rec, httptest.NewRequest(http.MethodPost, "http://test/v1/assessments", body()))

			assert.Equal(t, tt.status, rec.Code)
			decodeProblem(t, rec)
		})
	}
}

func TestAssessmentsHandler_CurrentAndList(t *testing.T) {
	query := "?studentAnswerId=" + answerID.String() + "&answerKeyId=" + keyID.String()

	h := NewAssessmentsHandler(&mockAssessmentsService{
		currentFunc: func(_ context.Context, sa, ak uuid.UUID) (*models.Assessment, error) {
			return &models.Assessment{StudentAnswerID: sa, AnswerKeyID: ak, ParseStatus: models.ParseStatusPartial}, nil
		},
		historyFunc: func(_ context.Context, f *models.AssessmentPairFilters) (*models.ListAssessmentsResponse, error) {
			assert.Equal(t, 5, f.Limit)

			return &models.ListAssessmentsResponse{Data: []models.Assessment{{}, {}}}, nil
		},
	})

	t.Run("current decodes uuid query params", func(t *testing.T) {
		rec := httptest.NewRecorder()

		h.Current(rec, httptest.NewRequest(http.MethodGet, "http://test/v1/assessments/current"+query, http.NoBody))

		require.Equal(t, http.StatusOK, rec.Code)

		var a models.Assessment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
		assert.Equal(t, answerID, a.StudentAnswerID)
		assert.Equal(t, keyID, a.AnswerKeyID)
	})

	t.Run("list passes limit", func(t *testing.T) {
		rec := httptest.NewRecorder()

		h.List(rec, httptest.NewRequest(http.MethodGet, "http://test/v1/assessments"+query+"&limit=5", http.NoBody))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.ListAssessmentsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, 2)
	})

	t.Run("missing pair returns 400", func(t *testing.T) {
		rec := httptest.NewRecorder()

		h.Current(rec, httptest.NewRequest(http.MethodGet, "http://test/v1/assessments/current", http.NoBody))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed uuid returns 400", func(t *testing.T) {
		rec := httptest.NewRecorder()

		h.List(rec, httptest.NewRequest(http.MethodGet, "http://test/v1/assessments?studentAnswerId=x&answerKeyId=y", http.NoBody))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAssessmentsHandler_Review(t *testing.T) {
	id := uuid.MustParse("0190b0c0-0000-7000-8000-0000000000c1")

	h := NewAssessmentsHandler(&mockAssessmentsService{
		reviewFunc: func(_ context.Context, got uuid.UUID, req *models.ReviewAssessmentRequest) (*models.Assessment, error) {
			assert.Equal(t, id, got)

			if req.Score != nil && *req.Score > 10 {
				return nil, huberrors.NewValidationError("score", "score must be between 0 and the answer key's max score")
			}

			return &models.Assessment{ID: got, Score: *req.Score, Approved: req.Approved != nil && *req.Approved}, nil
		},
	})

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "http://test/v1/assessments/"+id.String(), strings.NewReader(body))
		req.SetPathValue("id", id.String())
		rec := httptest.NewRecorder()
		h.Review(rec, req)

		return rec
	}

	rec := send(`{"score":7,"approved":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var a models.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.True(t, a.Approved)
	assert.InDelta(t, 7, a.Score, 1e-9)

	assert.Equal(t, http.StatusBadRequest, send(`{"score":11}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(`{"confidence":101}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(`{"score":-1}`).Code)
}
