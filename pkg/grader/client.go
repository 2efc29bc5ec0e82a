// Package grader is a Go client for the grading API.
package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is used when ClientOptions.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8080"

// ClientOptions configures the grading API client
type ClientOptions struct {
	// BaseURL is the API root without /v1 (default: DefaultBaseURL)
	BaseURL string
	// APIKey is sent as a bearer token
	APIKey string
	// RetryMax is the maximum number of retries (default: 3)
	RetryMax int
	// Timeout is the per-attempt HTTP timeout (default: 2 minutes; grading waits on the LLM)
	Timeout time.Duration
}

// Client is the grading API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Problem    ProblemDetails
}

func (e *APIError) Error() string {
	msg := e.Problem.Detail
	if msg == "" {
		msg = e.Problem.Title
	}

	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}

	return fmt.Sprintf("grader API request failed with status %d: %s", e.StatusCode, msg)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithOptions(ClientOptions{BaseURL: baseURL, APIKey: apiKey})
}

// NewClientWithOptions creates a client with custom options
func NewClientWithOptions(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/v1")

	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: retryClient,
	}
}

// checkRetry keeps the default policy for reads. A POST is retried only when it never got a
// response or the server answered 503, so a create is not repeated after it may have succeeded.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost &&
		resp.StatusCode != http.StatusServiceUnavailable {
		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, want int, out any) error {
	reqURL := c.baseURL + "/v1" + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != want {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, &apiErr.Problem); jsonErr != nil {
			apiErr.Problem.Detail = strings.TrimSpace(string(respBody))
		}

		return apiErr
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// CreateAnswerKey uploads an answer key.
func (c *Client) CreateAnswerKey(ctx context.Context, req CreateAnswerKeyRequest) (*AnswerKey, error) {
	var key AnswerKey
	if err := c.do(ctx, http.MethodPost, "/answer-keys", nil, req, http.StatusCreated, &key); err != nil {
		return nil, err
	}

	return &key, nil
}

// GetAnswerKey fetches an answer key.
func (c *Client) GetAnswerKey(ctx context.Context, id uuid.UUID) (*AnswerKey, error) {
	var key AnswerKey
	if err := c.do(ctx, http.MethodGet, "/answer-keys/"+id.String(), nil, nil, http.StatusOK, &key); err != nil {
		return nil, err
	}

	return &key, nil
}

// SubmitStudentAnswer stores a student answer.
func (c *Client) SubmitStudentAnswer(ctx context.Context, req SubmitStudentAnswerRequest) (*StudentAnswer, error) {
	var answer StudentAnswer
	if err := c.do(ctx, http.MethodPost, "/student-answers", nil, req, http.StatusCreated, &answer); err != nil {
		return nil, err
	}

	return &answer, nil
}

// GetStudentAnswer fetches a student answer.
func (c *Client) GetStudentAnswer(ctx context.Context, id uuid.UUID) (*StudentAnswer, error) {
	var answer StudentAnswer
	if err := c.do(ctx, http.MethodGet, "/student-answers/"+id.String(), nil, nil, http.StatusOK, &answer); err != nil {
		return nil, err
	}

	return &answer, nil
}

// IndexAnswerKey indexes an answer key and waits for the result. A non-nil content must
// match the stored content.
func (c *Client) IndexAnswerKey(ctx context.Context, id uuid.UUID, content *string) (*IndexResult, error) {
	var res IndexResult

	req := indexAnswerKeyRequest{AnswerKeyID: id, Content: content}
	if err := c.do(ctx, http.MethodPost, "/indexing/answer-keys", nil, req, http.StatusOK, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// EnqueueAnswerKeyIndexing queues indexing of an answer key and returns the job ID.
func (c *Client) EnqueueAnswerKeyIndexing(ctx context.Context, id uuid.UUID) (int64, error) {
	return c.enqueue(ctx, "/indexing/answer-keys", indexAnswerKeyRequest{AnswerKeyID: id})
}

// IndexStudentAnswer indexes a student answer and waits for the result.
func (c *Client) IndexStudentAnswer(ctx context.Context, id uuid.UUID) (*IndexResult, error) {
	var res IndexResult

	req := indexStudentAnswerRequest{StudentAnswerID: id}
	if err := c.do(ctx, http.MethodPost, "/indexing/student-answers", nil, req, http.StatusOK, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// EnqueueStudentAnswerIndexing queues indexing of a student answer and returns the job ID.
func (c *Client) EnqueueStudentAnswerIndexing(ctx context.Context, id uuid.UUID) (int64, error) {
	return c.enqueue(ctx, "/indexing/student-answers", indexStudentAnswerRequest{StudentAnswerID: id})
}

func (c *Client) enqueue(ctx context.Context, path string, req any) (int64, error) {
	var res indexJobResponse
	if err := c.do(ctx, http.MethodPost, path, url.Values{"async": {"true"}}, req, http.StatusAccepted, &res); err != nil {
		return 0, err
	}

	return res.JobID, nil
}

// Assess grades a student answer against an answer key.
func (c *Client) Assess(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*AssessmentResult, error) {
	var res AssessmentResult

	req := createAssessmentRequest{StudentAnswerID: studentAnswerID, AnswerKeyID: answerKeyID}
	if err := c.do(ctx, http.MethodPost, "/assessments", nil, req, http.StatusOK, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func pairQuery(studentAnswerID, answerKeyID uuid.UUID) url.Values {
	return url.Values{
		"studentAnswerId": {studentAnswerID.String()},
		"answerKeyId":     {answerKeyID.String()},
	}
}

// CurrentAssessment returns the current assessment of a pair.
func (c *Client) CurrentAssessment(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*Assessment, error) {
	var a Assessment

	query := pairQuery(studentAnswerID, answerKeyID)
	if err := c.do(ctx, http.MethodGet, "/assessments/current", query, nil, http.StatusOK, &a); err != nil {
		return nil, err
	}

	return &a, nil
}

// ListAssessments returns the assessment history of a pair, newest first. A limit of 0 uses
// the server default.
func (c *Client) ListAssessments(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID, limit int) ([]Assessment, error) {
	query := pairQuery(studentAnswerID, answerKeyID)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var res listAssessmentsResponse
	if err := c.do(ctx, http.MethodGet, "/assessments", query, nil, http.StatusOK, &res); err != nil {
		return nil, err
	}

	return res.Data, nil
}

// ReviewAssessment applies a reviewer's edit.
func (c *Client) ReviewAssessment(ctx context.Context, id uuid.UUID, req ReviewRequest) (*Assessment, error) {
	var a Assessment
	if err := c.do(ctx, http.MethodPatch, "/assessments/"+id.String(), nil, req, http.StatusOK, &a); err != nil {
		return nil, err
	}

	return &a, nil
}
