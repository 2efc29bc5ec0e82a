package grader

import (
	"time"

	"github.com/google/uuid"
)

// AnswerKey is an instructor's reference answer.
type AnswerKey struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	MaxScore   int       `json:"maxScore"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CreateAnswerKeyRequest uploads an answer key.
type CreateAnswerKeyRequest struct {
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
	MaxScore int    `json:"maxScore"`
}

// StudentAnswer is one submitted answer.
type StudentAnswer struct {
	ID         uuid.UUID `json:"id"`
	StudentRef string    `json:"studentRef"`
	Content    string    `json:"content"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SubmitStudentAnswerRequest submits a student answer.
type SubmitStudentAnswerRequest struct {
	StudentRef string `json:"studentRef,omitempty"`
	Content    string `json:"content"`
}

// IndexResult reports a finished indexing run.
type IndexResult struct {
	ChunkCount int  `json:"chunkCount"`
	Resumed    bool `json:"resumed,omitempty"`
}

// AssessmentResult is the outcome of one grading run.
type AssessmentResult struct {
	AssessmentID uuid.UUID `json:"assessmentId"`
	Score        float64   `json:"score"`
	MaxScore     int       `json:"maxScore"`
	Confidence   float64   `json:"confidence"`
	Feedback     string    `json:"feedback"`
	ParseStatus  string    `json:"parseStatus"`
	NeedsReview  bool      `json:"needsReview"`
	Updated      bool      `json:"updated"`
}

// Assessment is a stored grading result.
type Assessment struct {
	ID              uuid.UUID  `json:"id"`
	StudentAnswerID uuid.UUID  `json:"studentAnswerId"`
	AnswerKeyID     uuid.UUID  `json:"answerKeyId"`
	Score           float64    `json:"score"`
	MaxScore        int        `json:"maxScore"`
	Confidence      float64    `json:"confidence"`
	FeedbackText    string     `json:"feedbackText"`
	ParseStatus     string     `json:"parseStatus"`
	Model           string     `json:"model"`
	Approved        bool       `json:"approved"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ReviewRequest edits an assessment. Nil fields are left unchanged.
type ReviewRequest struct {
	Score        *float64 `json:"score,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	FeedbackText *string  `json:"feedbackText,omitempty"`
	Approved     *bool    `json:"approved,omitempty"`
}

// ProblemDetails is the RFC 7807 error body returned by the API.
type ProblemDetails struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Errors []struct {
		Location string `json:"location,omitempty"`
		Message  string `json:"message,omitempty"`
	} `json:"errors,omitempty"`
}

type createAssessmentRequest struct {
	StudentAnswerID uuid.UUID `json:"studentAnswerId"`
	AnswerKeyID     uuid.UUID `json:"answerKeyId"`
}

type indexAnswerKeyRequest struct {
	AnswerKeyID uuid.UUID `json:"answerKeyId"`
	Content     *string   `json:"content,omitempty"`
}

type indexStudentAnswerRequest struct {
	StudentAnswerID uuid.UUID `json:"studentAnswerId"`
}

type indexJobResponse struct {
	JobID int64 `json:"jobId"`
}

type listAssessmentsResponse struct {
	Data []Assessment `json:"data"`
}
