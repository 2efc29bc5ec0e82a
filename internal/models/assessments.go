package models

import (
	"time"

	"github.com/google/uuid"
)

// Parse statuses stored on an Assessment.
const (
	ParseStatusComplete = "complete"
	ParseStatusPartial  = "partial"
	ParseStatusFailed   = "failed"
)

// Assessment is the persisted result of grading one student answer against one answer key.
// The current assessment of a pair is the latest by CreatedAt, then UpdatedAt, then ID.
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

// NeedsReview reports whether a reviewer must look at the row before it is trusted.
func (a *Assessment) NeedsReview() bool {
	return !a.Approved && a.ParseStatus != ParseStatusComplete
}

// AssessmentRun is what one pipeline run hands to persistence.
type AssessmentRun struct {
	StudentAnswerID uuid.UUID
	AnswerKeyID     uuid.UUID
	Score           float64
	MaxScore        int
	Confidence      float64
	FeedbackText    string
	ParseStatus     string
	Model           string
}

// CreateAssessmentRequest represents the request to grade a student answer
type CreateAssessmentRequest struct {
	StudentAnswerID uuid.UUID `json:"studentAnswerId" validate:"required"`
	AnswerKeyID     uuid.UUID `json:"answerKeyId" validate:"required"`
}

// AssessmentResult is the response of a grading run
type AssessmentResult struct {
	AssessmentID uuid.UUID `json:"assessmentId"`
	Score        float64   `json:"score"`
	MaxScore     int       `json:"maxScore"`
	Confidence   float64   `json:"confidence"`
	Feedback     string    `json:"feedback"`
	ParseStatus  string    `json:"parseStatus"`
	NeedsReview  bool      `json:"needsReview"`
	// Updated is true when an unapproved assessment was overwritten instead of a new one inserted.
	Updated bool `json:"updated"`
}

// ReviewAssessmentRequest is a reviewer's edit. Absent fields are left unchanged.
type ReviewAssessmentRequest struct {
	Score        *float64 `json:"score,omitempty" validate:"omitempty,min=0"`
	Confidence   *float64 `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	FeedbackText *string  `json:"feedbackText,omitempty" validate:"omitempty,no_null_bytes"`
	Approved     *bool    `json:"approved,omitempty"`
}

// AssessmentPairFilters selects the assessments of one (student answer, answer key) pair
type AssessmentPairFilters struct {
	StudentAnswerID uuid.UUID `form:"studentAnswerId" validate:"required"`
	AnswerKeyID     uuid.UUID `form:"answerKeyId" validate:"required"`
	Limit           int       `form:"limit" validate:"omitempty,min=1,max=1000"`
}

// ListAssessmentsResponse represents the assessment history of a pair, newest first
type ListAssessmentsResponse struct {
	Data []Assessment `json:"data"`
}
