package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/essaygrader/hub/internal/models"
)

type assessor interface {
	Assess(ctx context.Context, req *models.CreateAssessmentRequest) (*models.AssessmentResult, error)
}

func assess(ctx context.Context, out io.Writer, a assessor, studentAnswer, answerKey string) error {
	studentAnswerID, err := uuid.Parse(studentAnswer)
	if err != nil {
		return fmt.Errorf("invalid --student-answer: %w", err)
	}

	answerKeyID, err := uuid.Parse(answerKey)
	if err != nil {
		return fmt.Errorf("invalid --answer-key: %w", err)
	}

	res, err := a.Assess(ctx, &models.CreateAssessmentRequest{StudentAnswerID: studentAnswerID, AnswerKeyID: answerKeyID})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(res)
}

func newAssessCmd(c *cli) *cobra.Command {
	var studentAnswer, answerKey string

	cmd := &cobra.Command{
		Use:   "assess --student-answer <id> --answer-key <id>",
		Short: "Grade a student answer against an indexed answer key and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := c.servicesFor(cmd.Context(), false)
			if err != nil {
				return err
			}

			return assess(cmd.Context(), c.out, services.Assessments, studentAnswer, answerKey)
		},
	}

	cmd.Flags().StringVar(&studentAnswer, "student-answer", "", "student answer id")
	cmd.Flags().StringVar(&answerKey, "answer-key", "", "answer key id")
	_ = cmd.MarkFlagRequired("student-answer")
	_ = cmd.MarkFlagRequired("answer-key")

	return cmd
}
