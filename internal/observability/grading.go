package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AssessmentMetrics records assessment runs and how the LLM reply was parsed.
type AssessmentMetrics interface {
	RecordAssessment(ctx context.Context, outcome, failedState string, duration time.Duration)
	RecordParseStatus(ctx context.Context, status string)
}

// LLMMetrics records LLM completion calls and token usage.
type LLMMetrics interface {
	RecordCall(ctx context.Context, provider, status string, duration time.Duration)
	RecordTokens(ctx context.Context, provider string, prompt, completion int64)
}

type assessmentMetrics struct {
	assessments metric.Int64Counter
	duration    metric.Float64Histogram
	parse       metric.Int64Counter
}

// NewAssessmentMetrics creates AssessmentMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewAssessmentMetrics(meter metric.Meter) (AssessmentMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	assessments, err := meter.Int64Counter(MetricNameAssessments,
		metric.WithDescription("Assessment runs by outcome (success, retryable, failed) and failing state"),
	)
	if err != nil {
		return nil, fmt.Errorf("create assessments counter: %w", err)
	}

	duration, err := meter.Float64Histogram(MetricNameAssessmentDuration,
		metric.WithDescription("End-to-end assessment duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create assessment duration histogram: %w", err)
	}

	parse, err := meter.Int64Counter(MetricNameParseStatus,
		metric.WithDescription("LLM replies by parse status (complete, partial, failed)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create parse status counter: %w", err)
	}

	return &assessmentMetrics{assessments: assessments, duration: duration, parse: parse}, nil
}

func (a *assessmentMetrics) RecordAssessment(ctx context.Context, outcome, failedState string, duration time.Duration) {
	outcome = NormalizeReason(outcome, AllowedAssessmentOutcomes)
	if failedState == "" {
		failedState = "none"
	}

	attrs := metric.WithAttributes(
		attribute.String(AttrStatus, outcome),
		attribute.String(AttrState, NormalizeReason(failedState, AllowedAssessmentStates)),
	)
	a.assessments.Add(ctx, 1, attrs)
	a.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrStatus, outcome)))
}

func (a *assessmentMetrics) RecordParseStatus(ctx context.Context, status string) {
	a.parse.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStatus, NormalizeReason(status, AllowedParseStatuses))))
}

type llmMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
}

// NewLLMMetrics creates LLMMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewLLMMetrics(meter metric.Meter) (LLMMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	calls, err := meter.Int64Counter(MetricNameLLMCalls,
		metric.WithDescription("LLM completion calls by provider and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm calls counter: %w", err)
	}

	duration, err := meter.Float64Histogram(MetricNameLLMDuration,
		metric.WithDescription("LLM completion call duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm duration histogram: %w", err)
	}

	tokens, err := meter.Int64Counter(MetricNameLLMTokens,
		metric.WithDescription("LLM tokens by provider and kind (prompt, completion)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm tokens counter: %w", err)
	}

	return &llmMetrics{calls: calls, duration: duration, tokens: tokens}, nil
}

func (l *llmMetrics) RecordCall(ctx context.Context, provider, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrProvider, normalizeProvider(provider)),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedRunStatuses)),
	)
	l.calls.Add(ctx, 1, attrs)
	l.duration.Record(ctx, duration.Seconds(), attrs)
}

func (l *llmMetrics) RecordTokens(ctx context.Context, provider string, prompt, completion int64) {
	provider = normalizeProvider(provider)
	if prompt > 0 {
		l.tokens.Add(ctx, prompt, metric.WithAttributes(
			attribute.String(AttrProvider, provider), attribute.String(AttrKind, "prompt")))
	}

	if completion > 0 {
		l.tokens.Add(ctx, completion, metric.WithAttributes(
			attribute.String(AttrProvider, provider), attribute.String(AttrKind, "completion")))
	}
}

func normalizeProvider(p string) string {
	switch p {
	case "openai", "google", "local":
		return p
	default:
		return "other"
	}
}
