package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EmbeddingMetrics records embedder metrics: one sample per provider sub-batch.
type EmbeddingMetrics interface {
	RecordBatch(ctx context.Context, size int, duration time.Duration, status string)
	RecordProviderError(ctx context.Context, reason string)
}

type embeddingMetrics struct {
	batches        metric.Int64Counter
	duration       metric.Float64Histogram
	providerErrors metric.Int64Counter
}

// NewEmbeddingMetrics creates EmbeddingMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewEmbeddingMetrics(meter metric.Meter) (EmbeddingMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	batches, err := meter.Int64Counter(MetricNameEmbeddingBatches,
		metric.WithDescription("Embedding provider calls by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding batches counter: %w", err)
	}

	duration, err := meter.Float64Histogram(MetricNameEmbeddingDuration,
		metric.WithDescription("Embedding provider call duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding duration histogram: %w", err)
	}

	providerErrors, err := meter.Int64Counter(MetricNameEmbeddingProviderError,
		metric.WithDescription("Embedding failures by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider errors counter: %w", err)
	}

	return &embeddingMetrics{batches: batches, duration: duration, providerErrors: providerErrors}, nil
}

func (e *embeddingMetrics) RecordBatch(ctx context.Context, _ int, duration time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String(AttrStatus, NormalizeReason(status, AllowedRunStatuses)))
	e.batches.Add(ctx, 1, attrs)
	e.duration.Record(ctx, duration.Seconds(), attrs)
}

func (e *embeddingMetrics) RecordProviderError(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedEmbeddingProviderReasons)
	e.providerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}
