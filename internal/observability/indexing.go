package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IndexingMetrics records indexing runs per owner role and the async queue depth.
type IndexingMetrics interface {
	RecordRun(ctx context.Context, role, status string, chunks int, duration time.Duration)
	SetQueueDepth(depth int64)
}

type indexingMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	chunks   metric.Int64Counter
	depth    atomic.Int64
}

// NewIndexingMetrics creates IndexingMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewIndexingMetrics(meter metric.Meter) (IndexingMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	runs, err := meter.Int64Counter(MetricNameIndexingRuns,
		metric.WithDescription("Indexing runs by role and status (success, resumed, skipped, error)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create indexing runs counter: %w", err)
	}

	duration, err := meter.Float64Histogram(MetricNameIndexingDuration,
		metric.WithDescription("Indexing run duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create indexing duration histogram: %w", err)
	}

	chunks, err := meter.Int64Counter(MetricNameChunksIndexed,
		metric.WithDescription("Chunks embedded and stored by role"),
	)
	if err != nil {
		return nil, fmt.Errorf("create chunks indexed counter: %w", err)
	}

	m := &indexingMetrics{runs: runs, duration: duration, chunks: chunks}

	_, err = meter.Int64ObservableGauge(MetricNameIndexingQueueDepth,
		metric.WithDescription("Available or retryable index_document jobs"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.depth.Load())

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create indexing queue depth gauge: %w", err)
	}

	return m, nil
}

func (m *indexingMetrics) RecordRun(ctx context.Context, role, status string, chunks int, duration time.Duration) {
	roleAttr := attribute.String(AttrRole, NormalizeReason(role, AllowedRoles))
	attrs := metric.WithAttributes(roleAttr, attribute.String(AttrStatus, NormalizeReason(status, AllowedRunStatuses)))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)

	if chunks > 0 {
		m.chunks.Add(ctx, int64(chunks), metric.WithAttributes(roleAttr))
	}
}

func (m *indexingMetrics) SetQueueDepth(depth int64) {
	m.depth.Store(depth)
}
