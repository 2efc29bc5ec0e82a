package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterScope       = "github.com/essaygrader/hub/internal/observability"
	cardinalityLimit = 2000
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds) for HTTP and provider histograms.
var latencyHistogramBoundaries = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// HTTPMetrics records per-request counters and durations. Route is the ServeMux pattern.
type HTTPMetrics interface {
	RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration)
}

// Metrics groups every instrument set used by the grader. Any field may be nil when disabled.
type Metrics struct {
	HTTP        HTTPMetrics
	Assessments AssessmentMetrics
	LLM         LLMMetrics
	Indexing    IndexingMetrics
	Embeddings  EmbeddingMetrics
	Cache       CacheMetrics
}

// Metric exporters accepted by NewMeterProvider.
const (
	MetricsExporterPrometheus = "prometheus"
	MetricsExporterOTLP       = "otlp"
)

const defaultMetricExportInterval = 60 * time.Second

// ErrUnsupportedExporter is returned for an unknown MeterProviderConfig.Exporter.
var ErrUnsupportedExporter = errors.New("unsupported metrics exporter")

// MeterProviderConfig holds configuration for creating the MeterProvider and metrics.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: grader-api).
	ServiceName string
	// Exporter is MetricsExporterPrometheus (pull, served on /metrics) or MetricsExporterOTLP (push).
	Exporter string
	// ExportInterval applies to OTLP only (default 60s).
	ExportInterval time.Duration
}

// NewMeterProvider creates a MeterProvider and returns the provider, Metrics bound to the
// provider's Meter and, for the prometheus exporter, an HTTP handler for /metrics.
// The OTLP exporter reads OTEL_EXPORTER_OTLP_* from the environment.
// Caller must call provider.Shutdown on exit.
func NewMeterProvider(ctx context.Context, cfg MeterProviderConfig) (*sdkmetric.MeterProvider, http.Handler, *Metrics, error) {
	var (
		reader  sdkmetric.Reader
		handler http.Handler
	)

	switch cfg.Exporter {
	case MetricsExporterPrometheus, "":
		reg := prometheus.NewRegistry()

		exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}

		reader = exporter
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	case MetricsExporterOTLP:
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create OTLP metric exporter: %w", err)
		}

		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = defaultMetricExportInterval
		}

		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))
	default:
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedExporter, cfg.Exporter)
	}

	latencyView := func(name string) sdkmetric.View {
		return sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
		)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(newResource(cfg.ServiceName)),
		sdkmetric.WithReader(reader),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			latencyView(MetricNameHTTPDuration),
			latencyView(MetricNameAssessmentDuration),
			latencyView(MetricNameLLMDuration),
			latencyView(MetricNameIndexingDuration),
			latencyView(MetricNameEmbeddingDuration),
		),
	)

	metrics, err := NewMetrics(mp.Meter(meterScope))
	if err != nil {
		_ = mp.Shutdown(context.Background())

		return nil, nil, nil, err
	}

	return mp, handler, metrics, nil
}

// NewMetrics creates every instrument set from meter. A nil meter yields a Metrics with nil fields.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	if meter == nil {
		return m, nil
	}

	var err error

	if m.HTTP, err = newHTTPMetrics(meter); err != nil {
		return nil, err
	}

	if m.Assessments, err = NewAssessmentMetrics(meter); err != nil {
		return nil, err
	}

	if m.LLM, err = NewLLMMetrics(meter); err != nil {
		return nil, err
	}

	if m.Indexing, err = NewIndexingMetrics(meter); err != nil {
		return nil, err
	}

	if m.Embeddings, err = NewEmbeddingMetrics(meter); err != nil {
		return nil, err
	}

	if m.Cache, err = NewCacheMetrics(meter); err != nil {
		return nil, err
	}

	return m, nil
}

type httpMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requestCount, err := meter.Int64Counter(MetricNameHTTPRequests,
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http requests counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(MetricNameHTTPDuration,
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http duration histogram: %w", err)
	}

	return &httpMetrics{requestCount: requestCount, requestDuration: requestDuration}, nil
}

func (m *httpMetrics) RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	attrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass),
	)
	m.requestCount.Add(ctx, 1, metric.WithAttributeSet(attrs))

	durAttrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
	)
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(durAttrs))
}

// StatusClass maps an HTTP status code to "2xx", "4xx" and so on.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
