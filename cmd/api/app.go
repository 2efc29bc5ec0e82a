package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/essaygrader/hub/internal/api/handlers"
	"github.com/essaygrader/hub/internal/api/middleware"
	"github.com/essaygrader/hub/internal/bootstrap"
	"github.com/essaygrader/hub/internal/config"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/internal/service"
	"github.com/essaygrader/hub/internal/vectorindex"
	"github.com/essaygrader/hub/internal/workers"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	server         *http.Server
	river          *river.Client[pgx.Tx] // nil when RIVER_ENABLED=false
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

// setupMetrics creates the meter provider, grader metrics and, for prometheus, the /metrics handler.
// An unknown OTEL_METRICS_EXPORTER disables metrics.
func setupMetrics(ctx context.Context, cfg *config.Config) (*sdkmetric.MeterProvider, http.Handler, *observability.Metrics, error) {
	switch cfg.OtelMetricsExporter {
	case observability.MetricsExporterPrometheus, observability.MetricsExporterOTLP:
	default:
		slog.Warn("metrics disabled: unsupported OTEL_METRICS_EXPORTER", "exporter", cfg.OtelMetricsExporter)

		return nil, nil, nil, nil
	}

	mp, handler, metrics, err := observability.NewMeterProvider(ctx, observability.MeterProviderConfig{
		Exporter:       cfg.OtelMetricsExporter,
		ExportInterval: cfg.OtelMetricExportInterval,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	return mp, handler, metrics, nil
}

// NewApp builds and wires all components. It does not start the HTTP server or River;
// call Run to start and block until shutdown or failure.
//
//nolint:funlen // linear wiring
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (app *App, err error) {
	var (
		meterProvider  *sdkmetric.MeterProvider
		metricsHandler http.Handler
		metrics        *observability.Metrics
		tracerProvider *sdktrace.TracerProvider
	)

	// Undo observability setup when a later step fails.
	defer func() {
		if err == nil {
			return
		}

		if shutdownErr := shutdownObservability(context.Background(), tracerProvider, meterProvider); shutdownErr != nil {
			slog.Error("shutdown observability after setup error", "error", shutdownErr)
		}
	}()

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metricsHandler, metrics, err = setupMetrics(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	embeddingProvider, err := bootstrap.NewEmbeddingProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chatProvider, err := bootstrap.NewChatProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	index, err := bootstrap.NewVectorIndex(cfg, db)
	if err != nil {
		return nil, err
	}

	slog.Info("providers configured",
		"embedding_provider", cfg.EmbeddingProvider,
		"embedding_model", embeddingProvider.EmbeddingModel(),
		"llm_provider", cfg.LLMProvider,
		"llm_model", chatProvider.Model(),
		"vector_store", cfg.VectorStore,
	)

	services, err := bootstrap.NewServices(bootstrap.Params{
		Config:    cfg,
		DB:        db,
		Embedding: embeddingProvider,
		Chat:      chatProvider,
		Index:     index,
		Metrics:   metrics,
		Observer:  logTransitions,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	var riverClient *river.Client[pgx.Tx]

	if cfg.RiverEnabled {
		riverWorkers := river.NewWorkers()
		river.AddWorker(riverWorkers, workers.NewIndexDocumentWorker(services.Indexing, workers.DefaultIndexDocumentTimeout))

		riverClient, err = river.NewClient(riverpgxv5.New(db), &river.Config{
			Queues: map[string]river.QueueConfig{
				service.IndexingQueueName: {MaxWorkers: cfg.IndexingMaxConcurrent},
			},
			Workers:      riverWorkers,
			ErrorHandler: &workers.ErrorHandler{Logger: slog.Default()},
			MaxAttempts:  cfg.IndexingMaxAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("create River client: %w", err)
		}

		services.Indexing.SetInserter(riverClient)
		slog.Info("async indexing enabled", "queue", service.IndexingQueueName, "workers", cfg.IndexingMaxConcurrent)
	} else {
		slog.Info("async indexing disabled (RIVER_ENABLED=false)")
	}

	server := newHTTPServer(cfg, routes{
		health:         handlers.NewHealthHandler(readinessChecks(db, index)),
		answerKeys:     handlers.NewAnswerKeysHandler(services.AnswerKeys),
		studentAnswers: handlers.NewStudentAnswersHandler(services.StudentAnswers),
		indexing:       handlers.NewIndexingHandler(services.Indexing),
		assessments:    handlers.NewAssessmentsHandler(services.Assessments),
		metrics:        metricsHandler,
	}, metrics, meterProvider, tracerProvider)

	return &App{
		cfg:            cfg,
		db:             db,
		server:         server,
		river:          riverClient,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}, nil
}

func readinessChecks(db *pgxpool.Pool, index vectorindex.Index) map[string]handlers.ReadinessCheck {
	return map[string]handlers.ReadinessCheck{
		"database":     db.Ping,
		"vector_index": func(ctx context.Context) error {
			_, err := index.HasCollection(ctx, vectorindex.AnswerKeyCollection)

			return err
		},
	}
}

func logTransitions(ctx context.Context, from, to service.AssessState) {
	slog.DebugContext(ctx, "assessment state", "from", from, "to", to)
}

type routes struct {
	health         *handlers.HealthHandler
	answerKeys     *handlers.AnswerKeysHandler
	studentAnswers *handlers.StudentAnswersHandler
	indexing       *handlers.IndexingHandler
	assessments    *handlers.AssessmentsHandler
	// metrics is nil when metrics are disabled.
	metrics http.Handler
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health, /ready and /metrics, API key on /v1/).
// Handler chain: RequestID -> otelhttp(Metrics(Logging(MaxBody(mux)))) so access logs get trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	rt routes,
	metrics *observability.Metrics,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", rt.health.Check)
	public.HandleFunc("GET /ready", rt.health.Ready)

	if rt.metrics != nil {
		public.Handle("GET /metrics", rt.metrics)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/answer-keys", rt.answerKeys.Create)
	protected.HandleFunc("GET /v1/answer-keys/{id}", rt.answerKeys.Get)

	protected.HandleFunc("POST /v1/student-answers", rt.studentAnswers.Create)
	protected.HandleFunc("GET /v1/student-answers/{id}", rt.studentAnswers.Get)

	protected.HandleFunc("POST /v1/indexing/answer-keys", rt.indexing.IndexAnswerKey)
	protected.HandleFunc("POST /v1/indexing/student-answers", rt.indexing.IndexStudentAnswer)

	protected.HandleFunc("POST /v1/assessments", rt.assessments.Create)
	protected.HandleFunc("GET /v1/assessments", rt.assessments.List)
	protected.HandleFunc("GET /v1/assessments/current", rt.assessments.Current)
	protected.HandleFunc("PATCH /v1/assessments/{id}", rt.assessments.Review)

	mux := http.NewServeMux()
	mux.Handle("/v1/", middleware.Auth(cfg.APIKey)(protected))
	mux.Handle("/", public)

	otelOpts := []otelhttp.Option{
		// Skip tracing for health checks and scrapes to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/ready" && r.URL.Path != "/metrics"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	var httpMetrics observability.HTTPMetrics
	if metrics != nil {
		httpMetrics = metrics.HTTP
	}

	inner := middleware.MaxBody(cfg.MaxRequestBodyBytes)(mux)
	inner = middleware.Logging(inner)
	inner = middleware.Metrics(httpMetrics)(inner)

	handler := otelhttp.NewHandler(inner, "grader-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout = 15 * time.Second
		idleTimeout = 60 * time.Second
	)

	return &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: readTimeout,
		// Synchronous indexing and grading wait on remote providers.
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  idleTimeout,
	}
}

// writeTimeout leaves room for one full grading run: embed, search and the LLM call.
func writeTimeout(cfg *config.Config) time.Duration {
	const margin = 15 * time.Second

	return cfg.EmbedTimeout + cfg.SearchTimeout + cfg.LLMTimeout + margin
}

// Run starts the HTTP server and River, then blocks until ctx is cancelled (e.g. signal)
// or a component fails. When ctx is cancelled or a component fails, it cancels the internal
// River context so River and the queue depth poller stop before Run returns. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.river != nil {
		if a.metrics != nil && a.metrics.Indexing != nil {
			go workers.RunQueueDepthPoller(riverCtx, workers.DefaultQueueDepthInterval,
				workers.RiverQueueDepth(a.db, service.IndexingQueueName), a.metrics.Indexing)
		}

		go func() {
			if err := a.river.Start(riverCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelRiver()

		return err
	case <-ctx.Done():
		cancelRiver()

		return nil
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		first = err
	}

	if meter != nil {
		if err := meter.Shutdown(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("meter provider shutdown: %w", err)
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown stops the server, then River. Call after Run returns.
// Observability is shut down once via defer; its error is returned only when server and River shut down successfully.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if a.river != nil {
			if stopErr := a.river.Stop(ctx); stopErr != nil {
				slog.Error("river stop during server shutdown", "error", stopErr)
			}
		}

		return fmt.Errorf("server shutdown: %w", err)
	}

	if a.river != nil {
		if err = a.river.Stop(ctx); err != nil {
			return fmt.Errorf("river stop: %w", err)
		}
	}

	return nil
}
