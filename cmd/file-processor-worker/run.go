package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentworkflow/internal/api"
	"github.com/Lllllllleong/documentworkflow/internal/backend"
	"github.com/Lllllllleong/documentworkflow/internal/config"
	"github.com/Lllllllleong/documentworkflow/internal/extraction"
	"github.com/Lllllllleong/documentworkflow/internal/gcp"
	"github.com/Lllllllleong/documentworkflow/internal/log"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"github.com/Lllllllleong/documentworkflow/internal/parsers"
	"github.com/Lllllllleong/documentworkflow/internal/services"
	"github.com/Lllllllleong/documentworkflow/internal/statusstore"
	"github.com/Lllllllleong/documentworkflow/internal/steps"
	"github.com/Lllllllleong/documentworkflow/internal/taskqueue"
	"github.com/Lllllllleong/documentworkflow/internal/telemetry"
	"github.com/Lllllllleong/documentworkflow/internal/workflow"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
)

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))
	logger := log.WithModule("worker")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	tracer := telemetry.NoopTracer()
	if command.Bool("tracing") {
		var shutdown func(context.Context) error
		tracer, shutdown, err = telemetry.NewTracer(ctx, "file-processor-worker")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewStepMetrics(reg)
	go serveMetrics(command.String("metrics-addr"), reg, logger)

	rdb, err := statusstore.Dial(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	status := statusstore.NewRedisStore(rdb, cfg.StatusTTL)

	client, err := backend.NewClient(cfg.Backend, status, log.WithModule("backend"))
	if err != nil {
		return err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("storage.NewClient: %w", err)
	}
	defer storageClient.Close()
	gateway := objectstore.NewGateway(
		objectstore.NewConnectorCache(gcp.NewStorageConnectorFactory(storageClient)),
		log.WithModule("objectstore"),
	)

	parserSet, closeParsers, err := newParsers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeParsers()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	extractor := extraction.NewExtractor(cfg.Resolver(), gateway, cfg.SupportTypes)
	processor := services.NewFileProcessor(parserSet, gateway, client, extractor, log.WithModule("processor"))
	executor := steps.NewExecutor(registry, gateway, log.WithModule("executor"),
		steps.WithTracer(tracer),
		steps.WithMetrics(metrics),
	)

	runnerOpts := []workflow.Option{workflow.WithMetrics(metrics)}
	if cfg.ProjectID != "" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return err
		}
		defer firestoreClient.Close()
		runnerOpts = append(runnerOpts, workflow.WithRecorder(gcp.NewFirestoreSessionRecorder(firestoreClient)))
	}
	runner := workflow.NewRunner(executor, processor, extractor, client, status, log.WithModule("runner"), runnerOpts...)

	channels, err := taskqueue.Open(cfg.Queue, watermill.NewSlogLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := channels.Close(); err != nil {
			logger.Error("Failed to close task queue", "error", err)
		}
	}()

	if addr := command.String("api-addr"); addr != "" {
		gw := api.NewAPI(
			taskqueue.NewQueue(channels.Publisher, cfg.Queue),
			status,
			client,
			log.WithModule("api"),
			api.WithHealthCheck(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		)
		go func() {
			if err := gw.Start(addr); err != nil {
				logger.Error("Gateway stopped", "error", err)
				stop()
			}
		}()
	}

	worker := taskqueue.NewWorker(channels.Tasks, channels.Revocations, runner, cfg.Queue, logger)
	return worker.Run(ctx)
}

// newParsers registers a parser per supported extension. PDF extraction
// needs Vertex AI and is only available when a project is configured.
func newParsers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*parsers.Set, func(), error) {
	set := parsers.NewSet()
	set.Register(parsers.NewCSVParser(), ".csv")
	set.Register(parsers.NewTXTParser(), ".txt")

	if cfg.ProjectID == "" {
		logger.Warn("No project configured; PDF files cannot be parsed.")
		return set, func() {}, nil
	}

	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.Vertex.Region, cfg.Vertex.Model)
	if err != nil {
		return nil, nil, err
	}
	set.Register(parsers.NewPDFParser(vertexClient.ExtractionModel, cfg.Vertex.MaxPages, log.WithModule("parser")), ".pdf")

	return set, func() {
		if err := vertexClient.Close(); err != nil {
			logger.Error("Failed to close Vertex AI client", "error", err)
		}
	}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	logger.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", "error", err)
	}
}
