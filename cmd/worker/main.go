package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/config"
	"voice-bridge/internal/jobs"
	"voice-bridge/internal/jobs/workers"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/store"
	"voice-bridge/internal/voice/mixer"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := observability.NewLoggerWithConfig(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	logger.Info(ctx, "Starting mix worker server...")

	// Initialize store
	dataStore, err := store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize store", err)
	}
	defer dataStore.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = dataStore.Ping(pingCtx)
	cancelPing()
	if err != nil {
		logger.Fatal(ctx, "Failed to reach database", err)
	}

	transcriber, err := openai.NewTranscriber(cfg.OpenAI.APIKey, cfg.OpenAI.TranscriptionModel, logger)
	if err != nil {
		logger.Fatal(ctx, "Failed to create transcriber", err)
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	mixWorker := workers.NewMixWorker(mixer.NewFFmpegMixer(cfg.FFmpegPath, logger), transcriber, &dataStore, logger, m)

	// Create Asynq server with queue configuration
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Queue.RedisAddr},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.Queue.Name: 1,
			},
			// Error handler
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error(ctx, fmt.Sprintf("task %s failed", task.Type()), err)
			}),
			// Retry configuration
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Logger:         &asynqLogger{logger: logger},
		},
	)

	// Create task handler (mux)
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TypeMixJob, mixWorker.ProcessMixTask)

	go serveMetrics(ctx, logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start the server in a goroutine
	go func() {
		logger.Info(ctx, fmt.Sprintf("Worker server started on Redis: %s (queue: %s)", cfg.Queue.RedisAddr, cfg.Queue.Name))
		if err := srv.Run(mux); err != nil {
			logger.Fatal(ctx, "Failed to run server", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logger.Info(ctx, "Shutting down worker server...")

	// Graceful shutdown
	srv.Shutdown()
	logger.Info(ctx, "Worker server stopped")
}

// serveMetrics exposes the worker's Prometheus metrics when METRICS_ADDR is set.
func serveMetrics(ctx context.Context, logger *observability.Logger) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "metrics server stopped", err)
	}
}

// asynqLogger adapts observability.Logger to asynq.Logger interface
type asynqLogger struct {
	logger *observability.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.logger.Debug(context.Background(), fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logger.Info(context.Background(), fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logger.Warn(context.Background(), fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logger.Error(context.Background(), fmt.Sprint(args...), nil)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(context.Background(), fmt.Sprint(args...), nil)
	os.Exit(1)
}
