package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/config"
	"voice-bridge/internal/jobs/consumer"
	"voice-bridge/internal/jobs/workers"
	"voice-bridge/internal/kafka"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/store"
	"voice-bridge/internal/voice/mixer"

	"github.com/prometheus/client_golang/prometheus"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info(ctx, "Starting Kafka mix worker...")

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
	jobConsumer := consumer.New(mixWorker, logger)

	// Messages that exhaust their retries are parked on the dead letter topic
	dlqTopic := cfg.Queue.KafkaTopic + ".dlq"
	if cfg.Queue.KafkaTopic == kafka.TopicMixJobs {
		dlqTopic = kafka.TopicDeadLetter
	}
	dlqProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Queue.KafkaBrokers,
		Topic:        dlqTopic,
		RequiredAcks: -1,
	}, logger)
	defer dlqProducer.Close()

	kafkaConsumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Queue.KafkaBrokers,
		Topic:   cfg.Queue.KafkaTopic,
		GroupID: cfg.Queue.KafkaGroupID,
	}, jobConsumer.Handle, dlqProducer, logger)
	defer kafkaConsumer.Close()

	logger.Info(ctx, fmt.Sprintf(`Kafka mix worker configuration:
  - Kafka brokers: %v
  - Kafka topic: %s
  - Dead letter topic: %s
  - Consumer group: %s`,
		cfg.Queue.KafkaBrokers, cfg.Queue.KafkaTopic, dlqTopic, cfg.Queue.KafkaGroupID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := kafkaConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "Mix job consumer error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal or consumer failure
	select {
	case <-sigChan:
		logger.Info(ctx, "Received shutdown signal, stopping consumer...")
	case <-ctx.Done():
	}
	cancel()

	// Let the current message finish; its offset stays uncommitted if it was cut short
	<-done
	logger.Info(ctx, "Kafka mix worker stopped")
}
