package bootstrap

import (
	"context"
	"fmt"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/clients/redis"
	"voice-bridge/internal/config"
	"voice-bridge/internal/jobs"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/ratelimit"
	"voice-bridge/internal/voicecall/session"

	voiceCallHandler "voice-bridge/internal/voicecall/handler"
	voiceCallProcessor "voice-bridge/internal/voicecall/processor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// publisher is a MixJob queue backend that holds a connection
type publisher interface {
	jobs.Publisher
	Close() error
}

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Logger   *observability.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Calls
	Sessions           *session.Registry
	Dispatcher         *jobs.Dispatcher
	VoiceCallProcessor *voiceCallProcessor.VoiceCallProcessor

	// Handlers
	VoiceCallHandler voiceCallHandler.Handler
	CallLimiter      *ratelimit.Service

	// Connections (for cleanup)
	Publisher   publisher
	RedisClient *redis.Client
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Sessions: session.NewRegistry(),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.NewMetrics(deps.Registry)

	// Initialize the MixJob queue backend
	switch cfg.Queue.Backend {
	case config.QueueBackendKafka:
		deps.Publisher = jobs.NewKafkaClient(cfg.Queue.KafkaBrokers, cfg.Queue.KafkaTopic, logger)
	default:
		deps.Publisher = jobs.NewClient(cfg.Queue.RedisAddr, cfg.Queue.Name, logger)
	}

	var err error
	outbox := jobs.NewOutbox(cfg.Queue.OutboxPath)
	deps.Dispatcher, err = jobs.NewDispatcher(deps.Publisher, outbox, cfg.Queue.DispatchTimeout, logger, deps.Metrics)
	if err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Jobs recorded while the queue was unreachable get one more try at startup
	replayed, err := deps.Dispatcher.ReplayOutbox(ctx)
	if err != nil {
		logger.Error(ctx, "failed to replay dispatch outbox", err)
	} else if replayed > 0 {
		logger.Info(ctx, fmt.Sprintf("replayed %d undispatched mix jobs", replayed))
	}

	// Initialize realtime client and dialer
	realtimeClient, err := openai.NewRealtimeClient(openai.RealtimeConfig{
		URL:          cfg.OpenAI.RealtimeURL,
		APIKey:       cfg.OpenAI.APIKey,
		Voice:        cfg.OpenAI.Voice,
		Instructions: cfg.OpenAI.Instructions,
		Temperature:  cfg.OpenAI.Temperature,
	}, logger)
	if err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to create realtime client: %w", err)
	}

	maxRetries := cfg.OpenAI.MaxReconnectAttempts
	if maxRetries < 0 {
		maxRetries = 0
	}
	dialer := voiceCallProcessor.NewRealtimeDialer(realtimeClient, voiceCallProcessor.DialConfig{
		Timeout:    cfg.OpenAI.DialTimeout,
		MaxRetries: uint64(maxRetries),
		Delay:      cfg.OpenAI.ReconnectDelay,
	}, logger, deps.Metrics)

	// Initialize voice call processor and handler
	deps.VoiceCallProcessor = voiceCallProcessor.NewVoiceCallProcessor(dialer, deps.Dispatcher, deps.Sessions,
		voiceCallProcessor.Config{
			RecordingsDir:  cfg.Recording.Dir,
			FrameInterval:  cfg.Recording.FrameInterval,
			ReconnectDelay: cfg.OpenAI.ReconnectDelay,
			MaxReconnects:  uint64(maxRetries),
		}, logger, deps.Metrics)

	calls := voiceCallHandler.NewTwilioCallCreator(cfg.Twilio)
	if calls == nil {
		logger.Warn(ctx, "Twilio credentials not set, outbound calls are disabled")
	}
	deps.VoiceCallHandler = voiceCallHandler.New(deps.VoiceCallProcessor, calls, voiceCallHandler.Config{
		PublicURL:  cfg.Server.PublicURL,
		Greeting:   cfg.Twilio.Greeting,
		FromNumber: cfg.Twilio.PhoneNumber,
	}, logger)

	// Outbound call rate limiting runs without limits if Redis is unreachable
	if cfg.RateLimit.CallsPerMinute > 0 {
		deps.RedisClient, err = redis.NewClient(ctx, cfg.Queue.RedisAddr, logger)
		if err != nil {
			logger.Error(ctx, "failed to connect to Redis, outbound call rate limiting disabled", err)
		}
	}
	deps.CallLimiter = ratelimit.NewService(deps.RedisClient, cfg.RateLimit.CallsPerMinute, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup() {
	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			d.Logger.Error(context.Background(), "failed to close job publisher", err)
		}
	}
	if err := d.RedisClient.Close(); err != nil {
		d.Logger.Error(context.Background(), "failed to close Redis client", err)
	}
}
