package processor

import (
	"context"
	"fmt"
	"time"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"

	"github.com/sethvargo/go-retry"
)

// DialConfig bounds how hard a call tries to reach the realtime service
type DialConfig struct {
	Timeout    time.Duration
	MaxRetries uint64
	Delay      time.Duration
}

// RealtimeDialer dials realtime links with a per-attempt timeout and
// exponential backoff between attempts.
type RealtimeDialer struct {
	connect func(ctx context.Context) (Link, error)
	cfg     DialConfig
	logger  *observability.Logger
	metrics *metrics.Metrics
}

func NewRealtimeDialer(client *openai.RealtimeClient, cfg DialConfig, logger *observability.Logger, m *metrics.Metrics) *RealtimeDialer {
	connect := func(ctx context.Context) (Link, error) {
		link, err := client.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return link, nil
	}
	return newRealtimeDialer(connect, cfg, logger, m)
}

func newRealtimeDialer(connect func(ctx context.Context) (Link, error), cfg DialConfig, logger *observability.Logger, m *metrics.Metrics) *RealtimeDialer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	return &RealtimeDialer{
		connect: connect,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.OrDiscard(m),
	}
}

// Dial makes up to MaxRetries+1 attempts. It stops early when ctx is done.
func (d *RealtimeDialer) Dial(ctx context.Context) (Link, error) {
	var link Link
	attempt := 0

	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.Delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		l, err := d.connect(attemptCtx)
		if err != nil {
			d.metrics.LinkFailures.Inc()
			d.logger.InfoWithError(ctx, fmt.Sprintf("Realtime dial attempt %d failed", attempt), err)
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		link = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open realtime link after %d attempts: %w", attempt, err)
	}
	return link, nil
}
