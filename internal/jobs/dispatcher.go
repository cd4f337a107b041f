package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrAlreadyDispatched = errors.New("mix job already dispatched for call")

const (
	defaultDispatchTimeout = 5 * time.Second
	dedupWindow            = 4096
)

// Publisher hands a MixJob to a durable queue.
type Publisher interface {
	Publish(ctx context.Context, job MixJob) error
}

// Dispatcher publishes at most one MixJob per call sid. Failed hand-offs are
// logged as lost and recorded in the outbox.
type Dispatcher struct {
	publisher Publisher
	outbox    *Outbox
	timeout   time.Duration
	seen      *lru.Cache[string, struct{}]
	logger    *observability.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(publisher Publisher, outbox *Outbox, timeout time.Duration, logger *observability.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	seen, err := lru.New[string, struct{}](dedupWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup window: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		publisher: publisher,
		outbox:    outbox,
		timeout:   timeout,
		seen:      seen,
		logger:    logger,
		metrics:   metrics.OrDiscard(m),
	}, nil
}

// Dispatch publishes job unless one was already dispatched for its call.
func (d *Dispatcher) Dispatch(ctx context.Context, job MixJob) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_sid", Value: job.CallSid},
		observability.Field{Key: "stream_sid", Value: job.StreamSid},
	)

	if found, _ := d.seen.ContainsOrAdd(job.CallSid, struct{}{}); found {
		d.metrics.DispatchResults.WithLabelValues(metrics.DispatchDuplicate).Inc()
		d.logger.Warn(ctx, "mix job already dispatched, skipping")
		return ErrAlreadyDispatched
	}

	if err := d.publish(ctx, job); err != nil {
		// Only published jobs count as dispatched
		d.seen.Remove(job.CallSid)
		d.metrics.DispatchResults.WithLabelValues(metrics.DispatchFailed).Inc()
		d.logger.Error(ctx, "mix job lost: publish failed", err)
		if d.outbox != nil {
			if oerr := d.outbox.Append(job); oerr != nil {
				d.logger.Error(ctx, "failed to record mix job in outbox", oerr)
			} else {
				d.logger.Info(ctx, fmt.Sprintf("mix job recorded in outbox %s", d.outbox.Path()))
			}
		}
		return fmt.Errorf("failed to dispatch mix job: %w", err)
	}

	d.metrics.DispatchResults.WithLabelValues(metrics.DispatchPublished).Inc()
	return nil
}

// ReplayOutbox republishes jobs left by earlier failed dispatches.
func (d *Dispatcher) ReplayOutbox(ctx context.Context) (int, error) {
	if d.outbox == nil {
		return 0, nil
	}
	replayed, err := d.outbox.Replay(ctx, func(ctx context.Context, job MixJob) error {
		if err := d.publish(ctx, job); err != nil {
			return err
		}
		d.seen.Add(job.CallSid, struct{}{})
		d.metrics.DispatchResults.WithLabelValues(metrics.DispatchReplayed).Inc()
		return nil
	})
	if replayed > 0 {
		d.logger.Info(ctx, fmt.Sprintf("replayed %d mix jobs from outbox", replayed))
	}
	if left, perr := d.outbox.Pending(); perr == nil && len(left) > 0 {
		d.logger.Warn(ctx, fmt.Sprintf("%d mix jobs remain in outbox %s", len(left), d.outbox.Path()))
	}
	return replayed, err
}

func (d *Dispatcher) publish(ctx context.Context, job MixJob) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.publisher.Publish(ctx, job) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("hand-off timed out after %s: %w", d.timeout, ctx.Err())
	}
}
