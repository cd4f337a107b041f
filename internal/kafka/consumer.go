package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-bridge/internal/observability"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
)

// MessageHandler is a function that processes a Kafka message
type MessageHandler func(ctx context.Context, message kafka.Message) error

// Consumer handles consuming messages from Kafka topics
type Consumer struct {
	reader      *kafka.Reader
	logger      *observability.Logger
	handler     MessageHandler
	dlqProducer *Producer
	maxRetries  uint64
	retryDelay  time.Duration
}

// ConsumerConfig holds configuration for the Kafka consumer
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MinBytes    int           // Minimum bytes to fetch per request (default 1)
	MaxBytes    int           // Maximum bytes to fetch per request (default 10MB)
	MaxWait     time.Duration // Max time to wait for MinBytes (default 10s)
	StartOffset int64         // kafka.FirstOffset or kafka.LastOffset
	// MaxRetries is how many times a failing message is retried in place before
	// it goes to the dead letter topic (default 5)
	MaxRetries uint64
	RetryDelay time.Duration // Initial backoff between retries (default 1s)
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(config ConsumerConfig, handler MessageHandler, dlqProducer *Producer, logger *observability.Logger) *Consumer {
	minBytes := config.MinBytes
	if minBytes == 0 {
		minBytes = 1
	}

	maxBytes := config.MaxBytes
	if maxBytes == 0 {
		maxBytes = 10e6 // 10MB
	}

	maxWait := config.MaxWait
	if maxWait == 0 {
		maxWait = 10 * time.Second
	}

	startOffset := config.StartOffset
	if startOffset == 0 {
		// Jobs published while no worker ran must still be processed
		startOffset = kafka.FirstOffset
	}

	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	retryDelay := config.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    minBytes,
		MaxBytes:    maxBytes,
		MaxWait:     maxWait,
		StartOffset: startOffset,
		// Offsets are committed explicitly after each message
		CommitInterval:    0,
		SessionTimeout:    30 * time.Second,
		RebalanceTimeout:  30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})

	return &Consumer{
		reader:      reader,
		logger:      logger,
		handler:     handler,
		dlqProducer: dlqProducer,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

// Start consumes messages until ctx is cancelled. Each message is handled to
// completion, one at a time, before its offset is committed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info(ctx, fmt.Sprintf("starting consumer for topic %s with group %s", c.reader.Config().Topic, c.reader.Config().GroupID))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info(ctx, "consumer stopped")
				return nil
			}
			c.logger.Error(ctx, "error fetching message", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.processWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				// Leave the offset uncommitted so the message is redelivered
				return nil
			}
			c.logger.Error(ctx, fmt.Sprintf("giving up on message from topic %s", msg.Topic), err)
			if c.dlqProducer != nil {
				if dlqErr := c.sendToDLQ(ctx, msg, err); dlqErr != nil {
					c.logger.Error(ctx, "failed to send message to DLQ", dlqErr)
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error(ctx, "failed to commit offset", err)
		}
	}
}

// processWithRetry runs the handler with exponential backoff. Errors marked
// with Permanent are not retried.
func (c *Consumer) processWithRetry(ctx context.Context, msg kafka.Message) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.processMessage(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// ErrPermanent marks handler errors that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the consumer skips retries.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// processMessage processes a single message
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "topic", Value: msg.Topic},
		observability.Field{Key: "partition", Value: msg.Partition},
		observability.Field{Key: "offset", Value: msg.Offset},
		observability.Field{Key: "key", Value: string(msg.Key)},
	)

	start := time.Now()
	err := c.handler(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error(ctx, fmt.Sprintf("handler failed after %v", duration), err)
		return err
	}

	c.logger.Info(ctx, fmt.Sprintf("message processed successfully in %v", duration))
	return nil
}

// sendToDLQ sends a failed message to the dead letter queue
func (c *Consumer) sendToDLQ(ctx context.Context, msg kafka.Message, processingErr error) error {
	dlqMessage := map[string]interface{}{
		"original_topic":     msg.Topic,
		"original_partition": msg.Partition,
		"original_offset":    msg.Offset,
		"original_key":       string(msg.Key),
		"original_value":     string(msg.Value),
		"original_headers":   headersToMap(msg.Headers),
		"original_timestamp": msg.Time,
		"error":              processingErr.Error(),
		"failed_at":          time.Now(),
	}

	return c.dlqProducer.ProduceMessage(ctx, Message{
		Key:   string(msg.Key),
		Value: dlqMessage,
		Headers: map[string]string{
			"original_topic": msg.Topic,
			"error":          processingErr.Error(),
		},
		Timestamp: time.Now(),
	})
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// headersToMap converts Kafka headers to a map
func headersToMap(headers []kafka.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for _, h := range headers {
		result[h.Key] = string(h.Value)
	}
	return result
}
