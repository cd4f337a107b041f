package consumer

import (
	"context"
	"fmt"

	"voice-bridge/internal/jobs"
	"voice-bridge/internal/kafka"
	"voice-bridge/internal/observability"

	kafkago "github.com/segmentio/kafka-go"
)

// MixProcessor handles one decoded MixJob
type MixProcessor interface {
	Process(ctx context.Context, job jobs.MixJob) error
}

// JobConsumer feeds MixJobs from Kafka to a processor
type JobConsumer struct {
	processor MixProcessor
	logger    *observability.Logger
}

// New creates a new JobConsumer
func New(processor MixProcessor, logger *observability.Logger) *JobConsumer {
	return &JobConsumer{
		processor: processor,
		logger:    logger,
	}
}

// Handle is a kafka.MessageHandler. Undecodable messages are marked permanent
// so the consumer sends them to the dead letter topic without retrying.
func (c *JobConsumer) Handle(ctx context.Context, msg kafkago.Message) error {
	job, err := jobs.DecodeMixJob(msg.Value)
	if err != nil {
		c.logger.Error(ctx, "failed to decode mix job message", err)
		return kafka.Permanent(err)
	}

	if key := string(msg.Key); key != "" && key != job.CallSid {
		c.logger.Warn(ctx, fmt.Sprintf("message key %s does not match call sid %s", key, job.CallSid))
	}

	return c.processor.Process(ctx, job)
}
