package jobs

import (
	"context"
	"fmt"

	"voice-bridge/internal/kafka"
	"voice-bridge/internal/observability"
)

// KafkaClient publishes MixJobs to a Kafka topic
type KafkaClient struct {
	producer *kafka.Producer
	topic    string
	logger   *observability.Logger
}

// NewKafkaClient creates a new Kafka-based job client
func NewKafkaClient(brokers []string, topic string, logger *observability.Logger) *KafkaClient {
	if topic == "" {
		topic = kafka.TopicMixJobs
	}
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      brokers,
		Topic:        topic,
		Compression:  "snappy",
		BatchSize:    1,
		RequiredAcks: -1, // All replicas must acknowledge for durability
	}, logger)

	return &KafkaClient{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Close closes the producer connection
func (c *KafkaClient) Close() error {
	return c.producer.Close()
}

// Publish writes a MixJob keyed by call sid so redeliveries of one call stay on one partition.
func (c *KafkaClient) Publish(ctx context.Context, job MixJob) error {
	err := c.producer.ProduceMessage(ctx, kafka.Message{
		Key:   job.CallSid,
		Value: job,
		Headers: map[string]string{
			"job_type":   TypeMixJob,
			"call_sid":   job.CallSid,
			"stream_sid": job.StreamSid,
		},
	})
	if err != nil {
		c.logger.Error(ctx, "failed to enqueue mix job", err)
		return fmt.Errorf("failed to enqueue mix job: %w", err)
	}

	c.logger.Info(ctx, fmt.Sprintf("enqueued mix job for call %s to topic %s", job.CallSid, c.topic))
	return nil
}
