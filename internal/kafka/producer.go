package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voice-bridge/internal/observability"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Producer handles producing messages to Kafka topics
type Producer struct {
	writer *kafka.Writer
	logger *observability.Logger
}

// ProducerConfig holds configuration for the Kafka producer
type ProducerConfig struct {
	Brokers []string
	Topic   string
	// Compression can be: none, gzip, snappy, lz4, zstd
	Compression string
	// BatchSize is the max number of messages to batch together
	BatchSize int
	// BatchTimeout is the max time to wait before sending a batch
	BatchTimeout time.Duration
	// RequiredAcks determines the durability guarantee
	// -1 = all replicas must acknowledge
	//  0 = no acknowledgment
	//  1 = only leader must acknowledge
	RequiredAcks int
}

// NewProducer creates a new Kafka producer
func NewProducer(config ProducerConfig, logger *observability.Logger) *Producer {
	compression := kafka.Compression(0) // no compression by default
	switch config.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "snappy":
		compression = kafka.Snappy
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	}

	batchSize := config.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	batchTimeout := config.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 10 * time.Millisecond
	}

	requiredAcks := config.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = -1 // All replicas by default for durability
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{}, // Use hash partitioner for message ordering by key
		Compression:  compression,
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequiredAcks(requiredAcks),
		// Async writes with error logging
		Async: false, // Synchronous for guaranteed delivery
	}

	return &Producer{
		writer: writer,
		logger: logger,
	}
}

// Message represents a Kafka message
type Message struct {
	Key       string            // Used for partitioning
	Value     interface{}       // Will be JSON encoded
	Headers   map[string]string // Message headers
	Timestamp time.Time         // Message timestamp
}

// ProduceMessage sends a message to the configured topic
func (p *Producer) ProduceMessage(ctx context.Context, msg Message) error {
	kafkaMsg, err := buildMessage(msg, time.Now())
	if err != nil {
		p.logger.Error(ctx, "failed to marshal message value", err)
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		p.logger.Error(ctx, fmt.Sprintf("failed to write message to topic %s", p.writer.Topic), err)
		return fmt.Errorf("failed to write message to topic %s: %w", p.writer.Topic, err)
	}

	p.logger.Debug(ctx, fmt.Sprintf("produced message to topic %s with key %s", p.writer.Topic, msg.Key))
	return nil
}

// buildMessage JSON-encodes the value and adds the standard headers.
func buildMessage(msg Message, now time.Time) (kafka.Message, error) {
	valueBytes, err := json.Marshal(msg.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal message value: %w", err)
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: "message_id", Value: []byte(uuid.New().String())},
		kafka.Header{Key: "produced_at", Value: []byte(now.Format(time.RFC3339))},
		kafka.Header{Key: "producer", Value: []byte("voice-bridge")},
	)

	kafkaMsg := kafka.Message{
		Key:     []byte(msg.Key),
		Value:   valueBytes,
		Headers: headers,
		Time:    now,
	}
	if !msg.Timestamp.IsZero() {
		kafkaMsg.Time = msg.Timestamp
	}
	return kafkaMsg, nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
