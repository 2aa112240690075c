package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaSender publishes forwarded records to Kafka topics. The destination
// target is the topic name; messages are keyed by source channel so one
// channel's records stay ordered within a partition.
type KafkaSender struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

func NewKafkaSender(brokers []string, batchTimeout time.Duration, logger *logrus.Logger) *KafkaSender {
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: batchTimeout,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

func (s *KafkaSender) Kind() string {
	return "kafka"
}

// Deliver publishes the payload as JSON to the topic named by target.
func (s *KafkaSender) Deliver(ctx context.Context, payload Payload, target string) error {
	if target == "" {
		return Permanent(fmt.Errorf("empty topic name"))
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal record: %w", err))
	}

	msg := kafka.Message{
		Topic: target,
		Key:   []byte(payload.ChannelID),
		Value: value,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return Permanent(fmt.Errorf("topic %q does not exist: %w", target, err))
		}
		return fmt.Errorf("failed to publish to %q: %w", target, err)
	}
	return nil
}

// Verify is a no-op; broker reachability surfaces on first publish.
func (s *KafkaSender) Verify(ctx context.Context) error {
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
