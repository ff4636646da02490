package notify

import (
	"context"
	"fmt"

	"ipwatch/internal/types"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes change events to a Kafka topic keyed by the new address
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates new Kafka publisher. Brokers are dialed lazily.
func NewKafkaPublisher(cfg *KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// Type implements Publisher
func (p *KafkaPublisher) Type() NotifierType { return NotifierKafka }

// Publish implements Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, change *types.IPChange) error {
	ev, data, err := encodeChange(change)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.NewIP),
		Value: data,
		Time:  change.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write error: %w", err)
	}
	return nil
}

// Close implements Publisher
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
