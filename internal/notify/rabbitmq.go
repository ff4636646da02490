package notify

import (
	"context"
	"fmt"
	"sync"

	"ipwatch/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQPublisher publishes change events to an exchange
type RabbitMQPublisher struct {
	config *RabbitMQConfig
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitMQPublisher creates new RabbitMQ publisher. The connection is
// opened on first publish and reopened after it drops.
func NewRabbitMQPublisher(cfg *RabbitMQConfig, logger *zap.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		config: cfg,
		logger: logger,
	}
}

// Type implements Publisher
func (p *RabbitMQPublisher) Type() NotifierType { return NotifierRabbitMQ }

func (p *RabbitMQPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()

	conn, err := amqp.DialConfig(p.config.URL, amqp.Config{
		Heartbeat: p.config.HeartbeatInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connection error: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel error: %w", err)
	}

	if p.config.Exchange != "" {
		if err := ch.ExchangeDeclare(p.config.Exchange, "topic", true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq exchange declare error: %w", err)
		}
	}

	p.logger.Info("Connected to RabbitMQ", zap.String("exchange", p.config.Exchange))
	p.conn, p.ch = conn, ch
	return ch, nil
}

// Publish implements Publisher
func (p *RabbitMQPublisher) Publish(ctx context.Context, change *types.IPChange) error {
	ev, data, err := encodeChange(change)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.config.Exchange, p.config.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    change.Timestamp,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish error: %w", err)
	}
	return nil
}

// Close implements Publisher
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *RabbitMQPublisher) closeLocked() error {
	var err error
	if p.conn != nil && !p.conn.IsClosed() {
		err = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	return err
}
