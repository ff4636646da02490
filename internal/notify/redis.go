package notify

import (
	"context"
	"fmt"

	"ipwatch/internal/types"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes change events on a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher creates new Redis publisher
func NewRedisPublisher(cfg *RedisConfig, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Username:    cfg.Username,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
			PoolSize:    2,
		}),
		channel: cfg.Channel,
		logger:  logger,
	}
}

// Type implements Publisher
func (p *RedisPublisher) Type() NotifierType { return NotifierRedis }

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, change *types.IPChange) error {
	_, data, err := encodeChange(change)
	if err != nil {
		return err
	}

	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("redis publish error: %w", err)
	}
	p.logger.Debug("Change event published to redis",
		zap.String("channel", p.channel), zap.Int64("receivers", receivers))
	return nil
}

// Close implements Publisher
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
