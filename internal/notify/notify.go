// Package notify delivers address change notifications to user-facing
// channels and change events to message brokers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ipwatch/internal/metrics"
	"ipwatch/internal/retry"
	"ipwatch/internal/types"

	"go.uber.org/zap"
)

// NotifierType represents the type of notifier
type NotifierType string

const (
	NotifierLog      NotifierType = "log"
	NotifierWebhook  NotifierType = "webhook"
	NotifierTelegram NotifierType = "telegram"
	NotifierSlack    NotifierType = "slack"
	NotifierDiscord  NotifierType = "discord"
	NotifierKafka    NotifierType = "kafka"
	NotifierRabbitMQ NotifierType = "rabbitmq"
	NotifierRedis    NotifierType = "redis"
)

// ErrQueueFull is returned when the delivery queue cannot accept more work
var ErrQueueFull = errors.New("notification queue full")

// Notifier delivers a user-visible message
type Notifier interface {
	Type() NotifierType
	Send(ctx context.Context, msg *types.Message) error
}

// Publisher delivers a change event to a broker
type Publisher interface {
	Type() NotifierType
	Publish(ctx context.Context, change *types.IPChange) error
	Close() error
}

type notification struct {
	notifierType NotifierType
	deliver      func(ctx context.Context) error
}

// Manager fans notifications out to the configured channels on a background worker
type Manager struct {
	config      Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	notifiers   map[NotifierType]Notifier
	publishers  map[NotifierType]Publisher
	mu          sync.RWMutex
	rateLimiter *RateLimiter
	notifyChan  chan notification
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithNotifier registers an additional notifier
func WithNotifier(n Notifier) Option {
	return func(mgr *Manager) { mgr.notifiers[n.Type()] = n }
}

// WithPublisher registers an additional publisher
func WithPublisher(p Publisher) Option {
	return func(mgr *Manager) { mgr.publishers[p.Type()] = p }
}

// NewManager creates new notifier manager. The log notifier is always present.
func NewManager(cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     cfg,
		logger:     logger,
		notifiers:  make(map[NotifierType]Notifier),
		publishers: make(map[NotifierType]Publisher),
		notifyChan: make(chan notification, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.RateLimit.Enabled {
		m.rateLimiter = NewRateLimiter(cfg.RateLimit.Interval, cfg.RateLimit.MaxEvents)
	}

	m.notifiers[NotifierLog] = NewLogNotifier(logger)

	if cfg.Enabled {
		m.initChannels()
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.processNotifications()

	return m
}

func (m *Manager) initChannels() {
	cfg := &m.config
	client := newHTTPClient(cfg.Timeout)

	if cfg.Webhook.Enabled {
		m.notifiers[NotifierWebhook] = NewWebhookNotifier(&cfg.Webhook, client, m.logger)
	}
	if cfg.Telegram.Enabled {
		if n, err := NewTelegramNotifier(&cfg.Telegram, client, m.logger); err == nil {
			m.notifiers[NotifierTelegram] = n
		} else {
			m.logger.Error("Failed to initialize telegram notifier", zap.Error(err))
		}
	}
	if cfg.Slack.Enabled {
		m.notifiers[NotifierSlack] = NewSlackNotifier(&cfg.Slack, client, m.logger)
	}
	if cfg.Discord.Enabled {
		m.notifiers[NotifierDiscord] = NewDiscordNotifier(&cfg.Discord, client, m.logger)
	}

	if cfg.Kafka.Enabled {
		m.publishers[NotifierKafka] = NewKafkaPublisher(&cfg.Kafka, m.logger)
	}
	if cfg.RabbitMQ.Enabled {
		m.publishers[NotifierRabbitMQ] = NewRabbitMQPublisher(&cfg.RabbitMQ, m.logger)
	}
	if cfg.Redis.Enabled {
		m.publishers[NotifierRedis] = NewRedisPublisher(&cfg.Redis, m.logger)
	}
}

// processNotifications handles notification sending in background
func (m *Manager) processNotifications() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.drain()
			return
		case n := <-m.notifyChan:
			m.deliver(n)
		}
	}
}

// drain delivers whatever was queued before Stop
func (m *Manager) drain() {
	for {
		select {
		case n := <-m.notifyChan:
			m.deliver(n)
		default:
			return
		}
	}
}

func (m *Manager) deliver(n notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in notifier",
				zap.String("type", string(n.notifierType)), zap.Any("panic", r))
		}
	}()

	if !m.rateLimiter.AllowNotification(n.notifierType) {
		m.logger.Warn("Rate limit exceeded for notifier",
			zap.String("type", string(n.notifierType)))
		m.metrics.RecordNotification(string(n.notifierType), errors.New("rate limited"))
		return
	}

	// Delivery outlives Stop so queued work is not cut short by the cancelled manager context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), m.config.Timeout*4)
	defer cancel()

	retryCfg := m.config.Retry
	err := retry.Execute(ctx, &retryCfg, m.logger, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
		return n.deliver(attemptCtx)
	})
	m.metrics.RecordNotification(string(n.notifierType), err)
	if err != nil {
		m.logger.Error("Failed to send notification",
			zap.String("type", string(n.notifierType)),
			zap.Error(err))
	}
}

func (m *Manager) enqueue(n notification) error {
	select {
	case <-m.ctx.Done():
		return fmt.Errorf("notification manager stopped")
	default:
	}

	select {
	case m.notifyChan <- n:
		return nil
	default:
		m.logger.Warn("Notification queue full, dropping",
			zap.String("type", string(n.notifierType)))
		return ErrQueueFull
	}
}

// Notify queues a user-visible message for every notifier
func (m *Manager) Notify(title, body string) {
	m.NotifyMessage(&types.Message{Title: title, Body: body, SentAt: time.Now()})
}

// NotifyMessage queues msg for every notifier
func (m *Manager) NotifyMessage(msg *types.Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range sortedTypes(m.notifiers) {
		notifier := m.notifiers[t]
		_ = m.enqueue(notification{
			notifierType: t,
			deliver: func(ctx context.Context) error {
				return notifier.Send(ctx, msg)
			},
		})
	}
}

// Publish queues change for every event sink
func (m *Manager) Publish(change types.IPChange) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range sortedTypes(m.publishers) {
		publisher := m.publishers[t]
		_ = m.enqueue(notification{
			notifierType: t,
			deliver: func(ctx context.Context) error {
				return publisher.Publish(ctx, &change)
			},
		})
	}
}

// Stop drains the queue, stops the worker and closes publishers
func (m *Manager) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		m.cancel()

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(30 * time.Second):
			err = fmt.Errorf("timeout waiting for notifications to complete")
		}

		m.mu.RLock()
		defer m.mu.RUnlock()
		for t, p := range m.publishers {
			if cerr := p.Close(); cerr != nil {
				m.logger.Warn("Failed to close publisher", zap.String("type", string(t)), zap.Error(cerr))
			}
		}
	})
	return err
}

// IsNotifierEnabled checks if a notifier or publisher is registered
func (m *Manager) IsNotifierEnabled(notifierType NotifierType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.notifiers[notifierType]
	if !ok {
		_, ok = m.publishers[notifierType]
	}
	return ok
}

// Channels returns the registered channel names
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, t := range sortedTypes(m.notifiers) {
		out = append(out, string(t))
	}
	for _, t := range sortedTypes(m.publishers) {
		out = append(out, string(t))
	}
	return out
}

func sortedTypes[V any](m map[NotifierType]V) []NotifierType {
	out := make([]NotifierType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
