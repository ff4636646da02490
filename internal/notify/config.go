package notify

import (
	"fmt"
	"time"

	"ipwatch/internal/retry"
)

// Config represents notification configuration
type Config struct {
	Enabled   bool            `mapstructure:"enabled"`
	QueueSize int             `mapstructure:"queue_size"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     retry.Config    `mapstructure:"retry"`

	// User-facing channels
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Discord  DiscordConfig  `mapstructure:"discord"`

	// Event sinks receive every detected change, suppressed or not
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	MaxEvents int           `mapstructure:"max_events"`
}

// WebhookConfig represents the webhook notification configuration
type WebhookConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	URL        string            `mapstructure:"url"`
	Secret     string            `mapstructure:"secret"`
	Headers    map[string]string `mapstructure:"headers"`
	CommonData map[string]any    `mapstructure:"common_data"`
}

// TelegramConfig represents the telegram notification configuration
type TelegramConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
	Format   string   `mapstructure:"format"` // text, html, markdown
	// APIURL overrides https://api.telegram.org
	APIURL string `mapstructure:"api_url"`
}

// SlackConfig represents Slack notification configuration
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
	IconEmoji  string `mapstructure:"icon_emoji"`
}

// DiscordConfig represents Discord notification configuration
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
	AvatarURL  string `mapstructure:"avatar_url"`
}

// KafkaConfig represents the Kafka event sink configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// RabbitMQConfig represents the RabbitMQ event sink configuration
type RabbitMQConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	Exchange          string        `mapstructure:"exchange"`
	RoutingKey        string        `mapstructure:"routing_key"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// RedisConfig represents the Redis pub/sub event sink configuration
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Channel     string        `mapstructure:"channel"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// SetDefaults fills unset fields
func (cfg *Config) SetDefaults() {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit.Interval <= 0 {
		cfg.RateLimit.Interval = time.Minute
	}
	if cfg.RateLimit.MaxEvents <= 0 {
		cfg.RateLimit.MaxEvents = 10
	}
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = "https://api.telegram.org"
	}
	if cfg.Telegram.Format == "" {
		cfg.Telegram.Format = "text"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "ipwatch.ip_change"
	}
	if cfg.RabbitMQ.RoutingKey == "" {
		cfg.RabbitMQ.RoutingKey = "ipwatch.ip_change"
	}
	if cfg.RabbitMQ.HeartbeatInterval <= 0 {
		cfg.RabbitMQ.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "ipwatch:ip_change"
	}
	if cfg.Redis.DialTimeout <= 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
}

// Validate validates notification configuration
func (cfg *Config) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if err := cfg.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL == "" {
		return fmt.Errorf("invalid webhook config: url is required")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.BotToken == "" || len(cfg.Telegram.ChatIDs) == 0) {
		return fmt.Errorf("invalid telegram config: bot token and chat IDs are required")
	}
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL == "" {
		return fmt.Errorf("invalid slack config: webhook_url is required")
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL == "" {
		return fmt.Errorf("invalid discord config: webhook_url is required")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid kafka config: at least one broker is required")
	}
	if cfg.RabbitMQ.Enabled && cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("invalid rabbitmq config: url is required")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("invalid redis config: addr is required")
	}
	return nil
}
