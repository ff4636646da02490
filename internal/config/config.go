// Package config loads the ipwatch configuration from YAML and IPWATCH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ipwatch/internal/assets"
	"ipwatch/internal/logger"
	"ipwatch/internal/netevent"
	"ipwatch/internal/netwatch"
	"ipwatch/internal/notify"
	"ipwatch/internal/provider"
	"ipwatch/internal/refresh"
	"ipwatch/internal/retry"
	"ipwatch/internal/validator"

	"github.com/spf13/viper"
)

var (
	// AppName is the name of the application
	AppName = "ipwatch"

	// EnvPrefix prefixes environment overrides, e.g. IPWATCH_REFRESH_INTERVAL
	EnvPrefix = "IPWATCH"

	// Config search paths
	searchPaths = []string{
		".",
		"$HOME/.config/" + AppName,
		"$HOME/." + AppName,
		"/etc/" + AppName,
	}
)

// Config represents the ipwatch configuration
type Config struct {
	Refresh  refresh.Config  `mapstructure:"refresh"`
	NetEvent netevent.Config `mapstructure:"netevent"`
	Provider provider.Config `mapstructure:"provider"`
	Assets   assets.Config   `mapstructure:"assets"`
	NetWatch netwatch.Config `mapstructure:"netwatch"`
	API      APIConfig       `mapstructure:"api"`
	Notify   notify.Config   `mapstructure:"notify"`
	Log      logger.Config   `mapstructure:"log"`
}

// APIConfig represents the status API configuration
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// Load reads the configuration. An empty path searches the default
// locations; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present
func Default() *Config {
	var cfg Config
	cfg.Refresh = refresh.Config{
		Interval:     refresh.DefaultInterval,
		MinInterval:  refresh.DefaultMinInterval,
		FetchTimeout: refresh.DefaultFetchTimeout,
	}
	cfg.NetEvent = netevent.Config{
		DebounceDelay:    netevent.DefaultDebounceDelay,
		SuppressDuration: netevent.DefaultSuppressDuration,
	}
	cfg.Assets.Precision = assets.DefaultPrecision
	cfg.Provider.RateLimit = provider.DefaultRateLimit
	cfg.Provider.RateBurst = provider.DefaultRateBurst
	cfg.NetWatch = netwatch.Config{Enabled: true, PollInterval: netwatch.DefaultPollInterval}
	cfg.API.Listen = "127.0.0.1:8086"
	setDefaults(&cfg)
	return &cfg
}

// registerDefaults installs defaults that a file may override with zero.
// Registering them also makes the keys visible to AutomaticEnv.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("refresh.interval", refresh.DefaultInterval)
	v.SetDefault("refresh.min_interval", refresh.DefaultMinInterval)
	v.SetDefault("refresh.fetch_timeout", refresh.DefaultFetchTimeout)
	v.SetDefault("refresh.disabled", false)

	v.SetDefault("netevent.debounce_delay", netevent.DefaultDebounceDelay)
	v.SetDefault("netevent.suppress_duration", netevent.DefaultSuppressDuration)

	v.SetDefault("provider.address_url", "")
	v.SetDefault("provider.geo_url", provider.DefaultGeoURL)
	v.SetDefault("provider.asn_url", provider.DefaultASNURL)
	v.SetDefault("provider.source", provider.DefaultSource)
	v.SetDefault("provider.ip_version", 4)
	v.SetDefault("provider.rate_limit", provider.DefaultRateLimit)
	v.SetDefault("provider.rate_burst", provider.DefaultRateBurst)

	v.SetDefault("assets.dir", "")
	v.SetDefault("assets.flag_url", assets.DefaultFlagURL)
	v.SetDefault("assets.map_url", assets.DefaultMapURL)
	v.SetDefault("assets.map_timeout", assets.DefaultMapTimeout)
	v.SetDefault("assets.precision", assets.DefaultPrecision)

	v.SetDefault("netwatch.enabled", true)
	v.SetDefault("netwatch.poll_interval", netwatch.DefaultPollInterval)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:8086")

	v.SetDefault("notify.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
}

// setDefaults fills values that depend on the environment or on other fields
func setDefaults(cfg *Config) {
	if cfg.Assets.Dir == "" {
		cfg.Assets.Dir = defaultCacheDir()
	}
	cfg.Assets.SetDefaults()
	cfg.Provider.SetDefaults()

	if !cfg.Notify.Retry.Enable && cfg.Notify.Retry.InitialAttempts == 0 {
		cfg.Notify.Retry = *retry.DefaultRetryConfig()
	}
	cfg.Notify.SetDefaults()

	cfg.Log = *cfg.Log.SetDefaults()
	if cfg.Log.File != "" && cfg.Log.Directory == "" {
		cfg.Log.Directory = filepath.Join(defaultStateDir(), "logs")
	}

	if cfg.Refresh.FetchTimeout <= 0 {
		cfg.Refresh.FetchTimeout = refresh.DefaultFetchTimeout
	}
	if cfg.NetWatch.PollInterval <= 0 {
		cfg.NetWatch.PollInterval = netwatch.DefaultPollInterval
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the api is enabled")
	}
	if cfg.Refresh.MinInterval >= cfg.Refresh.Interval {
		return fmt.Errorf("refresh.min_interval (%s) must be shorter than refresh.interval (%s)",
			cfg.Refresh.MinInterval, cfg.Refresh.Interval)
	}
	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	if err := cfg.Notify.Validate(); err != nil {
		return err
	}
	return nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}
