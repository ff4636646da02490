package logger

import (
	"fmt"
	"path/filepath"
)

// Config represents logging configuration
type Config struct {
	Directory  string `mapstructure:"directory"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"` // debug, info, warn, error
	// Console disables the stdout core when false and a file is set
	Console bool `mapstructure:"console"`
}

// DefaultConfig returns console-only info logging
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Console:    true,
	}
}

// SetDefaults returns a copy with unset fields filled in
func (cfg *Config) SetDefaults() *Config {
	out := *cfg
	def := DefaultConfig()
	if out.Level == "" {
		out.Level = def.Level
	}
	if out.MaxSize <= 0 {
		out.MaxSize = def.MaxSize
	}
	if out.MaxBackups <= 0 {
		out.MaxBackups = def.MaxBackups
	}
	if out.MaxAge <= 0 {
		out.MaxAge = def.MaxAge
	}
	if out.File == "" {
		out.Console = true
	}
	return &out
}

// Path returns the log file path, or an empty string for console-only logging
func (cfg *Config) Path() string {
	if cfg.File == "" {
		return ""
	}
	if cfg.Directory == "" || filepath.IsAbs(cfg.File) {
		return cfg.File
	}
	return filepath.Join(cfg.Directory, cfg.File)
}

// Validate validates logging configuration
func (cfg *Config) Validate() error {
	if cfg.File != "" && cfg.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive")
	}
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}
	return nil
}
