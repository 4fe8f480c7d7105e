// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package config loads and validates the warden daemon configuration.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// Config is the top-level warden configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Stages    StagesConfig    `mapstructure:"stages"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the admin API listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// BatchConfig sizes the ingestion batcher.
type BatchConfig struct {
	MaxSize    int           `mapstructure:"max_size"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	QueueDepth int           `mapstructure:"queue_depth"`
}

// SchedulerConfig sizes batch dispatch and stage health handling.
type SchedulerConfig struct {
	MaxInFlight      int64         `mapstructure:"max_in_flight"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	AutoResumeAfter  time.Duration `mapstructure:"auto_resume_after"`
}

// StagesConfig holds per-detector configuration.
type StagesConfig struct {
	Pattern    PatternConfig `mapstructure:"pattern"`
	Classifier RemoteStage   `mapstructure:"classifier"`
	Contextual RemoteStage   `mapstructure:"contextual"`
}

// PatternConfig sizes the CPU-bound pattern detector's worker pool.
type PatternConfig struct {
	Workers   int `mapstructure:"workers"`
	PoolDepth int `mapstructure:"pool_depth"`
}

// RemoteStage configures one API-backed detector stage.
type RemoteStage struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Concurrency int64         `mapstructure:"concurrency"`
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SynthesisConfig configures the rule-synthesis classifier.
type SynthesisConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// TelegramConfig configures the Telegram platform adapter.
type TelegramConfig struct {
	Token    string  `mapstructure:"token"`
	AdminIDs []int64 `mapstructure:"admin_ids"`
	Debug    bool    `mapstructure:"debug"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix WARDEN_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8841")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "warden.db")
	v.SetDefault("batch.max_size", 50)
	v.SetDefault("batch.max_delay", "500ms")
	v.SetDefault("batch.queue_depth", 1000)
	v.SetDefault("scheduler.max_in_flight", 4)
	v.SetDefault("scheduler.shutdown_grace", "10s")
	v.SetDefault("scheduler.failure_threshold", 5)
	v.SetDefault("scheduler.auto_resume_after", "1m")
	v.SetDefault("stages.pattern.workers", 4)
	v.SetDefault("stages.pattern.pool_depth", 256)
	v.SetDefault("stages.classifier.model", "omni-moderation-latest")
	v.SetDefault("stages.classifier.concurrency", 4)
	v.SetDefault("stages.classifier.timeout", "15s")
	v.SetDefault("stages.contextual.model", "claude-haiku-4-5")
	v.SetDefault("stages.contextual.concurrency", 2)
	v.SetDefault("stages.contextual.timeout", "30s")
	v.SetDefault("synthesis.model", "gpt-4.1-mini")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Environment
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, wardenerr.Errorf(wardenerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found, collecting every issue rather than stopping
// at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateBatch()...)
	errs = append(errs, c.validateScheduler()...)
	errs = append(errs, c.validateStages()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

func (c *Config) validateBatch() []error {
	var errs []error

	if c.Batch.MaxSize <= 0 {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: batch.max_size must be greater than 0, got %d", c.Batch.MaxSize))
	}
	if c.Batch.MaxDelay <= 0 {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: batch.max_delay must be greater than 0, got %s", c.Batch.MaxDelay))
	}
	if c.Batch.QueueDepth < c.Batch.MaxSize {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: batch.queue_depth must be at least batch.max_size (%d), got %d",
			c.Batch.MaxSize, c.Batch.QueueDepth,
		))
	}

	return errs
}

func (c *Config) validateScheduler() []error {
	var errs []error

	if c.Scheduler.MaxInFlight <= 0 {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: scheduler.max_in_flight must be greater than 0, got %d", c.Scheduler.MaxInFlight))
	}
	if c.Scheduler.FailureThreshold <= 0 {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: scheduler.failure_threshold must be greater than 0, got %d", c.Scheduler.FailureThreshold))
	}
	if c.Scheduler.ShutdownGrace <= 0 {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: scheduler.shutdown_grace must be greater than 0, got %s", c.Scheduler.ShutdownGrace))
	}

	return errs
}

func (c *Config) validateStages() []error {
	var errs []error

	if c.Stages.Pattern.Workers <= 0 {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: stages.pattern.workers must be greater than 0, got %d", c.Stages.Pattern.Workers))
	}

	for name, stage := range map[string]RemoteStage{
		"classifier": c.Stages.Classifier,
		"contextual": c.Stages.Contextual,
	} {
		if stage.Concurrency <= 0 {
			errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
				"config: stages.%s.concurrency must be greater than 0, got %d", name, stage.Concurrency))
		}
		if stage.Timeout <= 0 {
			errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
				"config: stages.%s.timeout must be greater than 0, got %s", name, stage.Timeout))
		}
		if stage.RPS < 0 {
			errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
				"config: stages.%s.rps must not be negative, got %g", name, stage.RPS))
		}
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: logging.level must be one of [debug, info, warn, error], got %q",
			c.Logging.Level,
		))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue,
			"config: logging.format must be one of [text, json], got %q",
			c.Logging.Format,
		))
	}

	return errs
}
