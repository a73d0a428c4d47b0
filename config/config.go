// Package config loads the runtime configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolink/bridge/apps"
	"github.com/toolink/bridge/logging"
)

// Config is the runtime configuration.
type Config struct {
	Log     LogConfig    `yaml:"log"`
	Workers WorkerConfig `yaml:"workers"`
	// StrictCompletion panics when a call is completed twice instead of
	// only logging it. Meant for debug builds.
	StrictCompletion bool        `yaml:"strict_completion"`
	Redis            RedisConfig `yaml:"redis"`
	// Apps are created in the configured backend, in memory or in Redis,
	// keyed by shell name. Apps that already exist are left as they are.
	Apps map[string]apps.Options `yaml:"apps"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// WorkerConfig sizes the background pool plugins run work on and the
// serial main queue results are delivered on.
type WorkerConfig struct {
	Concurrency   int `yaml:"concurrency"`
	QueueSize     int `yaml:"queue_size"`
	MainQueueSize int `yaml:"main_queue_size"`
}

// RedisConfig enables the Redis app backend and event broker when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	AppPrefix   string        `yaml:"app_prefix"`
	EventPrefix string        `yaml:"event_prefix"`
	AppTTL      time.Duration `yaml:"app_ttl"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Workers: WorkerConfig{
			Concurrency:   4,
			QueueSize:     128,
			MainQueueSize: 256,
		},
		Redis: RedisConfig{
			AppPrefix:   "bridge:apps",
			EventPrefix: "bridge:events",
			AppTTL:      30 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist. Any other failure is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Workers.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("workers.concurrency must be positive, got %d", c.Workers.Concurrency))
	}
	if c.Workers.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("workers.queue_size must not be negative, got %d", c.Workers.QueueSize))
	}
	if c.Workers.MainQueueSize < 0 {
		errs = append(errs, fmt.Errorf("workers.main_queue_size must not be negative, got %d", c.Workers.MainQueueSize))
	}
	if c.Redis.Enabled() && c.Redis.AppTTL <= 0 {
		errs = append(errs, fmt.Errorf("redis.app_ttl must be positive, got %s", c.Redis.AppTTL))
	}
	for name := range c.Apps {
		if name == "" {
			errs = append(errs, fmt.Errorf("apps: %w", apps.ErrEmptyName))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
