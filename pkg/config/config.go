// Package config provides the unified configuration for the quotaflow
// engine. One Config structure covers batching, streaming, per-service
// request budgets, cache sizing, and observability, organized into logical
// sections with yaml and json tags so the same structure loads from files
// and serializes into logs.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/quotaflow/quotaflow/pkg/cache"
	"github.com/quotaflow/quotaflow/pkg/ratelimit"
)

// Config is the single configuration structure for the engine
type Config struct {
	// Name identifies the engine instance in logs and metrics
	Name string `yaml:"name" json:"name"`

	// Performance controls batch sizing and worker concurrency
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// RateLimit holds the default and per-service request budgets
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Cache bounds the shared lookup cache
	Cache cache.Config `yaml:"cache" json:"cache"`

	// Observability configures logging, metrics, and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PerformanceConfig contains batch and stream processing settings
type PerformanceConfig struct {
	// BatchSize is the number of items a single worker processes per batch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxWorkers bounds the number of concurrently in-flight remote calls
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
	// StreamThreshold is the item count above which chunked streaming
	// activates; it is also the chunk size
	StreamThreshold int `yaml:"stream_threshold" json:"stream_threshold"`
	// MaxMemoryHintMB is an advisory working-set bound; the optimizer
	// reports a finding when process memory exceeds it
	MaxMemoryHintMB int `yaml:"max_memory_hint_mb" json:"max_memory_hint_mb"`
}

// RateLimitConfig contains the default budget plus per-service overrides
type RateLimitConfig struct {
	Default  ratelimit.Config            `yaml:"default" json:"default"`
	Services map[string]ratelimit.Config `yaml:"services" json:"services"`
}

// ObservabilityConfig contains logging, metrics, and tracing settings
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	LogEncoding   string `yaml:"log_encoding" json:"log_encoding"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Name: "quotaflow",
		Performance: PerformanceConfig{
			BatchSize:       100,
			MaxWorkers:      runtime.NumCPU(),
			StreamThreshold: 1000,
			MaxMemoryHintMB: 256,
		},
		RateLimit: RateLimitConfig{
			Default: ratelimit.DefaultConfig(),
		},
		Cache: cache.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogEncoding:   "json",
			EnableMetrics: true,
		},
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Performance.BatchSize <= 0 {
		return fmt.Errorf("performance.batch_size must be positive, got %d", c.Performance.BatchSize)
	}
	if c.Performance.MaxWorkers <= 0 {
		return fmt.Errorf("performance.max_workers must be positive, got %d", c.Performance.MaxWorkers)
	}
	if c.Performance.StreamThreshold <= 0 {
		return fmt.Errorf("performance.stream_threshold must be positive, got %d", c.Performance.StreamThreshold)
	}
	if err := validateRateLimit("default", c.RateLimit.Default); err != nil {
		return err
	}
	for service, cfg := range c.RateLimit.Services {
		if err := validateRateLimit(service, cfg); err != nil {
			return err
		}
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	return nil
}

// LoadFile merges the YAML document at path into the config. Set fields
// override the values the config already holds; unset fields keep them.
// Values go through environment expansion first, so documents may reference
// $VAR or ${VAR}.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := os.Expand(string(data), os.Getenv)
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// SaveFile writes the config to path as YAML
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

func validateRateLimit(service string, cfg ratelimit.Config) error {
	if cfg.Rate < 0 {
		return fmt.Errorf("rate_limit.%s: rate must not be negative, got %f", service, cfg.Rate)
	}
	if cfg.Burst <= 0 {
		return fmt.Errorf("rate_limit.%s: burst must be positive, got %d", service, cfg.Burst)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("rate_limit.%s: max_retries must not be negative, got %d", service, cfg.MaxRetries)
	}
	if cfg.BackoffMultiplier < 1 {
		return fmt.Errorf("rate_limit.%s: backoff_multiplier must be at least 1, got %f", service, cfg.BackoffMultiplier)
	}
	return nil
}
