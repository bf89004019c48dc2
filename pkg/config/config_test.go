package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaflow/quotaflow/pkg/ratelimit"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.Performance.BatchSize = 0 }},
		{"zero workers", func(c *Config) { c.Performance.MaxWorkers = 0 }},
		{"zero stream threshold", func(c *Config) { c.Performance.StreamThreshold = 0 }},
		{"negative rate", func(c *Config) { c.RateLimit.Default.Rate = -1 }},
		{"zero burst", func(c *Config) { c.RateLimit.Default.Burst = 0 }},
		{"multiplier below one", func(c *Config) { c.RateLimit.Default.BackoffMultiplier = 0.5 }},
		{"zero cache size", func(c *Config) { c.Cache.MaxSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsBadServiceOverride(t *testing.T) {
	cfg := DefaultConfig()
	bad := ratelimit.DefaultConfig()
	bad.Burst = 0
	cfg.RateLimit.Services = map[string]ratelimit.Config{"svc": bad}

	assert.Error(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	content := `
name: test-engine
performance:
  batch_size: 25
  max_workers: 4
  stream_threshold: 200
rate_limit:
  default:
    rate: 5.0
    burst: 10
    initial_backoff: 500ms
    max_backoff: 10s
    backoff_multiplier: 2.0
    max_retries: 2
  services:
    assignments:
      rate: 2.0
      burst: 4
      initial_backoff: 1s
      max_backoff: 30s
      backoff_multiplier: 2.0
      max_retries: 3
cache:
  max_size: 500
  eviction_slack: 0.2
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "test-engine", cfg.Name)
	assert.Equal(t, 25, cfg.Performance.BatchSize)
	assert.Equal(t, 5.0, cfg.RateLimit.Default.Rate)
	assert.Equal(t, 4, cfg.RateLimit.Services["assignments"].Burst)
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("QF_TEST_NAME", "from-env")
	t.Setenv("QF_TEST_BATCH", "64")

	content := "name: ${QF_TEST_NAME}\nperformance:\n  batch_size: $QF_TEST_BATCH\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 64, cfg.Performance.BatchSize)
}

func TestLoadFilePartialOverride(t *testing.T) {
	content := "performance:\n  batch_size: 25\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, 25, cfg.Performance.BatchSize)
	assert.Equal(t, DefaultConfig().Performance.MaxWorkers, cfg.Performance.MaxWorkers,
		"sections absent from the file keep their defaults")
	assert.Equal(t, DefaultConfig().RateLimit.Default, cfg.RateLimit.Default)
}

func TestLoadMissingFile(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "round-trip"
	cfg.Performance.BatchSize = 42

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.SaveFile(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFile(path))
	assert.Equal(t, "round-trip", loaded.Name)
	assert.Equal(t, 42, loaded.Performance.BatchSize)
}
