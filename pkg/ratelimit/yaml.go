package ratelimit

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// configYAML mirrors Config with string durations so budgets can be written
// as "500ms" or "30s" in configuration files.
type configYAML struct {
	Rate              float64 `yaml:"rate"`
	Burst             int     `yaml:"burst"`
	InitialBackoff    string  `yaml:"initial_backoff"`
	MaxBackoff        string  `yaml:"max_backoff"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxRetries        int     `yaml:"max_retries"`
}

// UnmarshalYAML implements yaml.Unmarshaler. Decoding starts from the
// receiver's current values, so a document that sets only some fields
// overrides those and leaves the rest intact, matching how the other
// config sections merge over defaults.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := configYAML{
		Rate:              c.Rate,
		Burst:             c.Burst,
		InitialBackoff:    c.InitialBackoff.String(),
		MaxBackoff:        c.MaxBackoff.String(),
		BackoffMultiplier: c.BackoffMultiplier,
		MaxRetries:        c.MaxRetries,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	initial, err := parseDuration("initial_backoff", raw.InitialBackoff)
	if err != nil {
		return err
	}
	max, err := parseDuration("max_backoff", raw.MaxBackoff)
	if err != nil {
		return err
	}

	c.Rate = raw.Rate
	c.Burst = raw.Burst
	c.InitialBackoff = initial
	c.MaxBackoff = max
	c.BackoffMultiplier = raw.BackoffMultiplier
	c.MaxRetries = raw.MaxRetries
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (c Config) MarshalYAML() (interface{}, error) {
	return configYAML{
		Rate:              c.Rate,
		Burst:             c.Burst,
		InitialBackoff:    c.InitialBackoff.String(),
		MaxBackoff:        c.MaxBackoff.String(),
		BackoffMultiplier: c.BackoffMultiplier,
		MaxRetries:        c.MaxRetries,
	}, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}
