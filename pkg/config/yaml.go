package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DecodeStrict decodes YAML from a reader and rejects any unknown fields.
// This ensures the YAML only contains recognized configuration keys.
func DecodeStrict(r io.Reader, out interface{}) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadFromFile reads a YAML config file over the defaults, strictly.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	if err := DecodeStrict(f, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Durations are written as Go
// duration strings ("30s", "15m"); fields absent from the document keep
// whatever value the target already holds, so a file can be layered over
// DefaultConfig.
func (d *DialerConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawDialer struct {
		MaxParallelDials *int    `yaml:"max_parallel_dials"`
		MaxColdCalls     *int    `yaml:"max_cold_calls"`
		CleanupInterval  *string `yaml:"cleanup_interval"`
		DialTimeout      *string `yaml:"dial_timeout"`
		MaxDialAttempts  *int    `yaml:"max_dial_attempts"`
		BlacklistBackoff *string `yaml:"blacklist_backoff"`
	}

	var raw rawDialer
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.MaxParallelDials != nil {
		d.MaxParallelDials = *raw.MaxParallelDials
	}
	if raw.MaxColdCalls != nil {
		d.MaxColdCalls = *raw.MaxColdCalls
	}
	if raw.MaxDialAttempts != nil {
		d.MaxDialAttempts = *raw.MaxDialAttempts
	}
	if err := setDuration("dialer.cleanup_interval", raw.CleanupInterval, &d.CleanupInterval); err != nil {
		return err
	}
	if err := setDuration("dialer.dial_timeout", raw.DialTimeout, &d.DialTimeout); err != nil {
		return err
	}
	if err := setDuration("dialer.blacklist_backoff", raw.BlacklistBackoff, &d.BlacklistBackoff); err != nil {
		return err
	}
	return nil
}

func setDuration(path string, s *string, dst *time.Duration) error {
	if s == nil {
		return nil
	}
	v, err := time.ParseDuration(*s)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*dst = v
	return nil
}
