package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/livetranslate/internal/channel"
)

// ErrInvalid is wrapped around every validation failure returned by
// [Validate].
var ErrInvalid = errors.New("config: invalid configuration")

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Defaults are
// expected to have been applied. It returns [ErrInvalid] joined with every
// failure found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Channel
	if !cfg.Channel.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("channel.mode %q is invalid; valid values: auto, live, simulated", cfg.Channel.Mode))
	}
	if cfg.Channel.Mode == ModeLive {
		if c := channel.Probe(cfg.Channel.URL); !c.Available {
			errs = append(errs, fmt.Errorf("channel.mode is live but channel.url is unusable: %s", c.Reason))
		}
	}
	if cfg.Channel.Mode == ModeAuto && cfg.Channel.URL != "" {
		if c := channel.Probe(cfg.Channel.URL); !c.Available {
			slog.Warn("channel.url is unusable; sessions will run in simulated mode", "reason", c.Reason)
		}
	}
	if cfg.Channel.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("channel.write_timeout %s must not be negative", cfg.Channel.WriteTimeout))
	}
	if cfg.Channel.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("channel.dial_timeout %s must not be negative", cfg.Channel.DialTimeout))
	}

	// Reconnect
	rc := cfg.Reconnect
	if rc.Delay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.delay %s must not be negative", rc.Delay))
	}
	if rc.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_delay %s must not be negative", rc.MaxDelay))
	}
	if rc.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect.multiplier %.2f must be at least 1", rc.Multiplier))
	}
	if rc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries %d must not be negative", rc.MaxRetries))
	}
	if rc.FallbackAfter < 0 {
		errs = append(errs, fmt.Errorf("reconnect.fallback_after %d must not be negative", rc.FallbackAfter))
	}
	if rc.MaxDelay > 0 && rc.MaxDelay < rc.Delay {
		errs = append(errs, fmt.Errorf("reconnect.max_delay %s is shorter than reconnect.delay %s", rc.MaxDelay, rc.Delay))
	}
	if rc.FallbackAfter > 0 && rc.MaxRetries > 0 && rc.FallbackAfter > rc.MaxRetries {
		slog.Warn("reconnect.fallback_after exceeds reconnect.max_retries; retries run out first",
			"fallback_after", rc.FallbackAfter, "max_retries", rc.MaxRetries)
	}

	// Simulation
	if cfg.Simulation.Interval < 0 {
		errs = append(errs, fmt.Errorf("simulation.interval %s must not be negative", cfg.Simulation.Interval))
	}

	// History
	if cfg.History.Capacity < 1 {
		errs = append(errs, fmt.Errorf("history.capacity %d must be at least 1", cfg.History.Capacity))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
