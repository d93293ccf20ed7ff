// Package config provides the configuration schema, loader, and file watcher
// for the livetranslate client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/livetranslate/internal/resilience"
	"github.com/MrWong99/livetranslate/internal/simulate"
	"github.com/MrWong99/livetranslate/pkg/types"
)

// Defaults applied by [Default].
const (
	DefaultListenAddr      = ":9090"
	DefaultChannelURL      = "ws://localhost:5000/ws/translation"
	DefaultWriteTimeout    = 5 * time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultHistoryCapacity = 50
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ChannelMode selects how sessions obtain translation lines.
type ChannelMode string

const (
	// ModeAuto uses the live channel when a usable URL is configured and
	// falls back to simulation otherwise.
	ModeAuto ChannelMode = "auto"

	// ModeLive requires a usable channel URL.
	ModeLive ChannelMode = "live"

	// ModeSimulated never touches the network.
	ModeSimulated ChannelMode = "simulated"
)

// IsValid reports whether m is a recognised channel mode.
func (m ChannelMode) IsValid() bool {
	switch m {
	case ModeAuto, ModeLive, ModeSimulated:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Channel    ChannelConfig    `yaml:"channel"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Simulation SimulationConfig `yaml:"simulation"`
	History    HistoryConfig    `yaml:"history"`
	Languages  LanguagesConfig  `yaml:"languages"`
}

// ServerConfig holds the status server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health/metrics server. Empty
	// disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ChannelConfig describes the live translation channel.
type ChannelConfig struct {
	// URL is the ws:// or wss:// endpoint of the translation service.
	URL string `yaml:"url"`

	// Mode is one of auto, live or simulated. Default: auto.
	Mode ChannelMode `yaml:"mode"`

	// WriteTimeout bounds a single control message write. Default: 5s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// DialTimeout bounds a single connection attempt, handshake included.
	// Default: 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Headers are sent with the WebSocket handshake.
	Headers map[string]string `yaml:"headers"`
}

// ReconnectConfig tunes reconnection after the channel drops.
type ReconnectConfig struct {
	// Delay before each reconnect attempt. Default: 5s.
	Delay time.Duration `yaml:"delay"`

	// MaxDelay caps the delay when Multiplier > 1. Zero means no cap.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier > 1 enables exponential backoff. Default: 1 (constant).
	Multiplier float64 `yaml:"multiplier"`

	// MaxRetries bounds reconnect attempts. Zero retries forever.
	MaxRetries int `yaml:"max_retries"`

	// FallbackAfter switches to simulation after this many consecutive
	// failed reconnects. Zero never falls back automatically.
	FallbackAfter int `yaml:"fallback_after"`
}

// Policy converts c to a [resilience.ReconnectPolicy].
func (c ReconnectConfig) Policy() resilience.ReconnectPolicy {
	return resilience.ReconnectPolicy{
		Delay:      c.Delay,
		Multiplier: c.Multiplier,
		MaxDelay:   c.MaxDelay,
		MaxRetries: c.MaxRetries,
	}
}

// SimulationConfig tunes the simulated source.
type SimulationConfig struct {
	// Interval between simulated lines. Default: 3s.
	Interval time.Duration `yaml:"interval"`
}

// HistoryConfig bounds the line history.
type HistoryConfig struct {
	// Capacity is the maximum number of lines kept. Default: 50.
	Capacity int `yaml:"capacity"`
}

// LanguagesConfig is the initial language pair.
type LanguagesConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// Pair returns the configured languages as a [types.LanguagePair].
func (c LanguagesConfig) Pair() types.LanguagePair {
	return types.LanguagePair{Source: c.Source, Target: c.Target}
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Channel.URL == "" && cfg.Channel.Mode != ModeSimulated {
		cfg.Channel.URL = DefaultChannelURL
	}
	if cfg.Channel.Mode == "" {
		cfg.Channel.Mode = ModeAuto
	}
	if cfg.Channel.WriteTimeout == 0 {
		cfg.Channel.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Channel.DialTimeout == 0 {
		cfg.Channel.DialTimeout = DefaultDialTimeout
	}
	if cfg.Reconnect.Delay == 0 {
		cfg.Reconnect.Delay = resilience.DefaultReconnectDelay
	}
	if cfg.Reconnect.Multiplier == 0 {
		cfg.Reconnect.Multiplier = 1
	}
	if cfg.Simulation.Interval == 0 {
		cfg.Simulation.Interval = simulate.DefaultInterval
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = DefaultHistoryCapacity
	}
	pair := types.DefaultLanguagePair().Merge(cfg.Languages.Pair())
	cfg.Languages = LanguagesConfig{Source: pair.Source, Target: pair.Target}
}
