package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/livetranslate/internal/config"
	"github.com/MrWong99/livetranslate/internal/resilience"
	"github.com/MrWong99/livetranslate/pkg/types"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{"trace", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestChannelMode_IsValid(t *testing.T) {
	t.Parallel()
	for _, m := range []config.ChannelMode{config.ModeAuto, config.ModeLive, config.ModeSimulated} {
		if !m.IsValid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if config.ChannelMode("carrier-pigeon").IsValid() {
		t.Error("unknown mode should be invalid")
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Channel.Mode != config.ModeAuto {
		t.Errorf("Mode = %q, want auto", cfg.Channel.Mode)
	}
	if cfg.Channel.URL != config.DefaultChannelURL {
		t.Errorf("URL = %q, want %q", cfg.Channel.URL, config.DefaultChannelURL)
	}
	if cfg.Channel.DialTimeout != config.DefaultDialTimeout {
		t.Errorf("DialTimeout = %s, want %s", cfg.Channel.DialTimeout, config.DefaultDialTimeout)
	}
	if cfg.Reconnect.Delay != resilience.DefaultReconnectDelay {
		t.Errorf("Reconnect.Delay = %s, want %s", cfg.Reconnect.Delay, resilience.DefaultReconnectDelay)
	}
	if cfg.Reconnect.Multiplier != 1 {
		t.Errorf("Multiplier = %v, want 1", cfg.Reconnect.Multiplier)
	}
	if cfg.Simulation.Interval != 3*time.Second {
		t.Errorf("Simulation.Interval = %s, want 3s", cfg.Simulation.Interval)
	}
	if cfg.History.Capacity != config.DefaultHistoryCapacity {
		t.Errorf("History.Capacity = %d, want %d", cfg.History.Capacity, config.DefaultHistoryCapacity)
	}
	if got := cfg.Languages.Pair(); got != types.DefaultLanguagePair() {
		t.Errorf("Languages = %v, want %v", got, types.DefaultLanguagePair())
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestApplyDefaults_SimulatedModeKeepsEmptyURL(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Channel: config.ChannelConfig{Mode: config.ModeSimulated}}
	config.ApplyDefaults(cfg)
	if cfg.Channel.URL != "" {
		t.Errorf("URL = %q, want empty in simulated mode", cfg.Channel.URL)
	}
}

func TestApplyDefaults_PartialLanguages(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Languages: config.LanguagesConfig{Target: "de"}}
	config.ApplyDefaults(cfg)
	def := types.DefaultLanguagePair()
	if cfg.Languages.Source != def.Source || cfg.Languages.Target != "de" {
		t.Errorf("Languages = %+v, want source %q target de", cfg.Languages, def.Source)
	}
}

func TestReconnectConfig_Policy(t *testing.T) {
	t.Parallel()
	rc := config.ReconnectConfig{
		Delay:      time.Second,
		MaxDelay:   8 * time.Second,
		Multiplier: 2,
		MaxRetries: 4,
	}
	p := rc.Policy()
	want := resilience.ReconnectPolicy{Delay: time.Second, Multiplier: 2, MaxDelay: 8 * time.Second, MaxRetries: 4}
	if p != want {
		t.Errorf("Policy() = %+v, want %+v", p, want)
	}
}
