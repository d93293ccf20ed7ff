package config

import "github.com/MrWong99/livetranslate/pkg/types"

// ConfigDiff describes what changed between two configs.
// Log level and languages are applied at runtime; anything listed in
// RestartRequired only takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguagesChanged bool
	NewLanguages     types.LanguagePair

	// RestartRequired names the changed settings that are not hot-reloaded.
	RestartRequired []string
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LanguagesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Languages != new.Languages {
		d.LanguagesChanged = true
		d.NewLanguages = new.Languages.Pair()
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !sameTLS(old.Server.TLS, new.Server.TLS))
	restart("channel.url", old.Channel.URL != new.Channel.URL)
	restart("channel.mode", old.Channel.Mode != new.Channel.Mode)
	restart("channel.write_timeout", old.Channel.WriteTimeout != new.Channel.WriteTimeout)
	restart("channel.dial_timeout", old.Channel.DialTimeout != new.Channel.DialTimeout)
	restart("channel.headers", !sameHeaders(old.Channel.Headers, new.Channel.Headers))
	restart("reconnect", old.Reconnect != new.Reconnect)
	restart("simulation.interval", old.Simulation.Interval != new.Simulation.Interval)
	restart("history.capacity", old.History.Capacity != new.History.Capacity)

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameHeaders(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
