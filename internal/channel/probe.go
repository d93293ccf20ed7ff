package channel

import (
	"net/url"
	"strings"
)

// Capability is the result of probing whether a live channel can be used at
// all in the current environment.
type Capability struct {
	// Available is true when a live connection may be attempted.
	Available bool

	// Reason explains why the channel is unavailable. Empty when Available.
	Reason string
}

// Probe inspects the configured endpoint without touching the network.
// A session started with an unavailable capability goes straight to
// simulated mode instead of attempting a connection that cannot succeed.
func Probe(endpoint string) Capability {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Capability{Reason: "no channel URL configured"}
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return Capability{Reason: "invalid channel URL: " + err.Error()}
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return Capability{Reason: "unsupported channel scheme " + `"` + u.Scheme + `"`}
	}
	if u.Host == "" {
		return Capability{Reason: "channel URL has no host"}
	}
	return Capability{Available: true}
}

// Unavailable returns a capability that forces simulated mode.
func Unavailable(reason string) Capability {
	return Capability{Reason: reason}
}
