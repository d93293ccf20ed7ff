package session

import (
	"fmt"
	"strings"

	"github.com/MrWong99/livetranslate/internal/render"
)

// State is the lifecycle state of a translation session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateSimulated
	StateEnded
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateSimulated:
		return "simulated"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Active reports whether lines are being delivered in s.
func (s State) Active() bool {
	return s == StateLive || s == StateSimulated
}

// Status texts shown to the user.
const (
	StatusIdle         = "Idle"
	StatusConnecting   = "Connecting…"
	StatusReconnecting = "Reconnecting…"
	StatusLive         = "Connected"
	StatusSimulated    = "Simulated (demo mode)"
	StatusEnded        = "Session ended"
)

// Confirmation prompts.
const (
	EndPrompt   = "Are you sure you want to end this translation session?"
	LeavePrompt = "Translation is in progress. Are you sure you want to leave?"
)

// Toggle button labels.
const (
	LabelStart = "Start Translation"
	LabelStop  = "Stop Translation"
)

// StatusText returns the indicator text for s and whether it is healthy.
// reconnecting distinguishes a reconnect after a drop from a first attempt.
func StatusText(s State, reconnecting bool) (string, bool) {
	switch s {
	case StateConnecting:
		if reconnecting {
			return StatusReconnecting, false
		}
		return StatusConnecting, false
	case StateLive:
		return StatusLive, true
	case StateSimulated:
		return StatusSimulated, true
	case StateEnded:
		return StatusEnded, false
	default:
		return StatusIdle, false
	}
}

// Controls is the set of available user controls.
type Controls = render.Controls

// ControlsFor derives the available controls from s.
func ControlsFor(s State) Controls {
	switch s {
	case StateIdle:
		return Controls{
			ToggleLabel:     LabelStart,
			ToggleEnabled:   true,
			EndEnabled:      true,
			LanguageEnabled: true,
		}
	case StateConnecting:
		return Controls{
			ToggleLabel:     LabelStop,
			ToggleEnabled:   true,
			LanguageEnabled: true,
		}
	case StateLive, StateSimulated:
		return Controls{
			ToggleLabel:     LabelStop,
			ToggleEnabled:   true,
			EndEnabled:      true,
			QualityEnabled:  true,
			LanguageEnabled: true,
			GuardUnload:     true,
		}
	default:
		return Controls{ToggleLabel: LabelStart}
	}
}

// Quality is the translation quality preference.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// ParseQuality parses a case-insensitive quality name.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityLow, QualityStandard, QualityHigh:
		return q, nil
	default:
		return "", fmt.Errorf("session: unknown quality %q (want low, standard or high)", s)
	}
}
