// Package render defines the presentation boundary of a translation session.
//
// The session controller never draws anything itself. It reports appended
// lines, status changes and control availability to a [Sink], and asks a
// [Confirmer] before destructive actions. The console front end in
// internal/console implements both.
package render

import "github.com/MrWong99/livetranslate/pkg/types"

// Controls describes which user controls are currently available.
type Controls struct {
	// ToggleLabel is "Stop Translation" while a session is running,
	// "Start Translation" otherwise.
	ToggleLabel string

	// ToggleEnabled is false only once the session has ended.
	ToggleEnabled bool

	// EndEnabled reports whether "end session" may be requested.
	EndEnabled bool

	// QualityEnabled reports whether the quality selector is active.
	QualityEnabled bool

	// LanguageEnabled reports whether the language selectors are active.
	LanguageEnabled bool

	// GuardUnload reports whether leaving must be confirmed.
	GuardUnload bool
}

// Sink receives presentation updates. Calls are made from the controller's
// event loop, one at a time and in order; implementations must not call back
// into the controller synchronously.
type Sink interface {
	// LineAdded is called once per line appended to the history, in append
	// order. The newest line is displayed first.
	LineAdded(line types.TranslationLine)

	// StatusChanged reports the status text and whether it is healthy.
	StatusChanged(text string, healthy bool)

	// ControlsChanged reports the available controls.
	ControlsChanged(c Controls)
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts an ordinary function to [Confirmer].
type ConfirmFunc func(prompt string) bool

// Confirm calls f(prompt).
func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Discard is a [Sink] that drops every update.
var Discard Sink = discard{}

type discard struct{}

func (discard) LineAdded(types.TranslationLine) {}
func (discard) StatusChanged(string, bool)      {}
func (discard) ControlsChanged(Controls)        {}
