// Package types defines the shared types used across all livetranslate packages.
//
// These types form the lingua franca between the live channel, the local
// simulator, the history window and the session controller. Each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

import (
	"sync/atomic"
	"time"
)

// Default language codes used when no pair has been configured. They match
// the Marathi → English setup the client was first built for.
const (
	DefaultSourceLanguage = "mr"
	DefaultTargetLanguage = "en"
)

// TranslationLine is a single transcript line together with its translation.
// Lines are created once on arrival (from the live channel or the simulator)
// and are never mutated afterwards; pass them by value.
type TranslationLine struct {
	// Original is the transcribed text in the source language.
	Original string

	// Translated is the translated text in the target language.
	Translated string

	// SourceLang is the language code of Original (e.g., "mr").
	SourceLang string

	// TargetLang is the language code of Translated (e.g., "en").
	TargetLang string

	// Timestamp is when the line was produced upstream, or the emission time
	// for simulated lines.
	Timestamp time.Time

	// Sequence is a client-side monotonic counter assigned in arrival order.
	// It orders eviction from the history window and nothing else; gaps do
	// not imply lost lines.
	Sequence uint64
}

// LanguagePair is the source/target language selection of a session.
// Language codes are opaque short strings and are not validated client-side.
type LanguagePair struct {
	Source string
	Target string
}

// DefaultLanguagePair returns the pair used when nothing else is configured.
func DefaultLanguagePair() LanguagePair {
	return LanguagePair{Source: DefaultSourceLanguage, Target: DefaultTargetLanguage}
}

// IsZero reports whether either side of the pair is unset.
func (p LanguagePair) IsZero() bool {
	return p.Source == "" || p.Target == ""
}

// Merge returns p with every empty side of next replaced by the value in p.
// It keeps a pair well-defined when only one side changes.
func (p LanguagePair) Merge(next LanguagePair) LanguagePair {
	if next.Source == "" {
		next.Source = p.Source
	}
	if next.Target == "" {
		next.Target = p.Target
	}
	return next
}

// String renders the pair as "source→target".
func (p LanguagePair) String() string {
	return p.Source + "→" + p.Target
}

// Sequencer hands out monotonic sequence numbers. A single Sequencer is shared
// by every producer of a controller so numbers never collide across a
// channel-to-simulation fallback. The zero value is ready to use and it is
// safe for concurrent use.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Last returns the most recently issued number, or 0 if none was issued.
func (s *Sequencer) Last() uint64 {
	return s.n.Load()
}
