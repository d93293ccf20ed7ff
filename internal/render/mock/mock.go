// Package mock provides recording implementations of render.Sink and
// render.Confirmer for session tests.
//
// Sink keeps every update it receives so tests can assert the exact order of
// status texts and lines. Confirmer answers from a script and records the
// prompts it was shown.
package mock

import (
	"sync"

	"github.com/MrWong99/livetranslate/internal/render"
	"github.com/MrWong99/livetranslate/pkg/types"
)

// Status is one recorded StatusChanged call.
type Status struct {
	Text    string
	Healthy bool
}

// Sink is a recording render.Sink. It is safe for concurrent use.
type Sink struct {
	mu       sync.Mutex
	lines    []types.TranslationLine
	statuses []Status
	controls []render.Controls
}

var _ render.Sink = (*Sink)(nil)

// LineAdded records l.
func (s *Sink) LineAdded(l types.TranslationLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, l)
}

// StatusChanged records the status.
func (s *Sink) StatusChanged(text string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, Status{Text: text, Healthy: healthy})
}

// ControlsChanged records c.
func (s *Sink) ControlsChanged(c render.Controls) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, c)
}

// Lines returns every line received, in call order.
func (s *Sink) Lines() []types.TranslationLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TranslationLine(nil), s.lines...)
}

// Statuses returns every status received, in call order.
func (s *Sink) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses...)
}

// LastStatus returns the most recent status, or the zero Status.
func (s *Sink) LastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return Status{}
	}
	return s.statuses[len(s.statuses)-1]
}

// LastControls returns the most recent controls, or the zero value.
func (s *Sink) LastControls() render.Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.controls) == 0 {
		return render.Controls{}
	}
	return s.controls[len(s.controls)-1]
}

// Confirmer is a scripted render.Confirmer. Answers are consumed in order;
// once exhausted, Default is returned.
type Confirmer struct {
	Answers []bool
	Default bool

	mu      sync.Mutex
	prompts []string
}

var _ render.Confirmer = (*Confirmer)(nil)

// Confirm records prompt and returns the next scripted answer.
func (c *Confirmer) Confirm(prompt string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if len(c.Answers) == 0 {
		return c.Default
	}
	a := c.Answers[0]
	c.Answers = c.Answers[1:]
	return a
}

// Prompts returns every prompt shown, in order.
func (c *Confirmer) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}
