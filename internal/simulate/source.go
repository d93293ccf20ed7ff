// Package simulate generates placeholder translation lines when no live
// channel is reachable, so a session can be demonstrated or tested offline.
//
// [Source] emits one line per interval, drawn uniformly at random from a small
// fixed pool. It delivers lines through the same emit callback shape the live
// channel uses, which keeps the two interchangeable behind the controller.
package simulate

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/livetranslate/internal/clock"
	"github.com/MrWong99/livetranslate/pkg/types"
)

// DefaultInterval is the emission interval used when Start receives a
// non-positive interval.
const DefaultInterval = 3 * time.Second

// Sample is one entry of the simulation pool.
type Sample struct {
	Original   string
	Translated string
}

// DefaultSamples is the built-in pool of Marathi meeting phrases.
var DefaultSamples = []Sample{
	{Original: "नमस्कार, आजच्या सभेत आपले स्वागत आहे.", Translated: "Welcome to today's meeting."},
	{Original: "आज आपण महत्वाच्या विषयांवर चर्चा करणार आहोत.", Translated: "Today we will discuss important topics."},
	{Original: "कृपया आपले प्रश्न चॅट बॉक्समध्ये टाइप करा.", Translated: "Please type your questions in the chat box."},
}

// Config configures a [Source].
type Config struct {
	// Clock schedules emissions. Defaults to the real clock.
	Clock clock.Clock

	// Samples is the pool lines are drawn from. Defaults to [DefaultSamples].
	Samples []Sample

	// Sequencer assigns line sequence numbers. A private one is created when nil.
	Sequencer *types.Sequencer

	// Pick returns a uniformly random index in [0, n). Defaults to rand.IntN.
	Pick func(n int) int
}

// Source is a local generator of synthetic translation lines.
// All methods are safe for concurrent use.
type Source struct {
	clk     clock.Clock
	samples []Sample
	seq     *types.Sequencer
	pick    func(n int) int

	// emitMu is held for the duration of every emission so that Stop can
	// wait for an in-flight emission to finish.
	emitMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	running  bool
	timer    clock.Timer
	interval time.Duration
	pair     types.LanguagePair
	emit     func(types.TranslationLine)
}

// New creates an idle Source.
func New(cfg Config) *Source {
	samples := cfg.Samples
	if len(samples) == 0 {
		samples = DefaultSamples
	}
	seq := cfg.Sequencer
	if seq == nil {
		seq = &types.Sequencer{}
	}
	pick := cfg.Pick
	if pick == nil {
		pick = rand.IntN
	}
	return &Source{
		clk:     clock.OrReal(cfg.Clock),
		samples: samples,
		seq:     seq,
		pick:    pick,
	}
}

// Start begins emitting one line per interval to emit. Lines are stamped with
// pair. Calling Start while running restarts emission with the new arguments.
// emit must not call Stop synchronously.
func (s *Source) Start(interval time.Duration, pair types.LanguagePair, emit func(types.TranslationLine)) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	s.running = true
	s.interval = interval
	s.pair = pair
	s.emit = emit

	gen := s.gen
	s.timer = s.clk.AfterFunc(interval, func() { s.tick(gen) })
}

// Stop halts emission. It cancels the pending interval timer and waits for an
// emission already in progress, so no line is emitted after Stop returns.
// Calling Stop on a stopped Source is a no-op.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.emit = nil
	s.mu.Unlock()

	// Wait for an emission that passed the generation check before we bumped it.
	s.emitMu.Lock()
	s.emitMu.Unlock()
}

// Running reports whether the Source is currently emitting.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// tick emits one line and schedules the next one, unless the generation that
// scheduled it has been stopped or restarted.
func (s *Source) tick(gen uint64) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	sample := s.samples[s.pick(len(s.samples))]
	line := types.TranslationLine{
		Original:   sample.Original,
		Translated: sample.Translated,
		SourceLang: s.pair.Source,
		TargetLang: s.pair.Target,
		Timestamp:  s.clk.Now(),
		Sequence:   s.seq.Next(),
	}
	emit := s.emit
	s.timer = s.clk.AfterFunc(s.interval, func() { s.tick(gen) })
	s.mu.Unlock()

	emit(line)
}
