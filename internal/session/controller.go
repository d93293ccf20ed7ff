// Package session implements the translation session state machine.
//
// A [Controller] owns the live [channel.Connection], the [simulate.Source]
// fallback and the [history.Buffer]. It decides which source runs, reacts to
// user intents (start, stop, change language, end) and channel lifecycle
// events, and reports every appended line and every transition to a
// [render.Sink].
//
// All state is owned by a single event-loop goroutine. Public methods post a
// closure to the loop and wait for it; channel and simulator callbacks post
// without waiting. Each started source is tagged with a generation number so
// events from a source that has since been stopped are discarded on the
// loop. Sink and Confirmer implementations must not call back into the
// Controller synchronously.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livetranslate/internal/channel"
	"github.com/MrWong99/livetranslate/internal/clock"
	"github.com/MrWong99/livetranslate/internal/history"
	"github.com/MrWong99/livetranslate/internal/observe"
	"github.com/MrWong99/livetranslate/internal/render"
	"github.com/MrWong99/livetranslate/internal/resilience"
	"github.com/MrWong99/livetranslate/internal/simulate"
	"github.com/MrWong99/livetranslate/pkg/types"
)

// fallbackResetTimeout is how long the fallback breaker stays open before a
// new reconnect failure is judged on its own again.
const fallbackResetTimeout = time.Minute

// Line sources, used as metric attributes.
const (
	sourceLive      = "live"
	sourceSimulated = "simulated"
)

// Config configures a [Controller].
type Config struct {
	// Capability is the result of probing the live channel. When not
	// Available, sessions go straight to simulated mode.
	Capability channel.Capability

	// ChannelURL is the WebSocket endpoint of the translation service.
	ChannelURL string

	// Dialer opens channel transports. Defaults to a WebSocket dialer.
	Dialer channel.Dialer

	// WriteTimeout bounds each control message write.
	WriteTimeout time.Duration

	// DialTimeout bounds each connection attempt. An attempt that times out
	// counts as a failure like any other.
	DialTimeout time.Duration

	// Policy is the channel's reconnect policy.
	Policy resilience.ReconnectPolicy

	// FallbackAfter is the number of consecutive failed reconnect attempts
	// after a drop that switches the session to simulated mode. Zero keeps
	// retrying until the user intervenes.
	FallbackAfter int

	// SimulationInterval is the delay between simulated lines. Default: 3s.
	SimulationInterval time.Duration

	// Samples overrides the simulated line pool.
	Samples []simulate.Sample

	// HistoryCapacity bounds the line history. Default: 50.
	HistoryCapacity int

	// Languages is the initial language pair; empty sides use the defaults.
	Languages types.LanguagePair

	// Clock drives every timer. Defaults to the real clock.
	Clock clock.Clock

	// Metrics records session metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Sink receives presentation updates. Defaults to [render.Discard].
	Sink render.Sink

	// Confirmer answers end and leave prompts. When nil every prompt is
	// declined.
	Confirmer render.Confirmer
}

// Status is a point-in-time view of a session, served on /statusz.
type Status struct {
	SessionID      string `json:"session_id,omitempty"`
	State          string `json:"state"`
	Text           string `json:"status"`
	Healthy        bool   `json:"healthy"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Quality        string `json:"quality"`
	Channel        string `json:"channel"`
	ChannelReason  string `json:"channel_unavailable_reason,omitempty"`
	HistoryLines   int    `json:"history_lines"`
	LastSequence   uint64 `json:"last_sequence"`
}

// view is the copy of loop-owned state readable from any goroutine.
type view struct {
	state     State
	pair      types.LanguagePair
	quality   Quality
	text      string
	healthy   bool
	sessionID string
}

// Controller is the session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	capability channel.Capability
	interval   time.Duration
	metrics    *observe.Metrics
	sink       render.Sink
	confirm    render.Confirmer

	seq     *types.Sequencer
	hist    *history.Buffer
	conn    *channel.Connection
	sim     *simulate.Source
	breaker *resilience.CircuitBreaker // nil when FallbackAfter is zero

	// liveGen is the generation of the current channel run, read by the
	// channel listener when tagging events.
	liveGen atomic.Uint64

	// Mailbox.
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	viewMu sync.RWMutex
	view   view

	// Loop-owned.
	state        State
	pair         types.LanguagePair
	quality      Quality
	gen          uint64
	carryGen     uint64 // channel generation whose in-flight lines survive a fallback
	reconnecting bool   // Connecting after a drop rather than a first attempt
	shut         bool
	sessionID    string
	ctx          context.Context
	span         trace.Span
}

// New creates an idle Controller and starts its event loop. Call
// [Controller.Close] to release it.
func New(cfg Config) *Controller {
	sink := cfg.Sink
	if sink == nil {
		sink = render.Discard
	}
	confirm := cfg.Confirmer
	if confirm == nil {
		confirm = render.ConfirmFunc(func(string) bool { return false })
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	interval := cfg.SimulationInterval
	if interval <= 0 {
		interval = simulate.DefaultInterval
	}

	c := &Controller{
		capability: cfg.Capability,
		interval:   interval,
		metrics:    m,
		sink:       sink,
		confirm:    confirm,
		seq:        &types.Sequencer{},
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		state:      StateIdle,
		pair:       types.DefaultLanguagePair().Merge(cfg.Languages),
		quality:    QualityStandard,
		ctx:        context.Background(),
	}
	c.hist = history.New(cfg.HistoryCapacity, sink.LineAdded)
	c.conn = channel.New(channel.Config{
		URL:          cfg.ChannelURL,
		Dialer:       cfg.Dialer,
		Clock:        cfg.Clock,
		Policy:       cfg.Policy,
		Sequencer:    c.seq,
		WriteTimeout: cfg.WriteTimeout,
		DialTimeout:  cfg.DialTimeout,
		Metrics:      m,
	}, channelListener{c: c})
	c.sim = simulate.New(simulate.Config{
		Clock:     cfg.Clock,
		Samples:   cfg.Samples,
		Sequencer: c.seq,
	})
	if cfg.FallbackAfter > 0 {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "channel-fallback",
			MaxFailures:  cfg.FallbackAfter,
			ResetTimeout: fallbackResetTimeout,
			Clock:        cfg.Clock,
		})
	}

	c.publish()
	go c.loop()
	return c
}

// ─── Public intents ──────────────────────────────────────────────────────────

// StartSession starts a session from Idle: live when the channel is
// available, simulated otherwise. No-op in any other state.
func (c *Controller) StartSession() {
	c.do(func() {
		if c.state != StateIdle {
			return
		}
		c.beginSession()
		c.start()
	})
}

// StopSession stops the running source and returns to Idle. A stop control
// message is sent first when the channel is open. No-op unless Connecting,
// Live or Simulated.
func (c *Controller) StopSession() {
	c.do(c.stop)
}

// Toggle starts a session from Idle or stops a running one.
func (c *Controller) Toggle() {
	c.do(func() {
		switch c.state {
		case StateIdle:
			c.beginSession()
			c.start()
		case StateConnecting, StateLive, StateSimulated:
			c.stop()
		}
	})
}

// UseSimulation abandons reconnecting after a drop and switches to
// simulated mode. No-op unless a reconnect is in progress.
func (c *Controller) UseSimulation() {
	c.do(func() {
		if c.state != StateConnecting || !c.reconnecting {
			return
		}
		c.fallback("reconnect abandoned by user")
	})
}

// ChangeLanguage updates the language pair; empty sides keep their current
// value. A running session is visibly restarted with the new pair, a pending
// connection attempt is restarted, and an idle session only stores it.
func (c *Controller) ChangeLanguage(p types.LanguagePair) {
	c.do(func() {
		next := c.pair.Merge(p)
		if next == c.pair || c.state == StateEnded {
			return
		}
		observe.Logger(c.ctx).Info("language changed",
			"from", c.pair.String(), "to", next.String(), "state", c.state.String())

		switch c.state {
		case StateIdle:
			c.pair = next
			c.refreshView()
		case StateConnecting:
			c.stopSources()
			c.pair = next
			c.start()
		case StateLive, StateSimulated:
			c.stop()
			c.pair = next
			c.beginSession()
			c.start()
		}
	})
}

// SetQuality stores the quality preference. It reports whether the
// preference was applied, which happens only while Live or Simulated.
func (c *Controller) SetQuality(q Quality) bool {
	applied := false
	c.do(func() {
		if !c.state.Active() {
			return
		}
		c.quality = q
		c.refreshView()
		observe.Logger(c.ctx).Info("translation quality changed", "quality", string(q))
		applied = true
	})
	return applied
}

// EndSession asks for confirmation and, when given, stops everything and
// moves to the terminal Ended state. It reports whether the session ended.
// Only Idle, Live and Simulated sessions can be ended.
func (c *Controller) EndSession() bool {
	eligible := false
	c.do(func() { eligible = canEnd(c.state) })
	if !eligible {
		return false
	}
	if !c.confirm.Confirm(EndPrompt) {
		slog.Debug("end session declined")
		return false
	}

	ended := false
	c.do(func() {
		// The state may have moved while the prompt was open.
		if !canEnd(c.state) {
			return
		}
		c.stopSources()
		c.finishStart("ended")
		c.hist.Reset()
		c.transition(StateEnded)
		ended = true
	})
	return ended
}

// ConfirmLeave reports whether the user may leave. While lines are being
// delivered the Confirmer is asked; otherwise leaving is always allowed.
func (c *Controller) ConfirmLeave() bool {
	if !c.State().Active() {
		return true
	}
	return c.confirm.Confirm(LeavePrompt)
}

// Close stops every source and the event loop. Later intents are no-ops.
// Calling Close more than once is safe.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.do(func() {
			c.stopSources()
			c.finishStart("closed")
			if c.state.Active() {
				c.metrics.ActiveSessions.Add(c.ctx, -1)
			}
			c.shut = true
		})
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.signal()
		<-c.done
	})
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// State returns the current session state.
func (c *Controller) State() State {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view.state
}

// Pair returns the current language pair.
func (c *Controller) Pair() types.LanguagePair {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view.pair
}

// Quality returns the current quality preference.
func (c *Controller) Quality() Quality {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view.quality
}

// History returns the received lines, most recent first.
func (c *Controller) History() []types.TranslationLine {
	return c.hist.Snapshot()
}

// Snapshot returns a point-in-time status of the session.
func (c *Controller) Snapshot() Status {
	c.viewMu.RLock()
	v := c.view
	c.viewMu.RUnlock()

	return Status{
		SessionID:      v.sessionID,
		State:          v.state.String(),
		Text:           v.text,
		Healthy:        v.healthy,
		SourceLanguage: v.pair.Source,
		TargetLanguage: v.pair.Target,
		Quality:        string(v.quality),
		Channel:        c.conn.State().String(),
		ChannelReason:  c.capability.Reason,
		HistoryLines:   c.hist.Len(),
		LastSequence:   c.seq.Last(),
	}
}

// ─── Event loop ──────────────────────────────────────────────────────────────

func (c *Controller) loop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		closed := c.closed
		c.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-c.wake
	}
}

// post enqueues fn without waiting. It reports false once the loop has shut
// down.
func (c *Controller) post(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	c.signal()
	return true
}

// do runs fn on the loop and waits for it to finish.
func (c *Controller) do(fn func()) {
	done := make(chan struct{})
	ok := c.post(func() {
		defer close(done)
		if !c.shut {
			fn()
		}
	})
	if ok {
		<-done
	}
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ─── Loop-owned transitions ──────────────────────────────────────────────────

// beginSession assigns a new session ID and opens the start span.
func (c *Controller) beginSession() {
	c.finishStart("superseded")
	c.sessionID = uuid.NewString()
	ctx := observe.WithSessionID(context.Background(), c.sessionID)
	c.ctx, c.span = observe.StartSpan(ctx, "session.start",
		trace.WithAttributes(
			attribute.String("session.id", c.sessionID),
			attribute.String("session.source_language", c.pair.Source),
			attribute.String("session.target_language", c.pair.Target),
			attribute.Bool("channel.available", c.capability.Available),
		),
	)
	observe.Logger(c.ctx).Info("session starting", "languages", c.pair.String())
}

// finishStart ends the start span, if still open, with outcome.
func (c *Controller) finishStart(outcome string) {
	if c.span == nil {
		return
	}
	c.span.SetAttributes(attribute.String("session.outcome", outcome))
	c.span.End()
	c.span = nil
}

// start launches the source appropriate for the channel capability.
func (c *Controller) start() {
	c.gen++
	c.carryGen = 0
	c.reconnecting = false
	if c.breaker != nil {
		c.breaker.Reset()
	}

	if !c.capability.Available {
		observe.Logger(c.ctx).Info("live channel unavailable, using simulation",
			"reason", c.capability.Reason)
		c.startSimulation()
		return
	}
	c.transition(StateConnecting)
	c.liveGen.Store(c.gen)
	c.conn.Open(c.pair)
}

// stop stops the running source and returns to Idle.
func (c *Controller) stop() {
	switch c.state {
	case StateConnecting, StateLive, StateSimulated:
	default:
		return
	}
	c.stopSources()
	c.finishStart("stopped")
	c.transition(StateIdle)
}

// stopSources halts both sources and invalidates their pending events.
func (c *Controller) stopSources() {
	// Only delivered while the channel is open; Close flushes it.
	c.conn.Send(channel.StopMessage())
	c.conn.Close()
	c.sim.Stop()
	c.gen++
	c.carryGen = 0
	c.reconnecting = false
}

// fallback closes the channel and switches to simulated mode. Lines the
// channel delivered before closing are still accepted.
func (c *Controller) fallback(reason string) {
	observe.Logger(c.ctx).Warn("falling back to simulated translation", "reason", reason)
	c.conn.Close()
	prev := c.gen
	c.gen++
	c.carryGen = prev
	c.reconnecting = false
	c.startSimulation()
}

// startSimulation enters Simulated and starts the simulator for the current
// generation.
func (c *Controller) startSimulation() {
	c.transition(StateSimulated)
	gen := c.gen
	c.sim.Start(c.interval, c.pair, func(line types.TranslationLine) {
		c.post(func() { c.acceptLine(gen, line, sourceSimulated) })
	})
}

// transition moves to state to and publishes the result.
func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	if from != to {
		c.metrics.RecordTransition(c.ctx, from.String(), to.String())
		switch {
		case !from.Active() && to.Active():
			c.metrics.ActiveSessions.Add(c.ctx, 1)
		case from.Active() && !to.Active():
			c.metrics.ActiveSessions.Add(c.ctx, -1)
		}
		observe.Logger(c.ctx).Info("session state changed",
			"from", from.String(), "to", to.String())
	}
	if to.Active() {
		c.finishStart(to.String())
	}
	c.publish()
}

// publish refreshes the view and reports status and controls to the sink.
func (c *Controller) publish() {
	text, healthy := c.refreshView()
	c.sink.StatusChanged(text, healthy)
	c.sink.ControlsChanged(ControlsFor(c.state))
}

func (c *Controller) refreshView() (string, bool) {
	text, healthy := StatusText(c.state, c.reconnecting)
	c.viewMu.Lock()
	c.view = view{
		state:     c.state,
		pair:      c.pair,
		quality:   c.quality,
		text:      text,
		healthy:   healthy,
		sessionID: c.sessionID,
	}
	c.viewMu.Unlock()
	return text, healthy
}

// acceptLine appends line to the history unless its source is stale.
func (c *Controller) acceptLine(gen uint64, line types.TranslationLine, source string) {
	if gen != c.gen && (c.carryGen == 0 || gen != c.carryGen) {
		c.metrics.RecordLineDropped(c.ctx, "stale")
		return
	}
	if evicted := c.hist.Append(line); len(evicted) > 0 {
		slog.Debug("history full, evicted oldest line", "sequence", evicted[0].Sequence)
	}
	c.metrics.RecordLineReceived(c.ctx, source)
}

func (c *Controller) onChannelState(gen uint64, s channel.State) {
	if gen != c.gen {
		return
	}
	switch s {
	case channel.StateOpen:
		if c.state != StateConnecting {
			return
		}
		if c.breaker != nil {
			c.breaker.Record(nil)
		}
		c.reconnecting = false
		c.transition(StateLive)
	case channel.StateReconnecting:
		if c.state != StateLive {
			return
		}
		c.reconnecting = true
		c.transition(StateConnecting)
	case channel.StateClosed:
		// The channel stopped retrying on its own.
		if c.state == StateConnecting || c.state == StateLive {
			c.fallback("channel gave up reconnecting")
		}
	}
}

func (c *Controller) onChannelFailure(gen uint64, err error) {
	if gen != c.gen || c.state != StateConnecting {
		return
	}
	log := observe.Logger(c.ctx)
	if !c.reconnecting {
		log.Warn("live channel failed to open", "err", err)
		c.fallback("initial connection failed")
		return
	}
	if errors.Is(err, channel.ErrConnectionLost) || c.breaker == nil {
		log.Info("live channel reconnecting", "err", err)
		return
	}
	if c.breaker.Record(err) == resilience.StateOpen {
		log.Warn("reconnect failures exceeded fallback threshold",
			"failures", c.breaker.Failures(), "err", err)
		c.fallback("reconnect failures exceeded threshold")
	}
}

func canEnd(s State) bool {
	return s == StateIdle || s == StateLive || s == StateSimulated
}

// channelListener forwards channel events to the loop, tagged with the
// generation of the run that produced them.
type channelListener struct {
	c *Controller
}

func (l channelListener) LineReceived(line types.TranslationLine) {
	gen := l.c.liveGen.Load()
	l.c.post(func() { l.c.acceptLine(gen, line, sourceLive) })
}

func (l channelListener) StatusChanged(s channel.State) {
	gen := l.c.liveGen.Load()
	l.c.post(func() { l.c.onChannelState(gen, s) })
}

func (l channelListener) Failed(err error) {
	gen := l.c.liveGen.Load()
	l.c.post(func() { l.c.onChannelFailure(gen, err) })
}
