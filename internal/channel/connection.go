// Package channel manages the live connection to the remote translation
// service.
//
// A [Connection] owns at most one connection attempt at a time. It sends the
// start control message as soon as the transport opens, forwards every
// well-formed inbound line to its [Listener] in arrival order, and on any
// transport failure moves to [StateReconnecting] and schedules exactly one
// reconnect attempt through an explicit, cancellable timer. [Connection.Close]
// is the only way to stop retrying.
//
// Listener callbacks run on internal goroutines. No callback of a run is
// delivered after the Close (or the next Open) that ended it has returned.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livetranslate/internal/clock"
	"github.com/MrWong99/livetranslate/internal/observe"
	"github.com/MrWong99/livetranslate/internal/resilience"
	"github.com/MrWong99/livetranslate/pkg/types"
)

// ErrConnectionLost wraps failures of a connection that had been open, as
// opposed to attempts that never opened.
var ErrConnectionLost = errors.New("channel: connection lost")

// ErrDialTimeout wraps attempts that did not open within the dial timeout.
var ErrDialTimeout = errors.New("channel: dial timed out")

// defaultWriteTimeout bounds a single outbound write.
const defaultWriteTimeout = 5 * time.Second

// DefaultDialTimeout bounds a connection attempt when Config.DialTimeout is
// not set.
const DefaultDialTimeout = 10 * time.Second

// outboundQueue is the number of control messages buffered per run.
const outboundQueue = 16

// State is the lifecycle state of a [Connection].
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateReconnecting
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Listener observes a [Connection]. Implementations must not call Open or
// Close synchronously from a callback.
type Listener interface {
	// LineReceived is called once per well-formed inbound line.
	LineReceived(line types.TranslationLine)

	// StatusChanged is called on every state transition.
	StatusChanged(state State)

	// Failed is called when an attempt fails or an open connection drops.
	// Drops wrap [ErrConnectionLost].
	Failed(err error)
}

// Config configures a [Connection].
type Config struct {
	// URL is the WebSocket endpoint of the translation service.
	URL string

	// Dialer opens transports. Defaults to a [WebSocketDialer].
	Dialer Dialer

	// Clock schedules reconnect attempts. Defaults to the real clock.
	Clock clock.Clock

	// Policy decides the delay before each reconnect attempt. The zero value
	// retries forever every 5s.
	Policy resilience.ReconnectPolicy

	// Sequencer assigns sequence numbers to received lines. A private one is
	// created when nil.
	Sequencer *types.Sequencer

	// WriteTimeout bounds each outbound write. Defaults to 5s.
	WriteTimeout time.Duration

	// DialTimeout bounds each connection attempt, handshake included. It is
	// measured on Clock. Defaults to [DefaultDialTimeout].
	DialTimeout time.Duration

	// Metrics records line and reconnect counters. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Connection is a reconnecting client for the live translation channel.
// All methods are safe for concurrent use.
type Connection struct {
	url          string
	dialer       Dialer
	clk          clock.Clock
	policy       resilience.ReconnectPolicy
	seq          *types.Sequencer
	writeTimeout time.Duration
	dialTimeout  time.Duration
	metrics      *observe.Metrics
	listener     Listener

	// emitMu is held while a listener callback runs, letting Close wait for
	// in-flight callbacks.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      State
	gen        uint64 // identifies the current attempt; bumped on every transition that ends one
	attempts   int    // consecutive failed attempts since the last successful open
	pair       types.LanguagePair
	timer      clock.Timer
	dialTimer  clock.Timer
	dialCancel context.CancelFunc
	run        *run
}

// run is one open transport with its writer queue.
type run struct {
	tr     Transport
	out    chan []byte
	quit   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

// onlyStart reports whether the start frame is the only queued message.
// Before the writer runs this means Send never queued anything on the run.
func (r *run) onlyStart() bool {
	return len(r.out) == 1
}

// closeGracefully lets the writer flush queued messages before closing.
func (r *run) closeGracefully() {
	r.once.Do(func() { close(r.quit) })
}

// abort closes the transport immediately.
func (r *run) abort() {
	r.once.Do(func() {
		r.cancel()
		_ = r.tr.Close()
	})
}

// New creates a closed Connection reporting to l.
func New(cfg Config, l Listener) *Connection {
	d := cfg.Dialer
	if d == nil {
		d = &WebSocketDialer{}
	}
	seq := cfg.Sequencer
	if seq == nil {
		seq = &types.Sequencer{}
	}
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	dt := cfg.DialTimeout
	if dt <= 0 {
		dt = DefaultDialTimeout
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Connection{
		url:          cfg.URL,
		dialer:       d,
		clk:          clock.OrReal(cfg.Clock),
		policy:       cfg.Policy,
		seq:          seq,
		writeTimeout: wt,
		dialTimeout:  dt,
		metrics:      m,
		listener:     l,
		state:        StateClosed,
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pair returns the language pair of the current or last run.
func (c *Connection) Pair() types.LanguagePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pair
}

// Open starts connecting for pair. Any existing attempt, open run or pending
// reconnect is cancelled first, so at most one attempt exists at a time.
func (c *Connection) Open(pair types.LanguagePair) {
	c.mu.Lock()
	prev := c.teardownLocked()
	c.pair = pair
	c.attempts = 0
	gen, ctx := c.beginAttemptLocked()
	c.mu.Unlock()

	if prev != nil {
		prev.closeGracefully()
	}
	slog.Info("channel opening", "url", c.url, "languages", pair.String())
	c.notify(gen, func(l Listener) { l.StatusChanged(StateOpening) })
	go c.dial(ctx, gen)
}

// Close cancels any pending reconnect, in-flight attempt or open run and
// moves to [StateClosed]. Messages already queued with Send are flushed
// before the transport closes. A run that had only its start frame queued
// when Close ended it, before the writer ran, sends nothing. Calling Close on
// a closed Connection is a no-op.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.teardownLocked()
	c.state = StateClosed
	c.mu.Unlock()

	if prev != nil {
		prev.closeGracefully()
	}
	slog.Info("channel closed", "url", c.url)

	// Barrier: wait for any callback that passed its generation check.
	c.emitMu.Lock()
	c.listener.StatusChanged(StateClosed)
	c.emitMu.Unlock()
}

// Send queues msg for delivery. It returns false, dropping the message, when
// the connection is not open or the outbound queue is full.
func (c *Connection) Send(msg ControlMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("channel: encode control message", "action", msg.Action, "err", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.run == nil {
		slog.Debug("channel: dropping control message, connection not open",
			"action", msg.Action, "state", c.state.String())
		return false
	}
	select {
	case c.run.out <- data:
		return true
	default:
		slog.Warn("channel: outbound queue full, dropping control message", "action", msg.Action)
		return false
	}
}

// teardownLocked invalidates the current generation and releases everything
// tied to it. The returned run, if any, must be closed by the caller outside
// the lock. Must be called with c.mu held.
func (c *Connection) teardownLocked() *run {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.endDialLocked()
	r := c.run
	c.run = nil
	return r
}

// beginAttemptLocked starts a new generation in [StateOpening] and arms its
// dial timeout. Must be called with c.mu held.
func (c *Connection) beginAttemptLocked() (uint64, context.Context) {
	c.gen++
	c.state = StateOpening
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	// The timeout fails the attempt itself, so a dialer that ignores its
	// context cannot keep the connection in Opening.
	c.dialTimer = c.clk.AfterFunc(c.dialTimeout, func() {
		c.end(gen, StateOpening, fmt.Errorf("channel: connect %s: %w after %s", c.url, ErrDialTimeout, c.dialTimeout))
	})
	return gen, ctx
}

// endDialLocked disarms the dial timeout and cancels the dial context of the
// current attempt. Must be called with c.mu held.
func (c *Connection) endDialLocked() {
	if c.dialTimer != nil {
		c.dialTimer.Stop()
		c.dialTimer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
}

// notify runs fn against the listener if gen is still current.
func (c *Connection) notify(gen uint64, fn func(Listener)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if current {
		fn(c.listener)
	}
}

// dial performs one connection attempt.
func (c *Connection) dial(ctx context.Context, gen uint64) {
	tr, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.fail(gen, fmt.Errorf("channel: connect %s: %w", c.url, err))
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = tr.Close()
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		tr:     tr,
		out:    make(chan []byte, outboundQueue),
		quit:   make(chan struct{}),
		cancel: cancel,
	}
	// The start message is queued before the run becomes visible to Send so
	// it is always the first frame on the wire.
	start, _ := json.Marshal(StartMessage(c.pair))
	r.out <- start

	c.endDialLocked()
	c.run = r
	c.state = StateOpen
	c.attempts = 0
	pair := c.pair
	c.mu.Unlock()

	slog.Info("channel open", "url", c.url, "languages", pair.String())
	// Report Open before any line can be delivered.
	c.notify(gen, func(l Listener) { l.StatusChanged(StateOpen) })

	c.mu.Lock()
	ended := gen != c.gen
	c.mu.Unlock()
	if ended && r.onlyStart() {
		c.discard(r)
		return
	}
	go c.writeLoop(runCtx, gen, r)
	go c.readLoop(runCtx, gen, r, pair)
}

// discard closes a run that ended before its writer ran, without sending the
// start frame.
func (c *Connection) discard(r *run) {
	slog.Debug("channel: run ended before start was sent", "url", c.url)
	r.cancel()
	_ = r.tr.Close()
}

// fail ends the attempt or run identified by gen and schedules the next one.
func (c *Connection) fail(gen uint64, err error) {
	c.end(gen, StateOpen, err)
}

// end fails gen if it is current and the connection is still opening or in
// state from. The dial timeout passes [StateOpening] so it can never end a
// run that opened just as it fired.
func (c *Connection) end(gen uint64, from State, err error) {
	c.mu.Lock()
	if gen != c.gen || (c.state != StateOpening && c.state != from) {
		c.mu.Unlock()
		return
	}
	prev := c.teardownLocked()
	c.attempts++
	attempt := c.attempts
	next := c.gen

	delay, ok := c.policy.Next(attempt)
	if ok {
		c.state = StateReconnecting
		c.timer = c.clk.AfterFunc(delay, func() { c.reconnect(next) })
	} else {
		c.state = StateClosed
	}
	state := c.state
	c.mu.Unlock()

	if prev != nil {
		prev.abort()
	}

	if ok {
		slog.Warn("channel failed, reconnect scheduled",
			"url", c.url, "attempt", attempt, "delay", delay, "err", err)
	} else {
		slog.Error("channel failed, giving up after max retries",
			"url", c.url, "attempts", attempt, "err", err)
	}
	c.notify(next, func(l Listener) {
		l.StatusChanged(state)
		l.Failed(err)
	})
}

// reconnect is the timer callback of a scheduled reconnect.
func (c *Connection) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	attempt := c.attempts
	next, ctx := c.beginAttemptLocked()
	c.mu.Unlock()

	c.metrics.RecordReconnectAttempt(ctx)
	slog.Info("attempting reconnection", "url", c.url, "attempt", attempt)
	c.notify(next, func(l Listener) { l.StatusChanged(StateOpening) })
	go c.dial(ctx, next)
}

// writeLoop delivers queued control messages until the run ends. On a
// graceful close it flushes whatever is still queued, unless the run was
// closed before anything but the start frame was queued.
func (c *Connection) writeLoop(ctx context.Context, gen uint64, r *run) {
	select {
	case <-r.quit:
		if r.onlyStart() {
			c.discard(r)
			return
		}
	default:
	}
	for {
		select {
		case data := <-r.out:
			if err := c.write(ctx, r.tr, data); err != nil {
				r.abort()
				c.fail(gen, fmt.Errorf("%w: write: %v", ErrConnectionLost, err))
				return
			}
		case <-r.quit:
			for {
				select {
				case data := <-r.out:
					if err := c.write(context.Background(), r.tr, data); err != nil {
						slog.Debug("channel: flush on close failed", "err", err)
					}
				default:
					r.cancel()
					_ = r.tr.Close()
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) write(ctx context.Context, tr Transport, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return tr.Write(ctx, data)
}

// readLoop forwards inbound lines in arrival order until the transport fails.
func (c *Connection) readLoop(ctx context.Context, gen uint64, r *run, pair types.LanguagePair) {
	for {
		data, err := r.tr.Read(ctx)
		if err != nil {
			r.abort()
			c.fail(gen, fmt.Errorf("%w: read: %v", ErrConnectionLost, err))
			return
		}

		line, err := ParseLine(data, pair)
		if err != nil {
			slog.Debug("channel: dropping malformed payload", "err", err, "bytes", len(data))
			c.metrics.RecordLineDropped(ctx, "malformed")
			continue
		}
		c.notify(gen, func(l Listener) {
			line.Sequence = c.seq.Next()
			l.LineReceived(line)
		})
	}
}
