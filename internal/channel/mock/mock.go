// Package mock provides scriptable implementations of channel.Dialer and
// channel.Transport for tests that must not touch the network.
//
// A Dialer hands out queued results in order, one per Dial call, and
// records every call. A Transport delivers messages pushed with Push and
// records everything written to it. Drop simulates the remote end going
// away: pending and future reads fail.
//
// Example:
//
//	tr := mock.NewTransport()
//	d := &mock.Dialer{}
//	d.Enqueue(tr, nil)
//	conn := channel.New(channel.Config{URL: "ws://x", Dialer: d}, listener)
//	conn.Open(pair)
//	tr.Push([]byte(`{"original":"a","translation":"b","timestamp":1}`))
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/MrWong99/livetranslate/internal/channel"
)

// ErrNoResult is returned by Dial when no result has been queued.
var ErrNoResult = errors.New("mock: no dial result queued")

// ErrClosed is returned by Read and Write on a closed or dropped Transport.
var ErrClosed = errors.New("mock: transport closed")

// Transport is a fake channel.Transport. It is safe for concurrent use.
type Transport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

var _ channel.Transport = (*Transport)(nil)

// NewTransport returns an open Transport.
func NewTransport() *Transport {
	return &Transport{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Read returns the next pushed message.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-t.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write records data, or fails with the error set by FailWrites.
func (t *Transport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.writes = append(t.writes, append([]byte(nil), data...))
	return nil
}

// Close closes the transport. It is safe to call more than once.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// Push queues one inbound message.
func (t *Transport) Push(data []byte) {
	t.in <- data
}

// PushJSON marshals v and queues it as one inbound message.
func (t *Transport) PushJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic("mock: PushJSON: " + err.Error())
	}
	t.Push(data)
}

// Drop simulates the remote end closing the connection.
func (t *Transport) Drop() {
	_ = t.Close()
}

// FailWrites makes every subsequent Write return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Writes returns a copy of every message written so far.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// Actions decodes every written message as a control message and returns
// their actions in write order.
func (t *Transport) Actions() []string {
	var actions []string
	for _, w := range t.Writes() {
		var msg channel.ControlMessage
		if json.Unmarshal(w, &msg) == nil {
			actions = append(actions, msg.Action)
		}
	}
	return actions
}

// Closed reports whether Close or Drop has been called.
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Result is one scripted outcome of Dialer.Dial.
type Result struct {
	Transport channel.Transport
	Err       error
}

// Dialer is a fake channel.Dialer. It is safe for concurrent use.
type Dialer struct {
	mu      sync.Mutex
	queue   []Result
	urls    []string
	fallback func() (channel.Transport, error)
}

var _ channel.Dialer = (*Dialer)(nil)

// Enqueue appends one result to be returned by a future Dial call.
func (d *Dialer) Enqueue(tr channel.Transport, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, Result{Transport: tr, Err: err})
}

// Always makes every Dial without a queued result call fn.
func (d *Dialer) Always(fn func() (channel.Transport, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = fn
}

// Dial returns the next queued result.
func (d *Dialer) Dial(ctx context.Context, url string) (channel.Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	var (
		r  Result
		ok bool
	)
	if len(d.queue) > 0 {
		r, ok = d.queue[0], true
		d.queue = d.queue[1:]
	}
	fallback := d.fallback
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case ok:
		return r.Transport, r.Err
	case fallback != nil:
		return fallback()
	default:
		return nil, ErrNoResult
	}
}

// Calls returns the number of Dial calls made.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns the URL of every Dial call in order.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}
