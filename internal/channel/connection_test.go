package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livetranslate/internal/channel"
	"github.com/MrWong99/livetranslate/internal/channel/mock"
	clockmock "github.com/MrWong99/livetranslate/internal/clock/mock"
	"github.com/MrWong99/livetranslate/internal/resilience"
	"github.com/MrWong99/livetranslate/pkg/types"
)

var pair = types.LanguagePair{Source: "mr", Target: "en"}

// recorder is a channel.Listener that records every callback.
type recorder struct {
	mu     sync.Mutex
	lines  []types.TranslationLine
	states []channel.State
	errs   []error
}

func (r *recorder) LineReceived(l types.TranslationLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, l)
}

func (r *recorder) StatusChanged(s channel.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) Failed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Lines() []types.TranslationLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TranslationLine(nil), r.lines...)
}

func (r *recorder) States() []channel.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channel.State(nil), r.states...)
}

func (r *recorder) Errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newConn(t *testing.T, d channel.Dialer, policy resilience.ReconnectPolicy) (*channel.Connection, *recorder, *clockmock.Clock) {
	t.Helper()
	rec := &recorder{}
	clk := clockmock.New(time.Unix(0, 0))
	c := channel.New(channel.Config{
		URL:    "ws://translate.test/ws/translation",
		Dialer: d,
		Clock:  clk,
		Policy: policy,
	}, rec)
	t.Cleanup(c.Close)
	return c, rec, clk
}

func linePayload(original string) map[string]any {
	return map[string]any{
		"original":    original,
		"translation": "t-" + original,
		"timestamp":   "2024-05-01T10:00:00Z",
	}
}

func TestConnection_SendsStartFirst(t *testing.T) {
	tr := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr, nil)
	c, rec, _ := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "open", func() bool { return c.State() == channel.StateOpen })
	eventually(t, "start written", func() bool { return len(tr.Writes()) == 1 })

	var msg channel.ControlMessage
	if err := json.Unmarshal(tr.Writes()[0], &msg); err != nil {
		t.Fatalf("unmarshal start: %v", err)
	}
	want := channel.StartMessage(pair)
	if msg != want {
		t.Errorf("first message = %+v, want %+v", msg, want)
	}
	if got := rec.States(); len(got) < 2 || got[0] != channel.StateOpening || got[1] != channel.StateOpen {
		t.Errorf("states = %v, want [opening open]", got)
	}
	if got := d.URLs(); len(got) != 1 || got[0] != "ws://translate.test/ws/translation" {
		t.Errorf("dialled URLs = %v", got)
	}
}

func TestConnection_ForwardsLinesInOrder(t *testing.T) {
	tr := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr, nil)
	c, rec, _ := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "open", func() bool { return c.State() == channel.StateOpen })

	tr.PushJSON(linePayload("one"))
	tr.Push([]byte(`{"translation":"missing original"}`))
	tr.Push([]byte(`garbage`))
	tr.PushJSON(linePayload("two"))
	tr.PushJSON(linePayload("three"))

	eventually(t, "three lines", func() bool { return len(rec.Lines()) == 3 })
	lines := rec.Lines()
	for i, want := range []string{"one", "two", "three"} {
		if lines[i].Original != want {
			t.Errorf("line %d original = %q, want %q", i, lines[i].Original, want)
		}
		if lines[i].Sequence != uint64(i+1) {
			t.Errorf("line %d sequence = %d, want %d", i, lines[i].Sequence, i+1)
		}
		if lines[i].SourceLang != "mr" || lines[i].TargetLang != "en" {
			t.Errorf("line %d languages = %s→%s", i, lines[i].SourceLang, lines[i].TargetLang)
		}
	}
	if c.State() != channel.StateOpen {
		t.Errorf("state = %v after malformed payloads, want open", c.State())
	}
}

func TestConnection_DropSchedulesOneReconnect(t *testing.T) {
	tr1 := mock.NewTransport()
	tr2 := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr1, nil)
	d.Enqueue(tr2, nil)
	c, rec, clk := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "open", func() bool { return c.State() == channel.StateOpen })

	tr1.Drop()
	eventually(t, "failure reported", func() bool { return len(rec.Errs()) == 1 })
	if c.State() != channel.StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", c.State())
	}

	errs := rec.Errs()
	if len(errs) != 1 || !errors.Is(errs[0], channel.ErrConnectionLost) {
		t.Fatalf("errs = %v, want one ErrConnectionLost", errs)
	}
	if clk.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.Pending())
	}

	clk.Advance(4 * time.Second)
	if d.Calls() != 1 {
		t.Fatalf("dial calls before delay = %d, want 1", d.Calls())
	}

	clk.Advance(time.Second)
	eventually(t, "reopened", func() bool { return c.State() == channel.StateOpen })
	if d.Calls() != 2 {
		t.Errorf("dial calls = %d, want 2", d.Calls())
	}
	eventually(t, "start on new transport", func() bool {
		a := tr2.Actions()
		return len(a) == 1 && a[0] == channel.ActionStart
	})
}

func TestConnection_InitialDialFailure(t *testing.T) {
	d := &mock.Dialer{}
	d.Enqueue(nil, errors.New("connection refused"))
	c, rec, clk := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "failure reported", func() bool { return len(rec.Errs()) == 1 })
	if c.State() != channel.StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", c.State())
	}

	errs := rec.Errs()
	if errors.Is(errs[0], channel.ErrConnectionLost) {
		t.Error("dial failure must not be reported as a lost connection")
	}
	if !strings.Contains(errs[0].Error(), "connection refused") {
		t.Errorf("err = %v, want dial cause", errs[0])
	}
	if clk.Pending() != 1 {
		t.Errorf("pending timers = %d, want 1", clk.Pending())
	}
}

func TestConnection_CloseCancelsPendingReconnect(t *testing.T) {
	d := &mock.Dialer{}
	c, _, clk := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "reconnecting", func() bool { return c.State() == channel.StateReconnecting })

	c.Close()
	if clk.Pending() != 0 {
		t.Errorf("pending timers after Close = %d, want 0", clk.Pending())
	}
	clk.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if d.Calls() != 1 {
		t.Errorf("dial calls = %d, want 1", d.Calls())
	}
	if c.State() != channel.StateClosed {
		t.Errorf("state = %v, want closed", c.State())
	}
}

func TestConnection_GivesUpAfterMaxRetries(t *testing.T) {
	d := &mock.Dialer{}
	c, rec, clk := newConn(t, d, resilience.ReconnectPolicy{MaxRetries: 1})

	c.Open(pair)
	eventually(t, "reconnecting", func() bool { return c.State() == channel.StateReconnecting })

	clk.Advance(resilience.DefaultReconnectDelay)
	eventually(t, "second failure", func() bool { return len(rec.Errs()) == 2 })
	if c.State() != channel.StateClosed {
		t.Fatalf("state = %v, want closed", c.State())
	}

	if d.Calls() != 2 {
		t.Errorf("dial calls = %d, want 2", d.Calls())
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

func TestConnection_SendRefusedUnlessOpen(t *testing.T) {
	d := &mock.Dialer{}
	c, _, _ := newConn(t, d, resilience.ReconnectPolicy{})

	if c.Send(channel.StopMessage()) {
		t.Error("Send on a closed connection succeeded")
	}
	c.Open(pair)
	eventually(t, "reconnecting", func() bool { return c.State() == channel.StateReconnecting })
	if c.Send(channel.StopMessage()) {
		t.Error("Send while reconnecting succeeded")
	}
}

func TestConnection_CloseFlushesQueuedStop(t *testing.T) {
	tr := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr, nil)
	c, rec, _ := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "open", func() bool { return c.State() == channel.StateOpen })

	if !c.Send(channel.StopMessage()) {
		t.Fatal("Send(stop) refused while open")
	}
	c.Close()
	c.Close()

	eventually(t, "transport closed", tr.Closed)
	got := tr.Actions()
	if len(got) != 2 || got[0] != channel.ActionStart || got[1] != channel.ActionStop {
		t.Errorf("actions = %v, want [start stop]", got)
	}

	closed := 0
	for _, s := range rec.States() {
		if s == channel.StateClosed {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("closed notifications = %d, want 1", closed)
	}
	if len(rec.Errs()) != 0 {
		t.Errorf("graceful close reported failures: %v", rec.Errs())
	}
}

func TestConnection_NoCallbacksAfterClose(t *testing.T) {
	tr := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr, nil)
	c, rec, _ := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "open", func() bool { return c.State() == channel.StateOpen })
	c.Close()
	before := len(rec.Lines())

	tr.PushJSON(linePayload("late"))
	time.Sleep(20 * time.Millisecond)
	if got := len(rec.Lines()); got != before {
		t.Errorf("lines after Close = %d, want %d", got, before)
	}
}

func TestConnection_OpenReplacesAttempt(t *testing.T) {
	tr1 := mock.NewTransport()
	tr2 := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr1, nil)
	d.Enqueue(tr2, nil)
	c, _, _ := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "open", func() bool { return c.State() == channel.StateOpen })

	next := types.LanguagePair{Source: "hi", Target: "en"}
	c.Open(next)
	eventually(t, "first transport closed", tr1.Closed)
	eventually(t, "reopened", func() bool { return c.State() == channel.StateOpen })

	if c.Pair() != next {
		t.Errorf("Pair = %v, want %v", c.Pair(), next)
	}
	eventually(t, "start on second transport", func() bool { return len(tr2.Writes()) == 1 })
	var msg channel.ControlMessage
	if err := json.Unmarshal(tr2.Writes()[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.SourceLanguage != "hi" {
		t.Errorf("start sourceLanguage = %q, want hi", msg.SourceLanguage)
	}
}

// hangingDialer accepts the attempt but never completes the handshake.
type hangingDialer struct{}

func (hangingDialer) Dial(ctx context.Context, _ string) (channel.Transport, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConnection_DialTimeoutSchedulesReconnect(t *testing.T) {
	c, rec, clk := newConn(t, hangingDialer{}, resilience.ReconnectPolicy{})

	c.Open(pair)
	clk.Advance(channel.DefaultDialTimeout - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if got := c.State(); got != channel.StateOpening {
		t.Fatalf("state before timeout = %v, want opening", got)
	}

	clk.Advance(time.Millisecond)
	eventually(t, "failure reported", func() bool { return len(rec.Errs()) == 1 })
	if got := c.State(); got != channel.StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", got)
	}
	err := rec.Errs()[0]
	if !errors.Is(err, channel.ErrDialTimeout) {
		t.Errorf("err = %v, want ErrDialTimeout", err)
	}
	if errors.Is(err, channel.ErrConnectionLost) {
		t.Error("timed out attempt reported as a lost connection")
	}
	if clk.Pending() != 1 {
		t.Errorf("pending timers = %d, want only the reconnect", clk.Pending())
	}

	// The reconnect attempt is bounded the same way.
	clk.Advance(resilience.DefaultReconnectDelay)
	if got := c.State(); got != channel.StateOpening {
		t.Fatalf("state after reconnect delay = %v, want opening", got)
	}
	clk.Advance(channel.DefaultDialTimeout)
	eventually(t, "second failure", func() bool { return len(rec.Errs()) == 2 })
}

func TestConnection_CustomDialTimeout(t *testing.T) {
	rec := &recorder{}
	clk := clockmock.New(time.Unix(0, 0))
	c := channel.New(channel.Config{
		URL:         "ws://translate.test/ws/translation",
		Dialer:      hangingDialer{},
		Clock:       clk,
		DialTimeout: 2 * time.Second,
	}, rec)
	t.Cleanup(c.Close)

	c.Open(pair)
	clk.Advance(2 * time.Second)
	eventually(t, "failure reported", func() bool { return len(rec.Errs()) == 1 })
	if !errors.Is(rec.Errs()[0], channel.ErrDialTimeout) {
		t.Errorf("err = %v, want ErrDialTimeout", rec.Errs()[0])
	}
}

func TestConnection_OpenDisarmsDialTimeout(t *testing.T) {
	tr := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr, nil)
	c, rec, clk := newConn(t, d, resilience.ReconnectPolicy{})

	c.Open(pair)
	eventually(t, "open", func() bool { return c.State() == channel.StateOpen })
	if clk.Pending() != 0 {
		t.Errorf("pending timers while open = %d, want 0", clk.Pending())
	}
	clk.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	if c.State() != channel.StateOpen || len(rec.Errs()) != 0 {
		t.Errorf("state = %v, errs = %v; want open without failures", c.State(), rec.Errs())
	}
}

func TestConnection_CloseWhileDialTimesOut(t *testing.T) {
	c, rec, clk := newConn(t, hangingDialer{}, resilience.ReconnectPolicy{})

	c.Open(pair)
	c.Close()
	if clk.Pending() != 0 {
		t.Errorf("pending timers after Close = %d, want 0", clk.Pending())
	}
	clk.Advance(time.Minute)
	if len(rec.Errs()) != 0 {
		t.Errorf("errs after Close = %v, want none", rec.Errs())
	}
}

// closingListener closes its connection from another goroutine as soon as
// Open is reported, optionally queueing a stop first, and returns only once
// Close has taken effect.
type closingListener struct {
	recorder
	conn     *channel.Connection
	sendStop bool
}

func (l *closingListener) StatusChanged(s channel.State) {
	l.recorder.StatusChanged(s)
	if s != channel.StateOpen {
		return
	}
	go func() {
		if l.sendStop {
			l.conn.Send(channel.StopMessage())
		}
		l.conn.Close()
	}()
	for l.conn.State() != channel.StateClosed {
		time.Sleep(time.Millisecond)
	}
}

func openThenClose(t *testing.T, sendStop bool) *mock.Transport {
	t.Helper()
	tr := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr, nil)
	l := &closingListener{sendStop: sendStop}
	c := channel.New(channel.Config{
		URL:    "ws://translate.test/ws/translation",
		Dialer: d,
		Clock:  clockmock.New(time.Unix(0, 0)),
	}, l)
	l.conn = c
	t.Cleanup(c.Close)

	c.Open(pair)
	eventually(t, "transport closed", tr.Closed)
	time.Sleep(10 * time.Millisecond)
	if c.State() != channel.StateClosed {
		t.Errorf("state = %v, want closed", c.State())
	}
	return tr
}

func TestConnection_CloseBeforeLoopsSendsNothing(t *testing.T) {
	tr := openThenClose(t, false)
	if got := tr.Writes(); len(got) != 0 {
		t.Errorf("writes after Close = %q, want none", got)
	}
}

func TestConnection_CloseBeforeLoopsFlushesQueuedStop(t *testing.T) {
	tr := openThenClose(t, true)
	got := tr.Actions()
	if len(got) != 2 || got[0] != channel.ActionStart || got[1] != channel.ActionStop {
		t.Errorf("actions = %v, want [start stop]", got)
	}
}

// ─── WebSocket transport ─────────────────────────────────────────────────────

// startServer starts an httptest server that upgrades every request and
// hands the connection to handler.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// wsURL converts an httptest server URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnection_WebSocketRoundTrip(t *testing.T) {
	gotStart := make(chan channel.ControlMessage, 1)
	srv := startServer(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg channel.ControlMessage
		_ = json.Unmarshal(data, &msg)
		gotStart <- msg

		line, _ := json.Marshal(linePayload("नमस्कार"))
		if err := conn.Write(ctx, websocket.MessageText, line); err != nil {
			return
		}
		// Hold the connection until the client goes away.
		_, _, _ = conn.Read(ctx)
	})

	rec := &recorder{}
	c := channel.New(channel.Config{URL: wsURL(srv)}, rec)
	t.Cleanup(c.Close)
	c.Open(pair)

	select {
	case msg := <-gotStart:
		if msg.Action != channel.ActionStart || msg.SourceLanguage != "mr" || msg.TargetLanguage != "en" {
			t.Errorf("start = %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received start")
	}

	eventually(t, "line received", func() bool { return len(rec.Lines()) == 1 })
	if got := rec.Lines()[0].Original; got != "नमस्कार" {
		t.Errorf("original = %q", got)
	}
}
