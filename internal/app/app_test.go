package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/livetranslate/internal/app"
	"github.com/MrWong99/livetranslate/internal/channel/mock"
	clockmock "github.com/MrWong99/livetranslate/internal/clock/mock"
	"github.com/MrWong99/livetranslate/internal/config"
	"github.com/MrWong99/livetranslate/internal/observe"
	"github.com/MrWong99/livetranslate/internal/session"
	"github.com/MrWong99/livetranslate/internal/simulate"
)

// testConfig returns a validated config for a simulated session with the
// status server on an ephemeral port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Channel.Mode = config.ModeSimulated
	cfg.Channel.URL = ""
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// harness runs an App with a scripted console input.
type harness struct {
	app   *app.App
	clk   *clockmock.Clock
	input *io.PipeWriter
	done  chan error
}

func start(t *testing.T, cfg *config.Config, opts ...app.Option) *harness {
	t.Helper()
	pr, pw := io.Pipe()
	clk := clockmock.New(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]app.Option{
		app.WithIO(pr, io.Discard),
		app.WithClock(clk),
		app.WithMetrics(testMetrics(t)),
	}, opts...)

	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &harness{app: a, clk: clk, input: pw, done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = pw.Close()
		_ = a.Shutdown(context.Background())
	})
	return h
}

func (h *harness) send(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if _, err := io.WriteString(h.input, l+"\n"); err != nil {
			t.Fatalf("write %q: %v", l, err)
		}
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func get(t *testing.T, a *app.App, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get("http://" + a.Addr().String() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestApp_SimulatedSessionServesStatus(t *testing.T) {
	h := start(t, testConfig(t))
	h.send(t, "start")

	ctl := h.app.Controller()
	eventually(t, func() bool { return ctl.State() == session.StateSimulated })
	eventually(t, func() bool {
		h.clk.Advance(simulate.DefaultInterval)
		return len(ctl.History()) >= 1
	})

	resp, body := get(t, h.app, "/statusz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/statusz status = %d", resp.StatusCode)
	}
	var st session.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode /statusz: %v", err)
	}
	if st.State != "simulated" || !st.Healthy || st.HistoryLines < 1 {
		t.Errorf("status = %+v, want simulated/healthy with lines", st)
	}
	if st.ChannelReason == "" {
		t.Error("status should explain why the channel is unavailable")
	}

	if resp, _ := get(t, h.app, "/readyz"); resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", resp.StatusCode)
	}
	if resp, _ := get(t, h.app, "/metrics"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("/metrics with injected metrics = %d, want 404", resp.StatusCode)
	}
}

func TestApp_QuitNeedsConfirmationWhileActive(t *testing.T) {
	h := start(t, testConfig(t), app.WithAutoStart(true))
	ctl := h.app.Controller()
	eventually(t, func() bool { return ctl.State() == session.StateSimulated })

	h.send(t, "quit", "n")
	h.send(t, "quit", "y")
	if err := h.wait(t); err != nil {
		t.Errorf("Run = %v, want nil after quit", err)
	}
}

func TestApp_EndSessionFailsReadiness(t *testing.T) {
	h := start(t, testConfig(t), app.WithAutoStart(true))
	ctl := h.app.Controller()
	eventually(t, func() bool { return ctl.State() == session.StateSimulated })

	h.send(t, "end", "y")
	eventually(t, func() bool { return ctl.State() == session.StateEnded })

	resp, body := get(t, h.app, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz after end = %d, want 503 (%s)", resp.StatusCode, body)
	}
	if len(ctl.History()) != 0 {
		t.Error("history should be cleared on end")
	}
}

func TestApp_RunReturnsContextError(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	a, err := app.New(context.Background(), testConfig(t), app.WithIO(pr, io.Discard), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_DefaultTelemetryServesMetrics(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	pr, pw := io.Pipe()
	defer pw.Close()
	a, err := app.New(context.Background(), testConfig(t), app.WithIO(pr, io.Discard))
	if err != nil {
		t.Fatalf("New without injected metrics: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	resp, body := get(t, a, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("/metrics missing Go runtime collector output:\n%s", body)
	}
}

func TestApp_LiveSessionUsesDialer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channel.Mode = config.ModeAuto
	cfg.Channel.URL = "ws://translator.test/ws/translation"

	tr := mock.NewTransport()
	d := &mock.Dialer{}
	d.Enqueue(tr, nil)

	h := start(t, cfg, app.WithDialer(d), app.WithAutoStart(true))
	ctl := h.app.Controller()
	eventually(t, func() bool { return ctl.State() == session.StateLive })

	tr.PushJSON(map[string]any{
		"original":    "नमस्कार",
		"translation": "Hello",
		"timestamp":   "2026-01-01T12:00:00Z",
	})
	eventually(t, func() bool { return len(ctl.History()) == 1 })

	if got := d.URLs(); len(got) != 1 || got[0] != cfg.Channel.URL {
		t.Errorf("dialed %v, want [%s]", got, cfg.Channel.URL)
	}
	if acts := tr.Actions(); len(acts) == 0 || acts[0] != "start" {
		t.Errorf("actions = %v, want start first", acts)
	}
}

func TestApp_ConfigReloadAppliesLanguagesAndLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livetranslate.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("server:\n  log_level: info\nlanguages:\n  source: mr\n  target: en\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Server.ListenAddr = ""
	cfg.Channel.Mode = config.ModeSimulated

	lv := &slog.LevelVar{}
	h := start(t, cfg, app.WithConfigWatch(path), app.WithLevelVar(lv))
	ctl := h.app.Controller()

	write("server:\n  log_level: debug\nlanguages:\n  source: mr\n  target: de\n")
	eventually(t, func() bool { return ctl.Pair().Target == "de" })
	eventually(t, func() bool { return lv.Level() == slog.LevelDebug })

	if h.app.Addr() != nil {
		t.Error("status server should be disabled with an empty listen address")
	}
}

func TestNew_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.ListenAddr = ln.Addr().String()
	_, err = app.New(context.Background(), cfg, app.WithIO(eofReader{}, io.Discard), app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for an address in use")
	}
}

func TestNew_MissingWatchedConfig(t *testing.T) {
	_, err := app.New(context.Background(), testConfig(t),
		app.WithIO(eofReader{}, io.Discard),
		app.WithMetrics(testMetrics(t)),
		app.WithConfigWatch(filepath.Join(t.TempDir(), "missing.yaml")),
	)
	if err == nil {
		t.Fatal("expected error for a missing watched config")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), app.WithIO(eofReader{}, io.Discard), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
