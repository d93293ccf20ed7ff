// Package app wires the livetranslate subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates the session controller,
// console, status server and config watcher; Run executes them together until
// the user quits or the context is cancelled; Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithDialer, WithClock,
// WithIO, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livetranslate/internal/channel"
	"github.com/MrWong99/livetranslate/internal/clock"
	"github.com/MrWong99/livetranslate/internal/config"
	"github.com/MrWong99/livetranslate/internal/console"
	"github.com/MrWong99/livetranslate/internal/health"
	"github.com/MrWong99/livetranslate/internal/observe"
	"github.com/MrWong99/livetranslate/internal/session"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown at the end of Run.
const serverShutdownTimeout = 5 * time.Second

// ErrSessionEnded is reported by the readiness check once the session has
// been ended.
var ErrSessionEnded = errors.New("app: session ended")

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or defaulted in New.
	dialer     channel.Dialer
	clk        clock.Clock
	in         io.Reader
	out        io.Writer
	metrics    *observe.Metrics
	level      *slog.LevelVar
	configPath string
	autoStart  bool

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry *observe.Provider
	ctl       *session.Controller
	con       *console.Console
	listener  net.Listener
	server    *http.Server
	watcher   *config.Watcher

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects a channel dialer instead of the WebSocket dialer.
func WithDialer(d channel.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithClock injects the clock driving reconnect and simulation timers.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clk = c }
}

// WithIO sets the console input and output. Defaults to stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

// WithMetrics injects the metrics instruments. When set, New does not
// initialise the telemetry pipeline and /metrics is not served.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch reloads path on change and applies hot-reloadable settings.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithAutoStart starts a session as soon as Run begins.
func WithAutoStart(on bool) Option {
	return func(a *App) { a.autoStart = on }
}

// New creates an App from cfg. Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: telemetry, the session
// controller, the status server listener and the config watcher. On error,
// anything already created is torn down.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		in:  os.Stdin,
		out: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Telemetry ────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Console + session controller ─────────────────────────────────
	a.initSession()

	// ── 3. Status server ────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return fmt.Errorf("app: init server: %w", err)
	}

	// ── 4. Config watcher ───────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return fmt.Errorf("app: init config watcher: %w", err)
	}
	return nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	p, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "livetranslate"})
	if err != nil {
		return err
	}
	a.telemetry = p
	a.closers = append(a.closers, p.Shutdown)

	a.metrics, err = observe.NewMetrics(otel.GetMeterProvider())
	return err
}

func (a *App) initSession() {
	a.con = console.New(a.in, a.out)

	if a.dialer == nil {
		a.dialer = &channel.WebSocketDialer{Header: headers(a.cfg.Channel.Headers)}
	}
	capability := capabilityFor(a.cfg.Channel)
	if !capability.Available {
		slog.Info("live channel unavailable, sessions will be simulated", "reason", capability.Reason)
	}

	a.ctl = session.New(session.Config{
		Capability:         capability,
		ChannelURL:         a.cfg.Channel.URL,
		Dialer:             a.dialer,
		WriteTimeout:       a.cfg.Channel.WriteTimeout,
		DialTimeout:        a.cfg.Channel.DialTimeout,
		Policy:             a.cfg.Reconnect.Policy(),
		FallbackAfter:      a.cfg.Reconnect.FallbackAfter,
		SimulationInterval: a.cfg.Simulation.Interval,
		HistoryCapacity:    a.cfg.History.Capacity,
		Languages:          a.cfg.Languages.Pair(),
		Clock:              a.clk,
		Metrics:            a.metrics,
		Sink:               a.con,
		Confirmer:          a.con,
	})
	a.closers = append(a.closers, func(context.Context) error {
		a.ctl.Close()
		return nil
	})
}

func (a *App) initServer() error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	health.New(
		health.WithCheck("session", a.checkSession),
		health.WithStatus(func() any { return a.ctl.Snapshot() }),
		health.WithClock(a.clk),
	).Register(mux)
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.MetricsHandler())
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", addr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics, a.sessionID)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, func(context.Context) error {
		err := errors.Join(a.server.Close(), ln.Close())
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	return nil
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func(context.Context) error {
		w.Stop()
		return nil
	})
	return nil
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctl }

// Addr returns the status server address, or nil when the server is disabled.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the status endpoints and reads console commands until the user
// quits or ctx is cancelled. It returns nil when the user quits and ctx.Err()
// when ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if a.server != nil {
		g.Go(func() error {
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.Serve(a.listener)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: status server: %w", err)
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer done()
			return a.server.Shutdown(shutdownCtx)
		})
		slog.Info("status server listening", "addr", a.listener.Addr().String())
	}

	g.Go(func() error {
		defer cancel()
		return a.con.Run(runCtx, a.ctl)
	})

	if a.autoStart {
		a.ctl.StartSession()
	}

	slog.Info("app running", "mode", a.cfg.Channel.Mode, "languages", a.ctl.Pair().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// applyConfig applies the hot-reloadable parts of a config change.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
		}
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguagesChanged {
		slog.Info("languages changed", "languages", d.NewLanguages.String())
		a.ctl.ChangeLanguage(d.NewLanguages)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "fields", d.RestartRequired)
	}
}

func (a *App) sessionID() string {
	return a.ctl.Snapshot().SessionID
}

func (a *App) checkSession(context.Context) error {
	if a.ctl.State() == session.StateEnded {
		return ErrSessionEnded
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// capabilityFor decides whether the live channel may be used at all.
func capabilityFor(c config.ChannelConfig) channel.Capability {
	if c.Mode == config.ModeSimulated {
		return channel.Unavailable("simulated mode configured")
	}
	return channel.Probe(c.URL)
}

func headers(h map[string]string) http.Header {
	if len(h) == 0 {
		return nil
	}
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Set(k, v)
	}
	return out
}
