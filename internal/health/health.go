// Package health serves the status endpoints of the translation client.
//
//   - GET /healthz reports that the process is up, with its uptime.
//   - GET /readyz runs every registered check concurrently and answers 503
//     when any of them fails, for example once the session has been ended.
//   - GET /statusz serves the JSON snapshot of the running session.
//
// All bodies are JSON and marked uncacheable, since they describe live state.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livetranslate/internal/clock"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Check reports nil while the component it watches can do its job.
type Check func(ctx context.Context) error

// StatusFunc returns a JSON-encodable snapshot of the running client.
type StatusFunc func() any

// Option configures a [Handler].
type Option func(*Handler)

// WithCheck adds a readiness check reported under name.
func WithCheck(name string, c Check) Option {
	return func(h *Handler) { h.checks = append(h.checks, namedCheck{name: name, check: c}) }
}

// WithStatus sets the snapshot served on /statusz. Without it /statusz
// answers 404.
func WithStatus(fn StatusFunc) Option {
	return func(h *Handler) { h.status = fn }
}

// WithClock sets the clock uptime and check durations are measured on.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clk = c }
}

type namedCheck struct {
	name  string
	check Check
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// Report is the body of /healthz and /readyz.
type Report struct {
	Status string        `json:"status"`
	Uptime string        `json:"uptime,omitempty"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// Handler serves the status endpoints. Its checks are fixed by [New].
type Handler struct {
	clk     clock.Clock
	started time.Time
	checks  []namedCheck
	status  StatusFunc
}

// New creates a Handler. Uptime counts from the call to New.
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	h.clk = clock.OrReal(h.clk)
	h.started = h.clk.Now()
	return h
}

// Register adds the status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// Healthz always answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	up := h.clk.Now().Sub(h.started).Truncate(time.Second)
	writeJSON(w, http.StatusOK, Report{Status: "ok", Uptime: up.String()})
}

// Readyz answers 200 only when every check passes. Results keep the order
// the checks were registered in.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := h.run(r.Context())

	rep := Report{Status: "ok", Checks: results}
	code := http.StatusOK
	for _, res := range results {
		if !res.OK {
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, rep)
}

func (h *Handler) run(ctx context.Context) []CheckResult {
	results := make([]CheckResult, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := h.clk.Now()
			err := c.check(cctx)
			res := CheckResult{Name: c.name, OK: err == nil, Elapsed: h.clk.Now().Sub(start).String()}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Statusz serves the current session snapshot.
func (h *Handler) Statusz(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("health: encode response", "err", err)
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
