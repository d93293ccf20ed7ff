package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader carries the trace ID of a status request back to the caller.
const TraceHeader = "X-Trace-ID"

// routeUnmatched labels requests that no route matched, so scans of random
// paths cannot grow the duration histogram.
const routeUnmatched = "unmatched"

// SessionFunc reports the ID of the session the status server is describing,
// or "" before the first session starts.
type SessionFunc func() string

// responseMeter records the status and body size a handler wrote.
type responseMeter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseMeter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseMeter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *responseMeter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// routeOf returns the path part of the [http.ServeMux] pattern that served r.
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return routeUnmatched
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// Middleware instruments the local status server. It must wrap the
// [http.ServeMux] directly so the matched route is known once the mux
// returns.
//
// Each request continues the caller's W3C trace context in a server span
// named after its route. The request context carries the current session ID
// from session (which may be nil), so [Logger] and handlers see it.
// Successful requests are logged at debug level because dashboards and
// scrapers poll every route.
func Middleware(m *Metrics, session SessionFunc) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			if session != nil {
				if id := session(); id != "" {
					ctx = WithSessionID(ctx, id)
				}
			}
			ctx, span := StartSpan(ctx, "status "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if id := CorrelationID(ctx); id != "" {
				w.Header().Set(TraceHeader, id)
			}

			req := r.WithContext(ctx)
			meter := &responseMeter{ResponseWriter: w}
			next.ServeHTTP(meter, req)

			route := routeOf(req)
			status := meter.code()
			elapsed := time.Since(start)

			span.SetName("status " + r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(status),
				semconv.HTTPResponseBodySize(meter.bytes),
			)
			if id := SessionID(ctx); id != "" {
				span.SetAttributes(attribute.String("livetranslate.session.id", id))
			}

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("status", strconv.Itoa(status)),
				),
			)

			level := slog.LevelDebug
			if status >= http.StatusBadRequest {
				level = slog.LevelInfo
			}
			Logger(ctx).LogAttrs(ctx, level, "status request served",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", status),
				slog.Int("bytes", meter.bytes),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
