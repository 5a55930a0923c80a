package observe

import (
	"cmp"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
)

// unmatchedRoute labels requests no mux pattern matched.
const unmatchedRoute = "unmatched"

// Middleware instruments the observability endpoints.
//
// otelhttp opens a server span per request, continued from an incoming W3C
// traceparent. Inside it the trace ID is echoed as X-Correlation-ID and the
// latency lands in m.HTTPRequestDuration, labelled with the matched mux
// pattern rather than the raw path to keep label cardinality bounded.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}

			// The mux fills Pattern on the request it is handed, so keep a
			// pointer to read it back afterwards.
			req := r.WithContext(ctx)
			stats := httpsnoop.CaptureMetrics(next, w, req)
			route := cmp.Or(req.Pattern, unmatchedRoute)

			m.HTTPRequestDuration.Record(ctx, stats.Duration.Seconds(), metric.WithAttributes(
				Attr("method", r.Method),
				Attr("route", route),
				Attr("status", strconv.Itoa(stats.Code)),
			))
			// Scrapes and probes are frequent; keep them out of info logs.
			Logger(ctx).LogAttrs(ctx, slog.LevelDebug, "http request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", stats.Code),
				slog.Duration("duration", stats.Duration),
				slog.Int64("bytes", stats.Written),
			)
		})

		return otelhttp.NewHandler(inner, "murmur.http",
			otelhttp.WithPropagators(propagation.TraceContext{}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Path
			}),
		)
	}
}
