package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware records request metrics and writes one access log line
// per request. It runs after chi's RequestID middleware.
func HTTPMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			route := routeTemplate(r)
			status := strconv.Itoa(code)
			elapsed := time.Since(start)

			HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(elapsed.Seconds())

			args := []any{
				"method", r.Method,
				"route", route,
				"status", code,
				"bytes", ww.BytesWritten(),
				"duration_ms", elapsed.Milliseconds(),
				"remote_addr", r.RemoteAddr,
			}
			if rid := chimw.GetReqID(r.Context()); rid != "" {
				args = append(args, "request_id", rid)
			}
			logger.Info("http_request", args...)
		})
	}
}

// routeTemplate returns the matched chi pattern so path ids do not blow up
// label cardinality.
func routeTemplate(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
