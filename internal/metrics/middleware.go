package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// unmatchedRoute labels requests outside the known route prefixes
const unmatchedRoute = "unmatched"

// HTTPMiddleware records request count, latency and errors per route
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		status := strconv.Itoa(code)
		route := routeLabel(r)

		m.APIRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

		if code >= 400 {
			m.APIErrorsTotal.WithLabelValues(categorizeStatus(code)).Inc()
		}
	})
}

// routeLabel returns the chi route pattern, or for unrouted requests a
// path with order IDs and quota keys replaced by placeholders.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "/health" {
		return path
	}
	if !strings.HasPrefix(path, "/api/v1/") {
		return unmatchedRoute
	}

	parts := strings.Split(path, "/")
	for i := 0; i < len(parts); i++ {
		switch {
		case parts[i] == "quota":
			// level and key; the key is a client IP or tier name
			for j, placeholder := range []string{"{level}", "{key}"} {
				if i+1+j < len(parts) {
					parts[i+1+j] = placeholder
				}
			}
			i += 2
		case uuid.Validate(parts[i]) == nil:
			parts[i] = "{id}"
		}
	}

	return strings.Join(parts, "/")
}

// categorizeStatus categorizes HTTP status codes into error types
func categorizeStatus(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "quota_exceeded"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusBadRequest:
		return "bad_request"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
