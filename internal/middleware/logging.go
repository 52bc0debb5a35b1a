package middleware

import (
	"net/http"
	"strconv"
	"time"

	"api-gateway/internal/common/logging"
	"api-gateway/internal/metrics"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// statusClientClosed is logged for requests abandoned before a response was written.
const statusClientClosed = 499

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer for flushing.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestID assigns every request an id, reusing a well-formed incoming
// X-Request-ID, and stores it in the request context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs all HTTP requests with method, path, status, and
// duration, and records them in m.
func LoggingMiddleware(logger logging.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			status := wrapped.statusCode
			if !wrapped.wroteHeader && r.Context().Err() != nil {
				status = statusClientClosed
			}

			m.Request(r.Method, strconv.Itoa(status), duration.Seconds())

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", status),
				logging.Int64("duration_ms", duration.Milliseconds()),
				logging.String("remote_addr", r.RemoteAddr),
			}

			if r.URL.RawQuery != "" {
				fields = append(fields, logging.String("query", r.URL.RawQuery))
			}

			if ua := r.Header.Get("User-Agent"); ua != "" {
				fields = append(fields, logging.String("user_agent", ua))
			}

			if cache := w.Header().Get("X-Cache"); cache != "" {
				fields = append(fields, logging.String("cache", cache))
			}

			log := logger.WithContext(r.Context())
			switch {
			case status >= 500:
				log.Error("HTTP request completed", nil, fields...)
			case status >= 400:
				log.Warn("HTTP request completed", fields...)
			default:
				log.Info("HTTP request completed", fields...)
			}
		})
	}
}
