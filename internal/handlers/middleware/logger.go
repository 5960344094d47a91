package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/storefront/internal/handlers/clientip"
)

// Path segments followed by a secret that must not reach the logs
var secretSegments = []string{"/reset-password/"}

type logger interface {
	Info(msg string, args ...any)
}

type logData struct {
	responseStatus int
	responseSize   int
}

type logWriter struct {
	http.ResponseWriter
	data logData
}

func (w *logWriter) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.data.responseSize += size
	return size, err
}

func (w *logWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.responseStatus = statusCode
}

func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lw := &logWriter{
				ResponseWriter: w,
				data:           logData{responseStatus: http.StatusOK, responseSize: 0},
			}

			next.ServeHTTP(lw, r)

			l.Info(
				"got HTTP request",
				"method", r.Method,
				"uri", redactURI(r.URL.Path),
				"ip", clientip.FromRequest(r),
				"duration", time.Since(start),
				"status", lw.data.responseStatus,
				"size", lw.data.responseSize,
			)
		})
	}
}

// Replace secret path values so raw tokens never get logged
func redactURI(path string) string {
	for _, seg := range secretSegments {
		if i := strings.Index(path, seg); i >= 0 {
			return path[:i+len(seg)] + "***"
		}
	}
	return path
}
