// Package trace assigns request IDs and logs each request with its outcome.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"ecu/internal/log"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"

	// HeaderRequestID echoes the request ID to the client.
	HeaderRequestID = "X-Request-ID"
)

type Middleware struct {
	extractIP func(*http.Request) string
	logger    *log.Logger

	totalRequests int64
	totalMicros   int64
}

type Metrics struct {
	TotalRequests       int64
	AverageResponseTime int64 // microseconds
}

func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string) *Middleware {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Middleware{
		extractIP: extractIP,
		logger:    logger.WithComponent(log.ComponentHTTP),
	}
}

// Middleware stores a request-scoped logger carrying the request ID in the
// context, then logs completion at a level matching the status code.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" || len(requestID) > 64 {
			requestID = GenerateRequestID()
		}

		logger := m.logger.With(log.FieldRequestID, requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = context.WithValue(ctx, log.LoggerContextKey, logger)
		r = r.WithContext(ctx)
		w.Header().Set(HeaderRequestID, requestID)

		logger.DebugContext(ctx, "HTTP request started",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldQuery, r.URL.RawQuery,
			log.FieldClientIP, clientIP,
			log.FieldUserAgent, r.Header.Get("User-Agent"),
			log.FieldReferer, r.Header.Get("Referer"))

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		atomic.AddInt64(&m.totalRequests, 1)
		atomic.AddInt64(&m.totalMicros, duration.Microseconds())

		level := slog.LevelInfo
		switch {
		case rw.statusCode >= 500:
			level = slog.LevelError
		case rw.statusCode >= 400:
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "HTTP request completed",
			log.FieldComponent, logger.Component(),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, duration.Milliseconds(),
			log.FieldDurationHuman, duration.String(),
			log.FieldClientIP, clientIP,
			log.FieldSuccess, rw.statusCode < 400)
	})
}

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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// GetRequestID returns the request ID stored by Middleware, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func (m *Middleware) GetMetrics() Metrics {
	total := atomic.LoadInt64(&m.totalRequests)
	var avg int64
	if total > 0 {
		avg = atomic.LoadInt64(&m.totalMicros) / total
	}
	return Metrics{TotalRequests: total, AverageResponseTime: avg}
}
