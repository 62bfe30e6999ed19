package main

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

// idempotencyTracker remembers every Idempotency-Key seen so retried
// settlements show up in the log.
type idempotencyTracker struct {
	mu   sync.Mutex
	seen map[string]int
}

func newIdempotencyTracker() *idempotencyTracker {
	return &idempotencyTracker{seen: make(map[string]int)}
}

// observe records key and returns how many times it has been seen.
func (t *idempotencyTracker) observe(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[key]++
	return t.seen[key]
}

func loggingMiddleware(tracker *idempotencyTracker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("Error reading request body", "error", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		key := r.Header.Get("Idempotency-Key")
		logger.Info("Request", "path", r.URL.Path, "idempotencyKey", key, "body", string(body))

		if key != "" {
			if n := tracker.observe(key); n > 1 {
				logger.Warn("Duplicate Idempotency-Key", "idempotencyKey", key, "count", n)
			}
		}

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		logger.Info("Response", "path", r.URL.Path, "status", lrw.status, "body", lrw.body.String())
	})
}

var (
	mu             sync.Mutex
	endpointCounts = make(map[string]int)
)

func countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		endpointCounts[r.URL.Path]++
		count := endpointCounts[r.URL.Path]
		mu.Unlock()

		logger.Debug("Endpoint called", "path", r.URL.Path, "count", count)
		next.ServeHTTP(w, r)
	})
}
