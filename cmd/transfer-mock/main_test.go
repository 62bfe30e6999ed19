package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyTracker(t *testing.T) {
	tracker := newIdempotencyTracker()
	assert.Equal(t, 1, tracker.observe("a"))
	assert.Equal(t, 1, tracker.observe("b"))
	assert.Equal(t, 2, tracker.observe("a"))
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{"always success", alwaysSuccessHandler, http.StatusOK},
		{"always fail", alwaysFailHandler, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newIdempotencyTracker()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(`{"id":"x","legs":[]}`))
			req.Header.Set("Idempotency-Key", "k")

			loggingMiddleware(tracker, tt.handler).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, contentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, 2, tracker.observe("k"))
		})
	}
}
