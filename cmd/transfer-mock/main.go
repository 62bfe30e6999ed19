// Command transfer-mock stands in for the signing agent's transfer endpoint
// during local runs.
package main

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"
)

type TransferResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	errorRate   = 0.5
	contentType = "application/json"
	addr        = ":8090"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /always-success/transfers", alwaysSuccessHandler)
	mux.HandleFunc("POST /success-delayed/transfers", successDelayedHandler)
	mux.HandleFunc("POST /always-fail/transfers", alwaysFailHandler)
	mux.HandleFunc("POST /random-fail/transfers", randomFailHandler)

	logger.Info("Starting transfer mock", "addr", addr)
	if err := http.ListenAndServe(addr, countMiddleware(loggingMiddleware(newIdempotencyTracker(), mux))); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func alwaysSuccessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TransferResponse{Success: true})
}

func successDelayedHandler(w http.ResponseWriter, _ *http.Request) {
	delay := time.Duration(3+rand.IntN(6)) * time.Second
	time.Sleep(delay)
	writeJSON(w, http.StatusOK, TransferResponse{Success: true})
}

func alwaysFailHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusPaymentRequired, ErrorResponse{Error: "insufficient funds"})
}

func randomFailHandler(w http.ResponseWriter, _ *http.Request) {
	if rand.Float64() < errorRate {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
