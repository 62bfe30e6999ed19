package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"payment-gateway/internal/ledger"
	"payment-gateway/internal/logcontext"
	"payment-gateway/internal/metrics"
)

// PrincipalHeader carries the caller identity asserted by the signing agent
// in front of the gateway.
const PrincipalHeader = "X-Principal"

const contentType = "application/json"

// Ledger is the part of *ledger.Ledger the API exposes.
type Ledger interface {
	Create(ctx context.Context, caller ledger.Principal, req ledger.CreateRequest) (uint64, error)
	Process(ctx context.Context, id uint64, customer, caller ledger.Principal) (uint64, error)
	Refund(ctx context.Context, id uint64, caller ledger.Principal) (uint64, error)
	Get(ctx context.Context, id uint64) (ledger.PaymentIntent, error)
	GetByReference(ctx context.Context, merchant ledger.Principal, reference string) (ledger.PaymentIntent, error)
	NextID(ctx context.Context) (uint64, error)
	FeeRate(ctx context.Context) (ledger.BasisPoints, error)
	SetFeeRate(ctx context.Context, bps ledger.BasisPoints, caller ledger.Principal) (ledger.BasisPoints, error)
	CalculateFee(ctx context.Context, amount uint64) (uint64, error)
}

type IDResponse struct {
	ID uint64 `json:"id"`
}

type ProcessRequest struct {
	Customer string `json:"customer"`
}

type FeeRateRequest struct {
	RateBps uint32 `json:"rateBps"`
}

type FeeRateResponse struct {
	RateBps    uint32 `json:"rateBps"`
	MaxRateBps uint32 `json:"maxRateBps"`
}

type FeePreviewResponse struct {
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
	Net    uint64 `json:"net"`
}

type NextIDResponse struct {
	NextID uint64 `json:"nextId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewHandler returns the gateway routes wrapped with request logging.
func NewHandler(l Ledger, logger *slog.Logger) http.Handler {
	h := &Handler{ledger: l, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /payments", h.create)
	mux.HandleFunc("GET /payments", h.findByReference)
	mux.HandleFunc("GET /payments/next-id", h.nextID)
	mux.HandleFunc("GET /payments/{id}", h.get)
	mux.HandleFunc("POST /payments/{id}/process", h.process)
	mux.HandleFunc("POST /payments/{id}/refund", h.refund)

	mux.HandleFunc("GET /fees", h.feeRate)
	mux.HandleFunc("PUT /fees", h.setFeeRate)
	mux.HandleFunc("GET /fees/preview", h.feePreview)

	return h.loggingMiddleware(mux)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}

	id, err := h.ledger.Create(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	intent, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (h *Handler) findByReference(w http.ResponseWriter, r *http.Request) {
	merchant := r.URL.Query().Get("merchant")
	reference := r.URL.Query().Get("reference")
	if merchant == "" || reference == "" {
		h.badRequest(w, r, "merchant and reference are required")
		return
	}

	intent, err := h.ledger.GetByReference(r.Context(), ledger.Principal(merchant), reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (h *Handler) nextID(w http.ResponseWriter, r *http.Request) {
	next, err := h.ledger.NextID(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NextIDResponse{NextID: next})
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}

	id, err := h.ledger.Process(r.Context(), id, ledger.Principal(req.Customer), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IDResponse{ID: id})
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	id, err := h.ledger.Refund(r.Context(), id, principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IDResponse{ID: id})
}

func (h *Handler) feeRate(w http.ResponseWriter, r *http.Request) {
	bps, err := h.ledger.FeeRate(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FeeRateResponse{RateBps: uint32(bps), MaxRateBps: uint32(ledger.MaxFeeRate)})
}

func (h *Handler) setFeeRate(w http.ResponseWriter, r *http.Request) {
	var req FeeRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}

	bps, err := h.ledger.SetFeeRate(r.Context(), ledger.BasisPoints(req.RateBps), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FeeRateResponse{RateBps: uint32(bps), MaxRateBps: uint32(ledger.MaxFeeRate)})
}

func (h *Handler) feePreview(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		h.badRequest(w, r, "amount must be an unsigned integer")
		return
	}

	fee, err := h.ledger.CalculateFee(r.Context(), amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FeePreviewResponse{Amount: amount, Fee: fee, Net: amount - fee})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		h.badRequest(w, r, "payment id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	h.logger.WarnContext(r.Context(), "Bad request", "error", msg)
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: ledger.KindCode(ledger.ErrInvalidInput)})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: ledger.KindCode(err)})
}

// StatusCode maps a ledger error kind to its HTTP status.
func StatusCode(err error) int {
	switch ledger.KindOf(err) {
	case ledger.ErrDuplicateReference, ledger.ErrAlreadyProcessed, ledger.ErrInvalidState:
		return http.StatusConflict
	case ledger.ErrInvalidInput, ledger.ErrInvalidAmount, ledger.ErrInvalidRate, ledger.ErrArithmeticOverflow:
		return http.StatusBadRequest
	case ledger.ErrNotAuthorized:
		return http.StatusUnauthorized
	case ledger.ErrNotFound:
		return http.StatusNotFound
	case ledger.ErrTransferFailed:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

func principal(r *http.Request) ledger.Principal {
	return ledger.Principal(r.Header.Get(PrincipalHeader))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := logcontext.AppendCtx(r.Context(), slog.String("requestId", requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if r.URL.Path == "/liveness" || r.URL.Path == "/metrics" {
			return
		}
		h.logger.InfoContext(ctx, "Handled request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
