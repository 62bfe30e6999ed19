package api_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/api"
	"payment-gateway/internal/ledger"
	"payment-gateway/internal/memory"
	"payment-gateway/internal/transfer"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	bank := transfer.NewBank()
	require.NoError(t, bank.Mint("customer", 1_000_000))
	// covers the fee a merchant hands back on a full refund
	require.NoError(t, bank.Mint("merchant", 2_500))

	l, err := ledger.New(memory.NewStore(), bank, ledger.Options{
		Owner:    "owner",
		Platform: "platform",
		FeeRate:  ledger.DefaultFeeRate,
		Logger:   logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewHandler(l, logger))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, caller, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if caller != "" {
		req.Header.Set(api.PrincipalHeader, caller)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

const createBody = `{"amount":100000,"currency":"STX","description":"order","metadata":"{}","clientReference":"order-1"}`

func TestAPI_PaymentLifecycle(t *testing.T) {
	srv := newServer(t)

	status, body := call(t, srv, http.MethodGet, "/payments/next-id", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["nextId"])

	status, body = call(t, srv, http.MethodPost, "/payments", "merchant", createBody)
	require.Equal(t, http.StatusCreated, status)
	assert.EqualValues(t, 1, body["id"])

	status, body = call(t, srv, http.MethodGet, "/payments/1", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "created", body["status"])
	assert.Equal(t, "merchant", body["merchant"])

	status, body = call(t, srv, http.MethodGet, "/payments?merchant=merchant&reference=order-1", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["id"])

	status, _ = call(t, srv, http.MethodPost, "/payments/1/process", "customer", `{"customer":"customer"}`)
	require.Equal(t, http.StatusOK, status)

	status, body = call(t, srv, http.MethodPost, "/payments/1/process", "customer", `{"customer":"customer"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_processed", body["code"])

	status, body = call(t, srv, http.MethodGet, "/payments/1", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "settled", body["status"])
	assert.EqualValues(t, 2500, body["fee"])

	status, _ = call(t, srv, http.MethodPost, "/payments/1/refund", "merchant", "")
	assert.Equal(t, http.StatusOK, status)

	status, body = call(t, srv, http.MethodPost, "/payments/1/refund", "merchant", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", body["code"])
}

func TestAPI_Errors(t *testing.T) {
	srv := newServer(t)
	status, _ := call(t, srv, http.MethodPost, "/payments", "merchant", createBody)
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   string
		status int
		code   string
	}{
		{"duplicate reference", http.MethodPost, "/payments", "merchant", createBody, http.StatusConflict, "duplicate_reference"},
		{"zero amount", http.MethodPost, "/payments", "merchant", `{"amount":0,"currency":"STX","clientReference":"x"}`, http.StatusBadRequest, "invalid_amount"},
		{"missing description", http.MethodPost, "/payments", "merchant", `{"amount":5,"currency":"STX","clientReference":"x"}`, http.StatusBadRequest, "invalid_input"},
		{"missing currency", http.MethodPost, "/payments", "merchant", `{"amount":5,"clientReference":"x"}`, http.StatusBadRequest, "invalid_input"},
		{"malformed body", http.MethodPost, "/payments", "merchant", `{`, http.StatusBadRequest, "invalid_input"},
		{"anonymous create", http.MethodPost, "/payments", "", createBody, http.StatusUnauthorized, "not_authorized"},
		{"unknown payment", http.MethodGet, "/payments/42", "", "", http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/payments/abc", "", "", http.StatusBadRequest, "invalid_input"},
		{"unknown reference", http.MethodGet, "/payments?merchant=merchant&reference=nope", "", "", http.StatusNotFound, "not_found"},
		{"missing query", http.MethodGet, "/payments?merchant=merchant", "", "", http.StatusBadRequest, "invalid_input"},
		{"process by stranger", http.MethodPost, "/payments/1/process", "mallory", `{"customer":"customer"}`, http.StatusUnauthorized, "not_authorized"},
		{"refund unsettled", http.MethodPost, "/payments/1/refund", "merchant", "", http.StatusConflict, "invalid_state"},
		{"broke customer", http.MethodPost, "/payments/1/process", "pauper", `{"customer":"pauper"}`, http.StatusBadGateway, "transfer_failed"},
		{"set fee by stranger", http.MethodPut, "/fees", "mallory", `{"rateBps":300}`, http.StatusUnauthorized, "not_authorized"},
		{"fee above ceiling", http.MethodPut, "/fees", "owner", `{"rateBps":1001}`, http.StatusBadRequest, "invalid_rate"},
		{"bad preview amount", http.MethodGet, "/fees/preview?amount=-1", "", "", http.StatusBadRequest, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, srv, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAPI_Fees(t *testing.T) {
	srv := newServer(t)

	status, body := call(t, srv, http.MethodGet, "/fees", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 250, body["rateBps"])
	assert.EqualValues(t, 1000, body["maxRateBps"])

	status, body = call(t, srv, http.MethodPut, "/fees", "owner", `{"rateBps":300}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 300, body["rateBps"])

	status, body = call(t, srv, http.MethodGet, fmt.Sprintf("/fees/preview?amount=%d", 1_000_000), "", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 30_000, body["fee"])
	assert.EqualValues(t, 970_000, body["net"])
}

func TestAPI_LivenessAndMetrics(t *testing.T) {
	srv := newServer(t)

	status, _ := call(t, srv, http.MethodGet, "/liveness", "", "")
	assert.Equal(t, http.StatusOK, status)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, api.StatusCode(assert.AnError))
	assert.Equal(t, http.StatusBadRequest, api.StatusCode(ledger.ErrArithmeticOverflow))
	assert.Equal(t, http.StatusConflict, api.StatusCode(ledger.ErrDuplicateReference))
}
