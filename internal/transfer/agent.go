package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"payment-gateway/internal/ledger"
)

// ErrDeclined means the agent refused the transfer, as opposed to failing to answer.
var ErrDeclined = errors.New("transfer declined")

var (
	agentSuccessCounter  = metrics.GetOrCreateCounter(`transfer_agent_requests_total{result="success"}`)
	agentDeclinedCounter = metrics.GetOrCreateCounter(`transfer_agent_requests_total{result="declined"}`)
	agentErrorCounter    = metrics.GetOrCreateCounter(`transfer_agent_requests_total{result="error"}`)

	agentDurationHistogram = metrics.GetOrCreateHistogram(`transfer_agent_request_duration_milliseconds`)
)

type transferRequest struct {
	ID   uuid.UUID    `json:"id"`
	Legs []ledger.Leg `json:"legs"`
}

// Agent submits transfers to the external signing agent over HTTP. All legs
// of a call travel in one request that the agent applies atomically.
type Agent struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func NewAgent(url string, timeout time.Duration, logger *slog.Logger) *Agent {
	return &Agent{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(url, "/") + "/transfers",
		logger: logger,
	}
}

func (a *Agent) Transfer(ctx context.Context, leg ledger.Leg) error {
	return a.TransferBatch(ctx, []ledger.Leg{leg})
}

func (a *Agent) TransferBatch(ctx context.Context, legs []ledger.Leg) error {
	startTime := time.Now()
	defer func() {
		agentDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	id := uuid.New()
	payload, err := json.Marshal(transferRequest{ID: id, Legs: legs})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewBuffer(payload))
	if err != nil {
		agentErrorCounter.Inc()
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", id.String())

	a.logger.DebugContext(ctx, "Sending transfer request", "url", a.url, "transferId", id, "legs", len(legs))

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.ErrorContext(ctx, "Error sending transfer request", "transferId", id, "error", err)
		agentErrorCounter.Inc()
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		agentErrorCounter.Inc()
		return err
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		a.logger.InfoContext(ctx, "Transfer declined", "transferId", id, "status", resp.Status, "body", string(respBody))
		agentDeclinedCounter.Inc()
		return fmt.Errorf("%w: %s", ErrDeclined, resp.Status)
	case resp.StatusCode >= 400:
		a.logger.ErrorContext(ctx, "Received error response", "transferId", id, "status", resp.Status, "body", string(respBody))
		agentErrorCounter.Inc()
		return fmt.Errorf("error response: %s", resp.Status)
	}

	agentSuccessCounter.Inc()
	a.logger.InfoContext(ctx, "Transfer accepted", "transferId", id, "legs", len(legs))
	return nil
}
