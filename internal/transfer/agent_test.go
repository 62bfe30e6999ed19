package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"

	"payment-gateway/internal/ledger"
)

func TestAgent_TransferBatch(t *testing.T) {
	legs := []ledger.Leg{
		{From: "customer", To: "merchant", Amount: 975000, Memo: "payment 1"},
		{From: "customer", To: "platform", Amount: 25000, Memo: "payment 1 fee"},
	}

	tests := []struct {
		name           string
		mockResponse   func()
		expectedError  bool
		declined       bool
		expectedErrMsg string
	}{
		{
			name: "Success",
			mockResponse: func() {
				gock.New("http://agent.local").
					Post("/always-success/transfers").
					MatchHeader("Content-Type", "application/json").
					HeaderPresent("Idempotency-Key").
					Reply(200).
					JSON(map[string]string{"status": "ok"})
			},
		},
		{
			name: "Declined",
			mockResponse: func() {
				gock.New("http://agent.local").
					Post("/always-success/transfers").
					Reply(402).
					JSON(map[string]string{"error": "insufficient funds"})
			},
			expectedError: true,
			declined:      true,
		},
		{
			name: "Error",
			mockResponse: func() {
				gock.New("http://agent.local").
					Post("/always-success/transfers").
					Reply(500).
					JSON(map[string]string{"error": "internal server error"})
			},
			expectedError:  true,
			expectedErrMsg: "500",
		},
		{
			name: "Timeout",
			mockResponse: func() {
				gock.New("http://agent.local").
					Post("/always-success/transfers").
					Reply(200).
					Delay(2 * time.Second)
			},
			expectedError:  true,
			expectedErrMsg: "Client.Timeout exceeded",
		},
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mockResponse()

			agent := NewAgent("http://agent.local/always-success/", 200*time.Millisecond, logger)

			err := agent.TransferBatch(context.Background(), legs)
			if tt.expectedError {
				assert.Error(t, err)
				assert.Equal(t, tt.declined, errors.Is(err, ErrDeclined))
				if tt.expectedErrMsg != "" {
					assert.Contains(t, err.Error(), tt.expectedErrMsg)
				}
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, gock.IsDone())
		})
	}
}
