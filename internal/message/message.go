package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is published to the payment-events topic for every committed
// ledger change. Consumers dedupe on ID.
type PaymentEvent struct {
	ID         uuid.UUID       `json:"id"`
	Event      string          `json:"event"`
	PaymentID  uint64          `json:"paymentId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Attempts   int             `json:"attempts"`
	Payload    json.RawMessage `json:"payload"`
}

type CommandType string

const (
	CommandCreate  CommandType = "create"
	CommandProcess CommandType = "process"
	CommandRefund  CommandType = "refund"
)

// Command is read from the payment-commands topic. Caller is the principal
// asserted by the upstream signing agent.
type Command struct {
	ID              uuid.UUID   `json:"id"`
	Type            CommandType `json:"type"`
	Caller          string      `json:"caller"`
	PaymentID       uint64      `json:"paymentId,omitempty"`
	Customer        string      `json:"customer,omitempty"`
	Amount          uint64      `json:"amount,omitempty"`
	Currency        string      `json:"currency,omitempty"`
	Description     string      `json:"description,omitempty"`
	Metadata        string      `json:"metadata,omitempty"`
	ClientReference string      `json:"clientReference,omitempty"`
}
