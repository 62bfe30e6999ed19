package ledger

import (
	"time"
)

// Principal is an opaque caller identity (merchant, customer, owner or platform).
type Principal string

func (p Principal) String() string {
	return string(p)
}

func (p Principal) IsZero() bool {
	return p == ""
}

type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusSettled    Status = "settled"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusSettled, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// PaymentIntent is a merchant's request for a fixed amount from a customer
// that is not known until the intent is settled.
type PaymentIntent struct {
	ID              uint64     `json:"id"`
	Merchant        Principal  `json:"merchant"`
	Customer        Principal  `json:"customer,omitempty"`
	Amount          uint64     `json:"amount"`
	Currency        string     `json:"currency"`
	Description     string     `json:"description"`
	Metadata        string     `json:"metadata"`
	ClientReference string     `json:"clientReference"`
	Status          Status     `json:"status"`
	Fee             uint64     `json:"fee"`
	CreatedAt       time.Time  `json:"createdAt"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	RefundedAt      *time.Time `json:"refundedAt,omitempty"`
}

// Clone returns a copy that shares no pointers with p.
func (p PaymentIntent) Clone() PaymentIntent {
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		p.ProcessedAt = &t
	}
	if p.RefundedAt != nil {
		t := *p.RefundedAt
		p.RefundedAt = &t
	}
	return p
}

// Net is the part of the amount the merchant keeps after the platform fee.
func (p PaymentIntent) Net() uint64 {
	return p.Amount - p.Fee
}

type CreateRequest struct {
	Amount          uint64 `json:"amount"`
	Currency        string `json:"currency"`
	Description     string `json:"description"`
	Metadata        string `json:"metadata"`
	ClientReference string `json:"clientReference"`
}
