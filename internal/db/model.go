package db

import (
	"time"

	"github.com/google/uuid"

	"payment-gateway/internal/ledger"
)

type PaymentIntentEntity struct {
	ID              int64
	Merchant        string
	Customer        *string
	Amount          int64
	Currency        string
	Description     string
	Metadata        string
	ClientReference string
	Status          string
	Fee             int64
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	RefundedAt      *time.Time
}

func toEntity(p ledger.PaymentIntent) PaymentIntentEntity {
	entity := PaymentIntentEntity{
		ID:              int64(p.ID),
		Merchant:        p.Merchant.String(),
		Amount:          int64(p.Amount),
		Currency:        p.Currency,
		Description:     p.Description,
		Metadata:        p.Metadata,
		ClientReference: p.ClientReference,
		Status:          string(p.Status),
		Fee:             int64(p.Fee),
		CreatedAt:       p.CreatedAt,
		ProcessedAt:     p.ProcessedAt,
		RefundedAt:      p.RefundedAt,
	}
	if !p.Customer.IsZero() {
		customer := p.Customer.String()
		entity.Customer = &customer
	}
	return entity
}

func (e PaymentIntentEntity) toIntent() ledger.PaymentIntent {
	intent := ledger.PaymentIntent{
		ID:              uint64(e.ID),
		Merchant:        ledger.Principal(e.Merchant),
		Amount:          uint64(e.Amount),
		Currency:        e.Currency,
		Description:     e.Description,
		Metadata:        e.Metadata,
		ClientReference: e.ClientReference,
		Status:          ledger.Status(e.Status),
		Fee:             uint64(e.Fee),
		CreatedAt:       e.CreatedAt.UTC(),
		ProcessedAt:     utc(e.ProcessedAt),
		RefundedAt:      utc(e.RefundedAt),
	}
	if e.Customer != nil {
		intent.Customer = ledger.Principal(*e.Customer)
	}
	return intent
}

type OutboxEntity struct {
	ID              uuid.UUID
	EventType       string
	PaymentID       int64
	Payload         []byte
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}

func (e OutboxEntity) toEvent() ledger.Event {
	return ledger.Event{
		ID:              e.ID,
		Type:            ledger.EventType(e.EventType),
		PaymentID:       uint64(e.PaymentID),
		Payload:         e.Payload,
		CreatedAt:       e.CreatedAt.UTC(),
		ScheduledAt:     utc(e.ScheduledAt),
		PublishedAt:     utc(e.PublishedAt),
		PublishAttempts: e.PublishAttempts,
		Error:           e.Error,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
