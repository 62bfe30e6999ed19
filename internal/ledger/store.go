package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCreated  EventType = "payment.created"
	EventSettled  EventType = "payment.settled"
	EventRefunded EventType = "payment.refunded"
)

// Event is an outbox record appended in the same transaction as the state
// change it describes.
type Event struct {
	ID              uuid.UUID
	Type            EventType
	PaymentID       uint64
	Payload         []byte
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}

// NewEvent snapshots intent as the event payload and schedules it for now.
func NewEvent(eventType EventType, intent PaymentIntent, at time.Time) (Event, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return Event{}, err
	}
	scheduledAt := at
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		PaymentID:   intent.ID,
		Payload:     payload,
		CreatedAt:   at,
		ScheduledAt: &scheduledAt,
	}, nil
}

// Clone returns a copy that shares no mutable state with e.
func (e Event) Clone() Event {
	e.Payload = append([]byte(nil), e.Payload...)
	if e.ScheduledAt != nil {
		t := *e.ScheduledAt
		e.ScheduledAt = &t
	}
	if e.PublishedAt != nil {
		t := *e.PublishedAt
		e.PublishedAt = &t
	}
	if e.Error != nil {
		msg := *e.Error
		e.Error = &msg
	}
	return e
}

// Pending reports whether the event still waits for a publish attempt.
func (e Event) Pending() bool {
	return e.PublishedAt == nil && e.ScheduledAt != nil
}

// EventFunc builds the event for an intent once the store has assigned its id.
type EventFunc func(intent PaymentIntent) (Event, error)

// MutateFunc receives the current record under the store's per-intent lock and
// returns the record to commit plus its event. A non-nil error aborts the
// mutation. It must not call back into the store.
type MutateFunc func(ctx context.Context, current PaymentIntent) (PaymentIntent, Event, error)

// Store is the authoritative id -> intent mapping together with the
// (merchant, client reference) index and the id counter.
type Store interface {
	// Insert assigns the next id to intent and writes it, its reference
	// index entry and the announced event atomically. It returns
	// ErrDuplicateReference without advancing the counter if the merchant
	// already used the reference.
	Insert(ctx context.Context, intent PaymentIntent, announce EventFunc) (PaymentIntent, error)
	Get(ctx context.Context, id uint64) (PaymentIntent, error)
	GetByReference(ctx context.Context, merchant Principal, reference string) (PaymentIntent, error)
	// NextID is the id the next Insert will assign.
	NextID(ctx context.Context) (uint64, error)
	Mutate(ctx context.Context, id uint64, fn MutateFunc) (PaymentIntent, error)
	FeeRate(ctx context.Context) (BasisPoints, error)
	SetFeeRate(ctx context.Context, bps BasisPoints) error
}

// Outbox exposes the events appended by a Store to the publisher.
type Outbox interface {
	// PendingEvents returns up to limit unpublished events scheduled at or
	// before now, oldest schedule first.
	PendingEvents(ctx context.Context, now time.Time, limit int) ([]Event, error)
	UpdateEvents(ctx context.Context, events []Event) error
}

// ReferenceKey encodes (merchant, reference) into a single unambiguous key.
func ReferenceKey(merchant Principal, reference string) string {
	return fmt.Sprintf("%d:%s#%s", len(merchant), merchant, reference)
}
