package dynamo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/ledger"
)

func TestIntentItemRoundTrip(t *testing.T) {
	processedAt := time.Date(2024, 3, 1, 12, 5, 0, 123000, time.UTC)
	intent := ledger.PaymentIntent{
		ID:              42,
		Merchant:        "merchant",
		Customer:        "customer",
		Amount:          1<<63 - 1,
		Currency:        "STX",
		Description:     "",
		Metadata:        `{"a":1}`,
		ClientReference: "order-42",
		Status:          ledger.StatusSettled,
		Fee:             25,
		CreatedAt:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ProcessedAt:     &processedAt,
	}

	it := intentItem(intent)
	assert.Equal(t, "PAYMENT#42", getString(it, attrPK))
	assert.NotContains(t, it, "refunded_at")

	decoded, err := decodeIntent(it)
	require.NoError(t, err)
	assert.Equal(t, intent, decoded)
}

func TestEventItemIsSparse(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	event, err := ledger.NewEvent(ledger.EventCreated, ledger.PaymentIntent{ID: 1}, at)
	require.NoError(t, err)

	pending := eventItem(event)
	assert.Equal(t, pendingOutbox, getString(pending, attrOutbox))
	assert.Equal(t, outboxSort(at, at, event.ID), getString(pending, attrOutboxSort))

	event.ScheduledAt = nil
	event.PublishedAt = &at
	published := eventItem(event)
	assert.NotContains(t, published, attrOutbox)
	assert.NotContains(t, published, attrOutboxSort)

	decoded, err := decodeEvent(published)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.Payload, decoded.Payload)
	assert.Nil(t, decoded.ScheduledAt)
}

func TestOutboxSortOrdersBySchedule(t *testing.T) {
	early := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	late := early.Add(time.Nanosecond)
	event, err := ledger.NewEvent(ledger.EventCreated, ledger.PaymentIntent{ID: 1}, early)
	require.NoError(t, err)

	assert.Less(t, outboxSort(early, late, event.ID), outboxSort(late, early, event.ID))
}
