package dynamo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payment-gateway/internal/ledger"
)

const (
	stateKey      = "LEDGER#state"
	pendingOutbox = "pending"
)

type item = map[string]types.AttributeValue

func paymentKey(id uint64) string {
	return "PAYMENT#" + strconv.FormatUint(id, 10)
}

func referenceKey(merchant ledger.Principal, reference string) string {
	return "REF#" + ledger.ReferenceKey(merchant, reference)
}

func eventKey(id uuid.UUID) string {
	return "EVENT#" + id.String()
}

func key(pk string) item {
	return item{attrPK: str(pk)}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num[T ~int | ~int64 | ~uint32 | ~uint64](v T) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprint(v)}
}

func setTime(it item, name string, t *time.Time) {
	if t != nil {
		it[name] = num(t.UnixNano())
	}
}

func intentItem(p ledger.PaymentIntent) item {
	it := item{
		attrPK:             str(paymentKey(p.ID)),
		"id":               num(p.ID),
		"merchant":         str(p.Merchant.String()),
		"amount":           num(p.Amount),
		"currency":         str(p.Currency),
		"description":      str(p.Description),
		"metadata":         str(p.Metadata),
		"client_reference": str(p.ClientReference),
		"status":           str(string(p.Status)),
		"fee":              num(p.Fee),
		"created_at":       num(p.CreatedAt.UnixNano()),
	}
	if !p.Customer.IsZero() {
		it["customer"] = str(p.Customer.String())
	}
	setTime(it, "processed_at", p.ProcessedAt)
	setTime(it, "refunded_at", p.RefundedAt)
	return it
}

func decodeIntent(it item) (ledger.PaymentIntent, error) {
	var (
		p   ledger.PaymentIntent
		err error
	)
	if p.ID, err = getUint(it, "id"); err != nil {
		return p, err
	}
	if p.Amount, err = getUint(it, "amount"); err != nil {
		return p, err
	}
	if p.Fee, err = getUint(it, "fee"); err != nil {
		return p, err
	}
	createdAt, err := getTime(it, "created_at")
	if err != nil {
		return p, err
	}
	if createdAt == nil {
		return p, errors.Errorf("payment item %s has no created_at", getString(it, attrPK))
	}
	p.CreatedAt = *createdAt
	if p.ProcessedAt, err = getTime(it, "processed_at"); err != nil {
		return p, err
	}
	if p.RefundedAt, err = getTime(it, "refunded_at"); err != nil {
		return p, err
	}

	p.Merchant = ledger.Principal(getString(it, "merchant"))
	p.Customer = ledger.Principal(getString(it, "customer"))
	p.Currency = getString(it, "currency")
	p.Description = getString(it, "description")
	p.Metadata = getString(it, "metadata")
	p.ClientReference = getString(it, "client_reference")
	p.Status = ledger.Status(getString(it, "status"))
	return p, nil
}

// outboxSort orders pending events by schedule, then creation time.
func outboxSort(scheduledAt, createdAt time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%020d#%020d#%s", scheduledAt.UnixNano(), createdAt.UnixNano(), id)
}

func eventItem(e ledger.Event) item {
	it := item{
		attrPK:             str(eventKey(e.ID)),
		"event_id":         str(e.ID.String()),
		"event_type":       str(string(e.Type)),
		"payment_id":       num(e.PaymentID),
		"payload":          &types.AttributeValueMemberB{Value: e.Payload},
		"created_at":       num(e.CreatedAt.UnixNano()),
		"publish_attempts": num(e.PublishAttempts),
	}
	setTime(it, "scheduled_at", e.ScheduledAt)
	setTime(it, "published_at", e.PublishedAt)
	if e.Error != nil {
		it["error"] = str(*e.Error)
	}
	if e.Pending() {
		it[attrOutbox] = str(pendingOutbox)
		it[attrOutboxSort] = str(outboxSort(*e.ScheduledAt, e.CreatedAt, e.ID))
	}
	return it
}

func decodeEvent(it item) (ledger.Event, error) {
	var (
		e   ledger.Event
		err error
	)
	if e.ID, err = uuid.Parse(getString(it, "event_id")); err != nil {
		return e, errors.Wrap(err, "parse event id")
	}
	if e.PaymentID, err = getUint(it, "payment_id"); err != nil {
		return e, err
	}
	attempts, err := getUint(it, "publish_attempts")
	if err != nil {
		return e, err
	}
	e.PublishAttempts = int(attempts)
	createdAt, err := getTime(it, "created_at")
	if err != nil {
		return e, err
	}
	if createdAt != nil {
		e.CreatedAt = *createdAt
	}
	if e.ScheduledAt, err = getTime(it, "scheduled_at"); err != nil {
		return e, err
	}
	if e.PublishedAt, err = getTime(it, "published_at"); err != nil {
		return e, err
	}
	if v, ok := it["payload"].(*types.AttributeValueMemberB); ok {
		e.Payload = v.Value
	}
	if v, ok := it["error"].(*types.AttributeValueMemberS); ok {
		msg := v.Value
		e.Error = &msg
	}
	e.Type = ledger.EventType(getString(it, "event_type"))
	return e, nil
}

func getString(it item, name string) string {
	if v, ok := it[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getUint(it item, name string) (uint64, error) {
	v, ok := it[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v.Value, 10, 64)
	return n, errors.Wrapf(err, "parse %s", name)
}

func getTime(it item, name string) (*time.Time, error) {
	v, ok := it[name].(*types.AttributeValueMemberN)
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	t := time.Unix(0, n).UTC()
	return &t, nil
}
