package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"payment-gateway/internal/ledger"
)

type eventRecord struct {
	ID              uuid.UUID        `json:"id"`
	Type            ledger.EventType `json:"type"`
	PaymentID       uint64           `json:"paymentId"`
	Payload         json.RawMessage  `json:"payload"`
	CreatedAt       time.Time        `json:"createdAt"`
	ScheduledAt     *time.Time       `json:"scheduledAt,omitempty"`
	PublishedAt     *time.Time       `json:"publishedAt,omitempty"`
	PublishAttempts int              `json:"publishAttempts"`
	Error           *string          `json:"error,omitempty"`
}

func toRecord(e ledger.Event) eventRecord {
	return eventRecord{
		ID:              e.ID,
		Type:            e.Type,
		PaymentID:       e.PaymentID,
		Payload:         e.Payload,
		CreatedAt:       e.CreatedAt,
		ScheduledAt:     e.ScheduledAt,
		PublishedAt:     e.PublishedAt,
		PublishAttempts: e.PublishAttempts,
		Error:           e.Error,
	}
}

func (r eventRecord) toEvent() ledger.Event {
	return ledger.Event{
		ID:              r.ID,
		Type:            r.Type,
		PaymentID:       r.PaymentID,
		Payload:         []byte(r.Payload),
		CreatedAt:       r.CreatedAt,
		ScheduledAt:     r.ScheduledAt,
		PublishedAt:     r.PublishedAt,
		PublishAttempts: r.PublishAttempts,
		Error:           r.Error,
	}
}

func (s *Store) PendingEvents(_ context.Context, now time.Time, limit int) ([]ledger.Event, error) {
	var events []ledger.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(eventsBucket)
		c := tx.Bucket(pendingBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if int64(binary.BigEndian.Uint64(k[:8])) > now.UnixNano() {
				break
			}
			if limit > 0 && len(events) >= limit {
				break
			}
			record, err := getRecord(records, k[16:])
			if err != nil {
				return err
			}
			events = append(events, record.toEvent())
		}
		return nil
	})
	return events, err
}

func (s *Store) UpdateEvents(_ context.Context, events []ledger.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(eventsBucket)
		pending := tx.Bucket(pendingBucket)

		for _, event := range events {
			stored, err := getRecord(records, event.ID[:])
			if err != nil {
				return err
			}
			if stored.ScheduledAt != nil && stored.PublishedAt == nil {
				if err := pending.Delete(pendingKey(*stored.ScheduledAt, stored.CreatedAt, stored.ID)); err != nil {
					return errors.Wrap(err, "delete pending index")
				}
			}
			if err := putEvent(tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

func putEvent(tx *bolt.Tx, event ledger.Event) error {
	v, err := json.Marshal(toRecord(event))
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := tx.Bucket(eventsBucket).Put(event.ID[:], v); err != nil {
		return errors.Wrap(err, "put event")
	}
	if event.Pending() {
		key := pendingKey(*event.ScheduledAt, event.CreatedAt, event.ID)
		if err := tx.Bucket(pendingBucket).Put(key, []byte{}); err != nil {
			return errors.Wrap(err, "put pending index")
		}
	}
	return nil
}

func getRecord(b *bolt.Bucket, id []byte) (eventRecord, error) {
	v := b.Get(id)
	if v == nil {
		return eventRecord{}, errors.Wrapf(ledger.ErrNotFound, "event %x", id)
	}
	var record eventRecord
	if err := json.Unmarshal(v, &record); err != nil {
		return eventRecord{}, errors.Wrap(err, "decode event")
	}
	return record, nil
}
