// Package boltdb is the ledger store on top of a BoltDB file. Bolt allows a
// single writer, so every mutation is serialized.
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

var (
	intentsBucket    = []byte("payment_intents")
	referencesBucket = []byte("payment_references")
	stateBucket      = []byte("ledger_state")
	eventsBucket     = []byte("outbox_events")
	pendingBucket    = []byte("outbox_pending")

	feeRateKey = []byte("fee_rate_bps")
)

type Store struct {
	db *bolt.DB
}

func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{intentsBucket, referencesBucket, stateBucket, eventsBucket, pendingBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, intent ledger.PaymentIntent, announce ledger.EventFunc) (ledger.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return ledger.PaymentIntent{}, err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		refs := tx.Bucket(referencesBucket)
		refKey := []byte(ledger.ReferenceKey(intent.Merchant, intent.ClientReference))
		if refs.Get(refKey) != nil {
			return ledger.ErrDuplicateReference
		}

		intents := tx.Bucket(intentsBucket)
		seq, err := intents.NextSequence()
		if err != nil {
			return errors.Wrap(err, "next sequence")
		}
		intent.ID = seq

		event, err := announce(intent)
		if err != nil {
			return err
		}

		if err := putIntent(intents, intent); err != nil {
			return err
		}
		if err := refs.Put(refKey, itob(intent.ID)); err != nil {
			return errors.Wrap(err, "put reference")
		}
		return putEvent(tx, event)
	})
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	return intent, nil
}

func (s *Store) Get(_ context.Context, id uint64) (ledger.PaymentIntent, error) {
	var intent ledger.PaymentIntent
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		intent, err = getIntent(tx.Bucket(intentsBucket), id)
		return err
	})
	return intent, err
}

func (s *Store) GetByReference(_ context.Context, merchant ledger.Principal, reference string) (ledger.PaymentIntent, error) {
	var intent ledger.PaymentIntent
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(referencesBucket).Get([]byte(ledger.ReferenceKey(merchant, reference)))
		if id == nil {
			return ledger.ErrNotFound
		}
		var err error
		intent, err = getIntent(tx.Bucket(intentsBucket), binary.BigEndian.Uint64(id))
		return err
	})
	return intent, err
}

func (s *Store) NextID(_ context.Context) (uint64, error) {
	var next uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		next = tx.Bucket(intentsBucket).Sequence() + 1
		return nil
	})
	return next, err
}

func (s *Store) Mutate(ctx context.Context, id uint64, fn ledger.MutateFunc) (ledger.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return ledger.PaymentIntent{}, err
	}

	var updated ledger.PaymentIntent
	err := s.db.Update(func(tx *bolt.Tx) error {
		intents := tx.Bucket(intentsBucket)
		current, err := getIntent(intents, id)
		if err != nil {
			return err
		}

		var event ledger.Event
		updated, event, err = fn(ctx, current)
		if err != nil {
			return err
		}
		if updated.ID != id {
			return errors.Errorf("mutation changed payment id %d to %d", id, updated.ID)
		}

		if err := putIntent(intents, updated); err != nil {
			return err
		}
		return putEvent(tx, event)
	})
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	return updated, nil
}

func (s *Store) FeeRate(_ context.Context) (ledger.BasisPoints, error) {
	var bps ledger.BasisPoints
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stateBucket).Get(feeRateKey)
		if v == nil {
			return ledger.ErrFeeRateUnset
		}
		bps = ledger.BasisPoints(binary.BigEndian.Uint32(v))
		return nil
	})
	return bps, err
}

func (s *Store) SetFeeRate(_ context.Context, bps ledger.BasisPoints) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, uint32(bps))
		return errors.Wrap(tx.Bucket(stateBucket).Put(feeRateKey, v), "put fee rate")
	})
}

func getIntent(b *bolt.Bucket, id uint64) (ledger.PaymentIntent, error) {
	v := b.Get(itob(id))
	if v == nil {
		return ledger.PaymentIntent{}, ledger.ErrNotFound
	}
	var intent ledger.PaymentIntent
	if err := json.Unmarshal(v, &intent); err != nil {
		return ledger.PaymentIntent{}, errors.Wrapf(err, "decode payment intent %d", id)
	}
	return intent, nil
}

func putIntent(b *bolt.Bucket, intent ledger.PaymentIntent) error {
	v, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "encode payment intent")
	}
	return errors.Wrap(b.Put(itob(intent.ID), v), "put payment intent")
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// pendingKey orders the pending index by schedule, then creation time.
func pendingKey(scheduledAt, createdAt time.Time, id uuid.UUID) []byte {
	key := make([]byte, 0, 32)
	key = binary.BigEndian.AppendUint64(key, uint64(scheduledAt.UnixNano()))
	key = binary.BigEndian.AppendUint64(key, uint64(createdAt.UnixNano()))
	return append(key, id[:]...)
}
