// Package memory is a process-local ledger store for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-gateway/internal/ledger"
)

type entry struct {
	// lock is a one-slot semaphore so waiting on it honours the context.
	lock   chan struct{}
	intent ledger.PaymentIntent
}

type Store struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
	refs    map[string]uint64
	counter uint64
	feeRate *ledger.BasisPoints
	events  []ledger.Event
	eventAt map[uuid.UUID]int
}

func NewStore() *Store {
	return &Store{
		entries: make(map[uint64]*entry),
		refs:    make(map[string]uint64),
		counter: 1,
		eventAt: make(map[uuid.UUID]int),
	}
}

func (s *Store) Insert(ctx context.Context, intent ledger.PaymentIntent, announce ledger.EventFunc) (ledger.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return ledger.PaymentIntent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledger.ReferenceKey(intent.Merchant, intent.ClientReference)
	if _, ok := s.refs[key]; ok {
		return ledger.PaymentIntent{}, ledger.ErrDuplicateReference
	}

	intent.ID = s.counter
	event, err := announce(intent)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}

	s.entries[intent.ID] = &entry{lock: make(chan struct{}, 1), intent: intent.Clone()}
	s.refs[key] = intent.ID
	s.appendEvent(event)
	s.counter++

	return intent, nil
}

func (s *Store) Get(_ context.Context, id uint64) (ledger.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return ledger.PaymentIntent{}, ledger.ErrNotFound
	}
	return e.intent.Clone(), nil
}

func (s *Store) GetByReference(ctx context.Context, merchant ledger.Principal, reference string) (ledger.PaymentIntent, error) {
	s.mu.RLock()
	id, ok := s.refs[ledger.ReferenceKey(merchant, reference)]
	s.mu.RUnlock()
	if !ok {
		return ledger.PaymentIntent{}, ledger.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) NextID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter, nil
}

func (s *Store) Mutate(ctx context.Context, id uint64, fn ledger.MutateFunc) (ledger.PaymentIntent, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return ledger.PaymentIntent{}, ledger.ErrNotFound
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return ledger.PaymentIntent{}, ctx.Err()
	}
	defer func() { <-e.lock }()

	s.mu.RLock()
	current := e.intent.Clone()
	s.mu.RUnlock()

	updated, event, err := fn(ctx, current)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	if updated.ID != id {
		return ledger.PaymentIntent{}, fmt.Errorf("mutation changed payment id %d to %d", id, updated.ID)
	}

	s.mu.Lock()
	e.intent = updated.Clone()
	s.appendEvent(event)
	s.mu.Unlock()

	return updated, nil
}

func (s *Store) FeeRate(_ context.Context) (ledger.BasisPoints, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.feeRate == nil {
		return 0, ledger.ErrFeeRateUnset
	}
	return *s.feeRate, nil
}

func (s *Store) SetFeeRate(_ context.Context, bps ledger.BasisPoints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeRate = &bps
	return nil
}

func (s *Store) PendingEvents(_ context.Context, now time.Time, limit int) ([]ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []ledger.Event
	for _, event := range s.events {
		if event.Pending() && !event.ScheduledAt.After(now) {
			pending = append(pending, event.Clone())
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].ScheduledAt.Equal(*pending[j].ScheduledAt) {
			return pending[i].ScheduledAt.Before(*pending[j].ScheduledAt)
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) UpdateEvents(_ context.Context, events []ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range events {
		if _, ok := s.eventAt[event.ID]; !ok {
			return fmt.Errorf("event %s: %w", event.ID, ledger.ErrNotFound)
		}
	}
	for _, event := range events {
		s.events[s.eventAt[event.ID]] = event.Clone()
	}
	return nil
}

func (s *Store) appendEvent(event ledger.Event) {
	s.eventAt[event.ID] = len(s.events)
	s.events = append(s.events, event.Clone())
}
