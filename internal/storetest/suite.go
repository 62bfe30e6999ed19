// Package storetest holds the behaviour every ledger store must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"payment-gateway/internal/ledger"
)

type Store interface {
	ledger.Store
	ledger.Outbox
}

// Suite runs against the store returned by Open, which must be empty.
type Suite struct {
	suite.Suite
	Open func() Store

	// Concurrency is the number of goroutines racing on one intent.
	Concurrency int

	store Store
	ctx   context.Context
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.Open()
}

func intent(merchant ledger.Principal, ref string) ledger.PaymentIntent {
	return ledger.PaymentIntent{
		Merchant:        merchant,
		Amount:          1_000_000,
		Currency:        "STX",
		Description:     "Thé au lait ☕",
		Metadata:        `{"cart":[1,2]}`,
		ClientReference: ref,
		Status:          ledger.StatusCreated,
		CreatedAt:       base,
	}
}

func announceAt(at time.Time) ledger.EventFunc {
	return func(assigned ledger.PaymentIntent) (ledger.Event, error) {
		return ledger.NewEvent(ledger.EventCreated, assigned, at)
	}
}

func (s *Suite) insert(merchant ledger.Principal, ref string) ledger.PaymentIntent {
	stored, err := s.store.Insert(s.ctx, intent(merchant, ref), announceAt(base))
	s.Require().NoError(err)
	return stored
}

func (s *Suite) equalIntent(expected, actual ledger.PaymentIntent) {
	s.True(expected.CreatedAt.Equal(actual.CreatedAt), "createdAt %s != %s", expected.CreatedAt, actual.CreatedAt)
	s.equalTimePtr(expected.ProcessedAt, actual.ProcessedAt)
	s.equalTimePtr(expected.RefundedAt, actual.RefundedAt)

	expected.CreatedAt, actual.CreatedAt = time.Time{}, time.Time{}
	expected.ProcessedAt, actual.ProcessedAt = nil, nil
	expected.RefundedAt, actual.RefundedAt = nil, nil
	s.Equal(expected, actual)
}

func (s *Suite) equalTimePtr(expected, actual *time.Time) {
	if expected == nil {
		s.Nil(actual)
		return
	}
	if s.NotNil(actual) {
		s.True(expected.Equal(*actual), "%s != %s", *expected, *actual)
	}
}

func (s *Suite) TestInsertAssignsDenseIDs() {
	next, err := s.store.NextID(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), next)

	for want := uint64(1); want <= 3; want++ {
		stored := s.insert("merchant", "order-"+string(rune('a'+want)))
		s.Equal(want, stored.ID)
	}

	next, err = s.store.NextID(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(4), next)
}

func (s *Suite) TestInsertRoundTrip() {
	stored := s.insert("merchant", "order-1")

	loaded, err := s.store.Get(s.ctx, stored.ID)
	s.Require().NoError(err)
	s.equalIntent(stored, loaded)

	byRef, err := s.store.GetByReference(s.ctx, "merchant", "order-1")
	s.Require().NoError(err)
	s.equalIntent(stored, byRef)
}

func (s *Suite) TestInsertDuplicateReference() {
	s.insert("merchant", "order-1")

	_, err := s.store.Insert(s.ctx, intent("merchant", "order-1"), announceAt(base))
	s.ErrorIs(err, ledger.ErrDuplicateReference)

	next, err := s.store.NextID(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(2), next)

	other := s.insert("other", "order-1")
	s.Equal(uint64(2), other.ID)

	events, err := s.store.PendingEvents(s.ctx, base, 10)
	s.Require().NoError(err)
	s.Len(events, 2)
}

func (s *Suite) TestInsertReferenceKeysDoNotCollide() {
	s.insert("ab", "c#d")
	stored := s.insert("ab#c", "d")
	s.Equal(uint64(2), stored.ID)
}

func (s *Suite) TestInsertAnnounceFailureAborts() {
	_, err := s.store.Insert(s.ctx, intent("merchant", "order-1"), func(ledger.PaymentIntent) (ledger.Event, error) {
		return ledger.Event{}, errors.New("boom")
	})
	s.Error(err)

	next, err := s.store.NextID(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), next)

	_, err = s.store.GetByReference(s.ctx, "merchant", "order-1")
	s.ErrorIs(err, ledger.ErrNotFound)
}

func (s *Suite) TestGetNotFound() {
	_, err := s.store.Get(s.ctx, 1)
	s.ErrorIs(err, ledger.ErrNotFound)

	_, err = s.store.GetByReference(s.ctx, "merchant", "missing")
	s.ErrorIs(err, ledger.ErrNotFound)
}

func (s *Suite) TestMutateCommits() {
	stored := s.insert("merchant", "order-1")
	processedAt := base.Add(time.Minute)

	updated, err := s.store.Mutate(s.ctx, stored.ID, func(_ context.Context, current ledger.PaymentIntent) (ledger.PaymentIntent, ledger.Event, error) {
		s.Equal(ledger.StatusCreated, current.Status)
		current.Status = ledger.StatusSettled
		current.Customer = "customer"
		current.Fee = 25_000
		current.ProcessedAt = &processedAt
		event, err := ledger.NewEvent(ledger.EventSettled, current, processedAt)
		return current, event, err
	})
	s.Require().NoError(err)
	s.Equal(ledger.StatusSettled, updated.Status)

	loaded, err := s.store.Get(s.ctx, stored.ID)
	s.Require().NoError(err)
	s.equalIntent(updated, loaded)

	events, err := s.store.PendingEvents(s.ctx, processedAt, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(ledger.EventCreated, events[0].Type)
	s.Equal(ledger.EventSettled, events[1].Type)
	s.Equal(stored.ID, events[1].PaymentID)
	s.JSONEq(mustJSON(updated), string(events[1].Payload))
}

func (s *Suite) TestMutateAbortLeavesRecord() {
	stored := s.insert("merchant", "order-1")
	abort := errors.New("abort")

	_, err := s.store.Mutate(s.ctx, stored.ID, func(_ context.Context, current ledger.PaymentIntent) (ledger.PaymentIntent, ledger.Event, error) {
		current.Status = ledger.StatusSettled
		return current, ledger.Event{}, abort
	})
	s.ErrorIs(err, abort)

	loaded, err := s.store.Get(s.ctx, stored.ID)
	s.Require().NoError(err)
	s.Equal(ledger.StatusCreated, loaded.Status)

	events, err := s.store.PendingEvents(s.ctx, base, 10)
	s.Require().NoError(err)
	s.Len(events, 1)

	// the intent must stay mutable after an aborted mutation
	_, err = s.store.Mutate(s.ctx, stored.ID, settle)
	s.NoError(err)
}

func (s *Suite) TestMutateNotFound() {
	called := false
	_, err := s.store.Mutate(s.ctx, 7, func(_ context.Context, current ledger.PaymentIntent) (ledger.PaymentIntent, ledger.Event, error) {
		called = true
		return current, ledger.Event{}, nil
	})
	s.ErrorIs(err, ledger.ErrNotFound)
	s.False(called)
}

func (s *Suite) TestMutateSerializesSameID() {
	stored := s.insert("merchant", "order-1")

	workers := s.Concurrency
	if workers == 0 {
		workers = 8
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Mutate(s.ctx, stored.ID, func(_ context.Context, current ledger.PaymentIntent) (ledger.PaymentIntent, ledger.Event, error) {
				current.Fee++
				event, err := ledger.NewEvent(ledger.EventSettled, current, base)
				return current, event, err
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}

	loaded, err := s.store.Get(s.ctx, stored.ID)
	s.Require().NoError(err)
	s.Equal(uint64(workers), loaded.Fee)
}

func (s *Suite) TestFeeRate() {
	_, err := s.store.FeeRate(s.ctx)
	s.ErrorIs(err, ledger.ErrFeeRateUnset)

	s.Require().NoError(s.store.SetFeeRate(s.ctx, 300))
	bps, err := s.store.FeeRate(s.ctx)
	s.Require().NoError(err)
	s.Equal(ledger.BasisPoints(300), bps)

	s.Require().NoError(s.store.SetFeeRate(s.ctx, 0))
	bps, err = s.store.FeeRate(s.ctx)
	s.Require().NoError(err)
	s.Equal(ledger.BasisPoints(0), bps)
}

func (s *Suite) TestFeeRateDoesNotTouchCounter() {
	s.Require().NoError(s.store.SetFeeRate(s.ctx, 300))
	stored := s.insert("merchant", "order-1")
	s.Equal(uint64(1), stored.ID)

	s.Require().NoError(s.store.SetFeeRate(s.ctx, 400))
	next, err := s.store.NextID(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(2), next)
}

func (s *Suite) TestOutboxSchedule() {
	for i, ref := range []string{"a", "b", "c"} {
		_, err := s.store.Insert(s.ctx, intent("merchant", ref), announceAt(base.Add(time.Duration(i)*time.Second)))
		s.Require().NoError(err)
	}

	events, err := s.store.PendingEvents(s.ctx, base.Add(time.Second), 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(uint64(1), events[0].PaymentID)
	s.Equal(uint64(2), events[1].PaymentID)

	limited, err := s.store.PendingEvents(s.ctx, base.Add(time.Hour), 1)
	s.Require().NoError(err)
	s.Len(limited, 1)

	publishedAt := base.Add(time.Minute)
	retryAt := base.Add(2 * time.Hour)
	msg := "broker unavailable"

	published := events[0]
	published.PublishAttempts = 1
	published.ScheduledAt = nil
	published.PublishedAt = &publishedAt

	rescheduled := events[1]
	rescheduled.PublishAttempts = 1
	rescheduled.ScheduledAt = &retryAt
	rescheduled.Error = &msg

	s.Require().NoError(s.store.UpdateEvents(s.ctx, []ledger.Event{published, rescheduled}))

	events, err = s.store.PendingEvents(s.ctx, base.Add(time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(uint64(3), events[0].PaymentID)

	events, err = s.store.PendingEvents(s.ctx, retryAt, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(uint64(3), events[0].PaymentID)
	s.Equal(rescheduled.ID, events[1].ID)
	s.Equal(1, events[1].PublishAttempts)
	s.Require().NotNil(events[1].Error)
	s.Equal(msg, *events[1].Error)
}

func (s *Suite) TestOutboxParksExhaustedEvents() {
	s.insert("merchant", "order-1")

	events, err := s.store.PendingEvents(s.ctx, base, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)

	msg := "max attempts reached"
	parked := events[0]
	parked.PublishAttempts = 3
	parked.ScheduledAt = nil
	parked.Error = &msg
	s.Require().NoError(s.store.UpdateEvents(s.ctx, []ledger.Event{parked}))

	events, err = s.store.PendingEvents(s.ctx, base.Add(24*time.Hour), 10)
	s.Require().NoError(err)
	s.Empty(events)
}

func settle(_ context.Context, current ledger.PaymentIntent) (ledger.PaymentIntent, ledger.Event, error) {
	processedAt := base.Add(time.Minute)
	current.Status = ledger.StatusSettled
	current.Customer = "customer"
	current.ProcessedAt = &processedAt
	event, err := ledger.NewEvent(ledger.EventSettled, current, processedAt)
	return current, event, err
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
