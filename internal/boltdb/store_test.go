package boltdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"payment-gateway/internal/ledger"
	"payment-gateway/internal/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "payments.bolt"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		Open: func() storetest.Store { return newTestStore(t) },
	})
}

func TestStore_SequenceSurvivesRejectedInsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	announce := func(p ledger.PaymentIntent) (ledger.Event, error) {
		return ledger.NewEvent(ledger.EventCreated, p, time.Now().UTC())
	}
	intent := ledger.PaymentIntent{Merchant: "m", Amount: 1, Currency: "STX", ClientReference: "dup", Status: ledger.StatusCreated}

	_, err := store.Insert(ctx, intent, announce)
	require.NoError(t, err)
	_, err = store.Insert(ctx, intent, announce)
	require.ErrorIs(t, err, ledger.ErrDuplicateReference)

	intent.ClientReference = "next"
	stored, err := store.Insert(ctx, intent, announce)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.ID)
}

func TestStore_ConcurrentInsertsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payments.bolt")
	store, err := Open(path, time.Second)
	require.NoError(t, err)
	ctx := context.Background()
	announce := func(p ledger.PaymentIntent) (ledger.Event, error) {
		return ledger.NewEvent(ledger.EventCreated, p, time.Now().UTC())
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent := ledger.PaymentIntent{Merchant: "m", Amount: 1, Currency: "STX", ClientReference: fmt.Sprintf("ref-%d", i), Status: ledger.StatusCreated}
			_, err := store.Insert(ctx, intent, announce)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.NoError(t, store.Close())

	store, err = Open(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	next, err := store.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(33), next)
	events, err := store.PendingEvents(ctx, time.Now().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Len(t, events, 32)
}
