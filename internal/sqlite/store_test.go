package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"payment-gateway/internal/ledger"
	"payment-gateway/internal/storetest"
)

func TestStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		Open: func() storetest.Store {
			store, err := Open(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	})
}

func TestOpen_ReopensFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "payments.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	intent := ledger.PaymentIntent{
		Merchant:        "merchant",
		Amount:          10,
		Currency:        "STX",
		ClientReference: "r1",
		Status:          ledger.StatusCreated,
		CreatedAt:       time.Now().UTC(),
	}
	_, err = store.Insert(ctx, intent, func(p ledger.PaymentIntent) (ledger.Event, error) {
		return ledger.NewEvent(ledger.EventCreated, p, p.CreatedAt)
	})
	require.NoError(t, err)
	require.NoError(t, store.SetFeeRate(ctx, 120))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	next, err := store.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)

	bps, err := store.FeeRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.BasisPoints(120), bps)

	loaded, err := store.GetByReference(ctx, "merchant", "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.ID)
}
