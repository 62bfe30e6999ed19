package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/config"
	"payment-gateway/internal/ledger"
	"payment-gateway/internal/transfer"
)

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

func TestOpenStore_EmbeddedDrivers(t *testing.T) {
	dir := t.TempDir()
	tests := []config.Database{
		{Driver: config.DriverMemory},
		{Driver: config.DriverSQLite, SQLite: config.SQLite{Path: filepath.Join(dir, "payments.db")}},
		{Driver: config.DriverBolt, Bolt: config.Bolt{Path: filepath.Join(dir, "payments.bolt"), TimeoutMs: 1000}},
	}

	for _, cfg := range tests {
		t.Run(cfg.Driver, func(t *testing.T) {
			store, closeStore, err := OpenStore(context.Background(), cfg, discard)
			require.NoError(t, err)
			defer closeStore()

			next, err := store.NextID(context.Background())
			require.NoError(t, err)
			assert.Equal(t, uint64(1), next)
		})
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, closeStore, err := OpenStore(context.Background(), config.Database{Driver: "etcd"}, discard)
	assert.Error(t, err)
	closeStore()
}

func TestNewTransfer(t *testing.T) {
	funds, err := NewTransfer(config.Transfer{
		Driver: config.TransferBank,
		Bank:   config.Bank{Accounts: []config.Account{{Principal: "customer", Balance: 500}}},
	}, discard)
	require.NoError(t, err)
	bank, ok := funds.(*transfer.Bank)
	require.True(t, ok)
	assert.Equal(t, uint64(500), bank.Balance("customer"))

	funds, err = NewTransfer(config.Transfer{Driver: config.TransferAgent, Agent: config.Agent{URL: "http://agent.local", TimeoutMs: 100}}, discard)
	require.NoError(t, err)
	assert.IsType(t, &transfer.Agent{}, funds)

	_, err = NewTransfer(config.Transfer{Driver: "wire"}, discard)
	assert.Error(t, err)
}

func TestNewLedger_WiresConfiguration(t *testing.T) {
	ctx := context.Background()
	store, closeStore, err := OpenStore(ctx, config.Database{Driver: config.DriverMemory}, discard)
	require.NoError(t, err)
	defer closeStore()

	bank := transfer.NewBank()
	require.NoError(t, bank.Mint("customer", 1000))

	l, err := NewLedger(config.Ledger{
		Owner:        "owner",
		Platform:     "platform",
		FeeRateBps:   1000,
		RefundPolicy: "net",
		Limits:       config.Limits{Currency: 3, Reference: 8, Description: 16, Metadata: 16},
	}, store, bank, discard)
	require.NoError(t, err)

	_, err = l.Create(ctx, "merchant", ledger.CreateRequest{Amount: 100, Currency: "STXX", Description: "order", ClientReference: "r"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput, "currency limit comes from config")

	id, err := l.Create(ctx, "merchant", ledger.CreateRequest{Amount: 100, Currency: "STX", Description: "order", ClientReference: "r"})
	require.NoError(t, err)
	_, err = l.Process(ctx, id, "customer", "customer")
	require.NoError(t, err)
	_, err = l.Refund(ctx, id, "merchant")
	require.NoError(t, err)

	assert.Equal(t, uint64(990), bank.Balance("customer"), "net refund keeps the fee")
	assert.Equal(t, uint64(10), bank.Balance("platform"))

	_, err = NewLedger(config.Ledger{Owner: "owner", Platform: "platform", RefundPolicy: "partial"}, store, bank, discard)
	assert.Error(t, err)
}
