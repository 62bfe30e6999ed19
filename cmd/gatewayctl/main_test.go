package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/app"
	"payment-gateway/internal/config"
	"payment-gateway/internal/ledger"
	"payment-gateway/internal/transfer"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payments.db")
	t.Setenv("DATABASE_DRIVER", config.DriverSQLite)
	t.Setenv("DATABASE_SQLITE_PATH", path)
	t.Setenv("LEDGER_OWNER", "owner")
	t.Setenv("LEDGER_PLATFORM", "platform")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", t.TempDir()))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	store, closeStore, err := app.OpenStore(ctx, config.Database{Driver: config.DriverSQLite, SQLite: config.SQLite{Path: path}}, logger(&config.Config{}))
	require.NoError(t, err)
	defer closeStore()

	l, err := ledger.New(store, transfer.NewBank(), ledger.Options{Owner: "owner", Platform: "platform", FeeRate: ledger.DefaultFeeRate})
	require.NoError(t, err)
	_, err = l.Create(ctx, "merchant", ledger.CreateRequest{Amount: 1000, Currency: "STX", Description: "order", ClientReference: "order-1"})
	require.NoError(t, err)
}

func TestMigrate(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite store ready")
}

func TestPaymentCommands(t *testing.T) {
	path := setupEnv(t)
	seed(t, path)

	out, err := run(t, "payment", "get", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"clientReference": "order-1"`)

	out, err = run(t, "payment", "find", "--merchant", "merchant", "--reference", "order-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": 1`)

	_, err = run(t, "payment", "get", "2")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = run(t, "payment", "get", "x")
	assert.Error(t, err)

	out, err = run(t, "next-id")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestFeeCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "fee", "get")
	require.NoError(t, err)
	assert.Equal(t, "250 bps (max 1000)\n", out)

	_, err = run(t, "fee", "set", "300", "--as", "mallory")
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)

	_, err = run(t, "fee", "set", "1001", "--as", "owner")
	assert.ErrorIs(t, err, ledger.ErrInvalidRate)

	out, err = run(t, "fee", "set", "300", "--as", "owner")
	require.NoError(t, err)
	assert.Equal(t, "300 bps\n", out)

	out, err = run(t, "fee", "preview", "1000000")
	require.NoError(t, err)
	assert.Equal(t, "amount 1000000 fee 30000 net 970000\n", out)
}

func TestConfigShowOmitsPassword(t *testing.T) {
	setupEnv(t)
	t.Setenv("DATABASE_POSTGRES_PASSWORD", "s3cret")

	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "driver: sqlite")
	assert.NotContains(t, out, "s3cret")
}
