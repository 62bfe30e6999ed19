// Package app assembles the ledger from configuration.
package app

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"payment-gateway/internal/boltdb"
	"payment-gateway/internal/config"
	"payment-gateway/internal/db"
	"payment-gateway/internal/dynamo"
	"payment-gateway/internal/ledger"
	"payment-gateway/internal/memory"
	"payment-gateway/internal/sqlite"
	"payment-gateway/internal/transfer"
)

// Store is a ledger store that also carries the event outbox.
type Store interface {
	ledger.Store
	ledger.Outbox
}

// OpenStore opens the configured store. The returned func releases it.
func OpenStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (Store, func(), error) {
	noop := func() {}

	switch cfg.Driver {
	case config.DriverMemory:
		logger.WarnContext(ctx, "Using in-memory store, state is lost on exit")
		return memory.NewStore(), noop, nil

	case config.DriverPostgres:
		connStr := cfg.Postgres.ConnString()
		if cfg.Migrate {
			version, err := db.RunMigrations(ctx, connStr)
			if err != nil {
				return nil, noop, err
			}
			logger.InfoContext(ctx, "Migrations applied", "version", version)
		}
		pool, err := db.GetPool(ctx, connStr, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, noop, err
		}
		return db.NewPaymentRepository(pool), pool.Close, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, closer(ctx, logger, store.Close), nil

	case config.DriverBolt:
		store, err := boltdb.Open(cfg.Bolt.Path, cfg.Bolt.Timeout())
		if err != nil {
			return nil, noop, err
		}
		return store, closer(ctx, logger, store.Close), nil

	case config.DriverDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			return nil, noop, err
		}
		if cfg.DynamoDB.CreateTable {
			if err := dynamo.CreateTable(ctx, client, cfg.DynamoDB.Table); err != nil {
				return nil, noop, err
			}
		}
		store, err := dynamo.New(ctx, client, cfg.DynamoDB.Table, dynamo.Options{
			LockLease: cfg.DynamoDB.LockLease(),
			LockWait:  cfg.DynamoDB.LockWait(),
		})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
	return nil, noop, errors.Errorf("unknown database driver %q", cfg.Driver)
}

// NewTransfer returns the configured fund transfer. The bank driver opens
// the configured accounts with their balances.
func NewTransfer(cfg config.Transfer, logger *slog.Logger) (ledger.FundTransfer, error) {
	switch cfg.Driver {
	case config.TransferAgent:
		return transfer.NewAgent(cfg.Agent.URL, cfg.Agent.Timeout(), logger), nil
	case config.TransferBank:
		bank := transfer.NewBank()
		for _, account := range cfg.Bank.Accounts {
			if err := bank.Mint(ledger.Principal(account.Principal), account.Balance); err != nil {
				return nil, errors.Wrapf(err, "open account %s", account.Principal)
			}
		}
		return bank, nil
	}
	return nil, errors.Errorf("unknown transfer driver %q", cfg.Driver)
}

func NewLedger(cfg config.Ledger, store ledger.Store, funds ledger.FundTransfer, logger *slog.Logger) (*ledger.Ledger, error) {
	policy, err := ledger.ParseRefundPolicy(cfg.RefundPolicy)
	if err != nil {
		return nil, err
	}
	return ledger.New(store, funds, ledger.Options{
		Owner:        ledger.Principal(cfg.Owner),
		Platform:     ledger.Principal(cfg.Platform),
		FeeRate:      ledger.BasisPoints(cfg.FeeRateBps),
		RefundPolicy: policy,
		Limits:       cfg.Limits.Ledger(),
		Logger:       logger,
	})
}

func closer(ctx context.Context, logger *slog.Logger, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.ErrorContext(ctx, "Error closing store", "error", err)
		}
	}
}
