package db

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"payment-gateway/migrations"
)

// RunMigrations applies the embedded Postgres migrations and returns the
// schema version.
func RunMigrations(ctx context.Context, connStr string) (int64, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return 0, errors.Wrap(err, "open postgres")
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.Postgres())
	if err != nil {
		return 0, errors.Wrap(err, "create migration provider")
	}
	if _, err := provider.Up(ctx); err != nil {
		return 0, errors.Wrap(err, "apply migrations")
	}
	return provider.GetDBVersion(ctx)
}

func GetPool(ctx context.Context, connStr string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres connection string")
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "create postgres pool")
	}
	return dbpool, nil
}
