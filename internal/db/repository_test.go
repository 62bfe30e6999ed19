package db

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"

	"payment-gateway/internal/storetest"
	"payment-gateway/internal/testhelpers"
)

type PaymentRepositoryTestSuite struct {
	storetest.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
}

func (s *PaymentRepositoryTestSuite) SetupSuite() {
	testcontainers.SkipIfProviderIsNotHealthy(s.T())
	time.Local = time.UTC

	ctx := context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	version, err := RunMigrations(ctx, pgContainer.ConnectionString)
	s.Require().NoError(err)
	s.Require().Equal(int64(2), version)

	pool, err := GetPool(ctx, pgContainer.ConnectionString, 20)
	if err != nil {
		log.Fatal(err)
	}
	s.pool = pool

	repo := NewPaymentRepository(pool)
	s.Open = func() storetest.Store {
		_, err := s.pool.Exec(ctx, `TRUNCATE payment_outbox, payment_intent`)
		if err != nil {
			log.Fatalf("error truncating tables: %s", err)
		}
		_, err = s.pool.Exec(ctx, `UPDATE ledger_state SET next_id = 1, fee_rate_bps = NULL WHERE id = 1`)
		if err != nil {
			log.Fatalf("error resetting ledger state: %s", err)
		}
		return repo
	}
}

func (s *PaymentRepositoryTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}

	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(context.Background()); err != nil {
			log.Fatalf("error terminating postgres container: %s", err)
		}
	}
}

func (s *PaymentRepositoryTestSuite) TestRunMigrationsIsIdempotent() {
	version, err := RunMigrations(context.Background(), s.pgContainer.ConnectionString)
	s.Require().NoError(err)
	s.Equal(int64(2), version)
}

func TestPaymentRepositoryTestSuite(t *testing.T) {
	suite.Run(t, &PaymentRepositoryTestSuite{Suite: storetest.Suite{Concurrency: 16}})
}
