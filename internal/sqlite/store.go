// Package sqlite is the embedded single-file ledger store. One connection
// serializes every transaction.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"payment-gateway/internal/ledger"
	"payment-gateway/migrations"
)

const intentColumns = `id, merchant, customer, amount, currency, description, metadata, client_reference,
	status, fee, created_at, processed_at, refunded_at`

type Store struct {
	db *sql.DB
}

// Open opens the database at path, ":memory:" included, and applies the
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	// keep the connection so an in-memory database survives idle periods
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.SQLite())
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create migration provider")
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply migrations")
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, intent ledger.PaymentIntent, announce ledger.EventFunc) (ledger.PaymentIntent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM ledger_state WHERE id = 1`).Scan(&next); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "select id counter")
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM payment_intent WHERE merchant = ? AND client_reference = ?)`
	if err := tx.QueryRowContext(ctx, query, intent.Merchant.String(), intent.ClientReference).Scan(&exists); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "check client reference")
	}
	if exists {
		return ledger.PaymentIntent{}, ledger.ErrDuplicateReference
	}

	intent.ID = uint64(next)
	event, err := announce(intent)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}

	query = `INSERT INTO payment_intent (` + intentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query, int64(intent.ID), intent.Merchant.String(), nullPrincipal(intent.Customer),
		int64(intent.Amount), intent.Currency, intent.Description, intent.Metadata, intent.ClientReference,
		string(intent.Status), int64(intent.Fee), intent.CreatedAt.UnixNano(),
		nullTime(intent.ProcessedAt), nullTime(intent.RefundedAt))
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "insert payment intent")
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return ledger.PaymentIntent{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE ledger_state SET next_id = next_id + 1 WHERE id = 1`); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "advance id counter")
	}

	if err := tx.Commit(); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "commit insert")
	}
	return intent, nil
}

func (s *Store) Get(ctx context.Context, id uint64) (ledger.PaymentIntent, error) {
	return scanIntent(s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intent WHERE id = ?`, int64(id)))
}

func (s *Store) GetByReference(ctx context.Context, merchant ledger.Principal, reference string) (ledger.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE merchant = ? AND client_reference = ?`
	return scanIntent(s.db.QueryRowContext(ctx, query, merchant.String(), reference))
}

func (s *Store) NextID(ctx context.Context) (uint64, error) {
	var next int64
	if err := s.db.QueryRowContext(ctx, `SELECT next_id FROM ledger_state WHERE id = 1`).Scan(&next); err != nil {
		return 0, errors.Wrap(err, "select id counter")
	}
	return uint64(next), nil
}

func (s *Store) Mutate(ctx context.Context, id uint64, fn ledger.MutateFunc) (ledger.PaymentIntent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	current, err := scanIntent(tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intent WHERE id = ?`, int64(id)))
	if err != nil {
		return ledger.PaymentIntent{}, err
	}

	updated, event, err := fn(ctx, current)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}

	query := `UPDATE payment_intent
	          SET customer = ?, status = ?, fee = ?, processed_at = ?, refunded_at = ?
	          WHERE id = ?`
	_, err = tx.ExecContext(ctx, query, nullPrincipal(updated.Customer), string(updated.Status), int64(updated.Fee),
		nullTime(updated.ProcessedAt), nullTime(updated.RefundedAt), int64(id))
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "update payment intent")
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return ledger.PaymentIntent{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "commit mutation")
	}
	return updated, nil
}

func (s *Store) FeeRate(ctx context.Context) (ledger.BasisPoints, error) {
	var bps sql.NullInt32
	if err := s.db.QueryRowContext(ctx, `SELECT fee_rate_bps FROM ledger_state WHERE id = 1`).Scan(&bps); err != nil {
		return 0, errors.Wrap(err, "select fee rate")
	}
	if !bps.Valid {
		return 0, ledger.ErrFeeRateUnset
	}
	return ledger.BasisPoints(bps.Int32), nil
}

func (s *Store) SetFeeRate(ctx context.Context, bps ledger.BasisPoints) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ledger_state SET fee_rate_bps = ? WHERE id = 1`, int32(bps))
	return errors.Wrap(err, "update fee rate")
}

func (s *Store) PendingEvents(ctx context.Context, now time.Time, limit int) ([]ledger.Event, error) {
	query := `SELECT id, event_type, payment_id, payload, created_at, scheduled_at, published_at, publish_attempts, error
	          FROM payment_outbox
	          WHERE published_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= ?
	          ORDER BY scheduled_at, created_at
	          LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, now.UnixNano(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending events")
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var (
			id          string
			eventType   string
			paymentID   int64
			payload     []byte
			createdAt   int64
			scheduledAt sql.NullInt64
			publishedAt sql.NullInt64
			attempts    int
			errMsg      sql.NullString
		)
		if err := rows.Scan(&id, &eventType, &paymentID, &payload, &createdAt, &scheduledAt, &publishedAt, &attempts, &errMsg); err != nil {
			return nil, errors.Wrap(err, "scan pending event")
		}
		eventID, err := uuid.Parse(id)
		if err != nil {
			return nil, errors.Wrapf(err, "parse event id %q", id)
		}

		event := ledger.Event{
			ID:              eventID,
			Type:            ledger.EventType(eventType),
			PaymentID:       uint64(paymentID),
			Payload:         payload,
			CreatedAt:       fromUnixNano(createdAt),
			ScheduledAt:     timePtr(scheduledAt),
			PublishedAt:     timePtr(publishedAt),
			PublishAttempts: attempts,
		}
		if errMsg.Valid {
			event.Error = &errMsg.String
		}
		events = append(events, event)
	}
	return events, errors.Wrap(rows.Err(), "iterate pending events")
}

func (s *Store) UpdateEvents(ctx context.Context, events []ledger.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	query := `UPDATE payment_outbox
	          SET scheduled_at = ?, published_at = ?, publish_attempts = ?, error = ?
	          WHERE id = ?`
	for _, event := range events {
		var errMsg sql.NullString
		if event.Error != nil {
			errMsg = sql.NullString{String: *event.Error, Valid: true}
		}
		res, err := tx.ExecContext(ctx, query, nullTime(event.ScheduledAt), nullTime(event.PublishedAt),
			event.PublishAttempts, errMsg, event.ID.String())
		if err != nil {
			return errors.Wrapf(err, "update event %s", event.ID)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.Wrapf(ledger.ErrNotFound, "event %s", event.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "commit event updates")
}

func insertEvent(ctx context.Context, tx *sql.Tx, event ledger.Event) error {
	query := `INSERT INTO payment_outbox (id, event_type, payment_id, payload, created_at, scheduled_at, publish_attempts)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query, event.ID.String(), string(event.Type), int64(event.PaymentID), event.Payload,
		event.CreatedAt.UnixNano(), nullTime(event.ScheduledAt), event.PublishAttempts)
	return errors.Wrap(err, "insert outbox event")
}

func scanIntent(row *sql.Row) (ledger.PaymentIntent, error) {
	var (
		intent      ledger.PaymentIntent
		id          int64
		merchant    string
		customer    sql.NullString
		amount      int64
		status      string
		fee         int64
		createdAt   int64
		processedAt sql.NullInt64
		refundedAt  sql.NullInt64
	)
	err := row.Scan(&id, &merchant, &customer, &amount, &intent.Currency, &intent.Description, &intent.Metadata,
		&intent.ClientReference, &status, &fee, &createdAt, &processedAt, &refundedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PaymentIntent{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "scan payment intent")
	}

	intent.ID = uint64(id)
	intent.Merchant = ledger.Principal(merchant)
	intent.Customer = ledger.Principal(customer.String)
	intent.Amount = uint64(amount)
	intent.Status = ledger.Status(status)
	intent.Fee = uint64(fee)
	intent.CreatedAt = fromUnixNano(createdAt)
	intent.ProcessedAt = timePtr(processedAt)
	intent.RefundedAt = timePtr(refundedAt)
	return intent, nil
}

func nullPrincipal(p ledger.Principal) sql.NullString {
	return sql.NullString{String: p.String(), Valid: !p.IsZero()}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnixNano(v.Int64)
	return &t
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
