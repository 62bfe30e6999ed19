package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"payment-gateway/internal/ledger"
)

const uniqueViolation = "23505"

const intentColumns = `id, merchant, customer, amount, currency, description, metadata, client_reference,
	status, fee, created_at, processed_at, refunded_at`

// PaymentRepository is the Postgres ledger store. Mutations lock the intent
// row; inserts serialize on the ledger_state counter row.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

func (r *PaymentRepository) Insert(ctx context.Context, intent ledger.PaymentIntent, announce ledger.EventFunc) (ledger.PaymentIntent, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	var next int64
	if err := tx.QueryRow(ctx, `SELECT next_id FROM ledger_state WHERE id = 1 FOR UPDATE`).Scan(&next); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "lock id counter")
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM payment_intent WHERE merchant = $1 AND client_reference = $2)`
	if err := tx.QueryRow(ctx, query, intent.Merchant.String(), intent.ClientReference).Scan(&exists); err != nil {
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

	entity := toEntity(intent)
	query = `INSERT INTO payment_intent (` + intentColumns + `)
	         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = tx.Exec(ctx, query, entity.ID, entity.Merchant, entity.Customer, entity.Amount, entity.Currency,
		entity.Description, entity.Metadata, entity.ClientReference, entity.Status, entity.Fee,
		entity.CreatedAt, entity.ProcessedAt, entity.RefundedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ledger.PaymentIntent{}, ledger.ErrDuplicateReference
		}
		return ledger.PaymentIntent{}, errors.Wrap(err, "insert payment intent")
	}

	if err := r.insertEvent(ctx, tx, event); err != nil {
		return ledger.PaymentIntent{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE ledger_state SET next_id = next_id + 1 WHERE id = 1`); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "advance id counter")
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "commit insert")
	}
	return intent, nil
}

func (r *PaymentRepository) Get(ctx context.Context, id uint64) (ledger.PaymentIntent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intent WHERE id = $1`, int64(id))
	return scanIntent(row)
}

func (r *PaymentRepository) GetByReference(ctx context.Context, merchant ledger.Principal, reference string) (ledger.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intent WHERE merchant = $1 AND client_reference = $2`
	return scanIntent(r.pool.QueryRow(ctx, query, merchant.String(), reference))
}

func (r *PaymentRepository) NextID(ctx context.Context) (uint64, error) {
	var next int64
	if err := r.pool.QueryRow(ctx, `SELECT next_id FROM ledger_state WHERE id = 1`).Scan(&next); err != nil {
		return 0, errors.Wrap(err, "select id counter")
	}
	return uint64(next), nil
}

func (r *PaymentRepository) Mutate(ctx context.Context, id uint64, fn ledger.MutateFunc) (ledger.PaymentIntent, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intent WHERE id = $1 FOR UPDATE`, int64(id))
	current, err := scanIntent(row)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}

	updated, event, err := fn(ctx, current)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}

	entity := toEntity(updated)
	query := `UPDATE payment_intent
	          SET customer = $2, status = $3, fee = $4, processed_at = $5, refunded_at = $6
	          WHERE id = $1`
	tag, err := tx.Exec(ctx, query, int64(id), entity.Customer, entity.Status, entity.Fee, entity.ProcessedAt, entity.RefundedAt)
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "update payment intent")
	}
	if tag.RowsAffected() != 1 {
		return ledger.PaymentIntent{}, errors.Errorf("update payment intent %d: %d rows affected", id, tag.RowsAffected())
	}

	if err := r.insertEvent(ctx, tx, event); err != nil {
		return ledger.PaymentIntent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "commit mutation")
	}
	return updated, nil
}

func (r *PaymentRepository) FeeRate(ctx context.Context) (ledger.BasisPoints, error) {
	var bps *int32
	if err := r.pool.QueryRow(ctx, `SELECT fee_rate_bps FROM ledger_state WHERE id = 1`).Scan(&bps); err != nil {
		return 0, errors.Wrap(err, "select fee rate")
	}
	if bps == nil {
		return 0, ledger.ErrFeeRateUnset
	}
	return ledger.BasisPoints(*bps), nil
}

func (r *PaymentRepository) SetFeeRate(ctx context.Context, bps ledger.BasisPoints) error {
	_, err := r.pool.Exec(ctx, `UPDATE ledger_state SET fee_rate_bps = $1 WHERE id = 1`, int32(bps))
	return errors.Wrap(err, "update fee rate")
}

func (r *PaymentRepository) PendingEvents(ctx context.Context, now time.Time, limit int) ([]ledger.Event, error) {
	query := `SELECT id, event_type, payment_id, payload, created_at, scheduled_at, published_at, publish_attempts, error
	          FROM payment_outbox
	          WHERE published_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= $1
	          ORDER BY scheduled_at, created_at
	          LIMIT $2`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending events")
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var entity OutboxEntity
		if err := rows.Scan(&entity.ID, &entity.EventType, &entity.PaymentID, &entity.Payload, &entity.CreatedAt,
			&entity.ScheduledAt, &entity.PublishedAt, &entity.PublishAttempts, &entity.Error); err != nil {
			return nil, errors.Wrap(err, "scan pending event")
		}
		events = append(events, entity.toEvent())
	}
	return events, errors.Wrap(rows.Err(), "iterate pending events")
}

func (r *PaymentRepository) UpdateEvents(ctx context.Context, events []ledger.Event) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `UPDATE payment_outbox
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5
	          WHERE id = $1`
	for _, event := range events {
		tag, err := tx.Exec(ctx, query, event.ID, event.ScheduledAt, event.PublishedAt, event.PublishAttempts, event.Error)
		if err != nil {
			return errors.Wrapf(err, "update event %s", event.ID)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ledger.ErrNotFound, "event %s", event.ID)
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit event updates")
}

func (r *PaymentRepository) insertEvent(ctx context.Context, tx pgx.Tx, event ledger.Event) error {
	query := `INSERT INTO payment_outbox (id, event_type, payment_id, payload, created_at, scheduled_at, publish_attempts)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.Exec(ctx, query, event.ID, string(event.Type), int64(event.PaymentID), string(event.Payload),
		event.CreatedAt, event.ScheduledAt, event.PublishAttempts)
	return errors.Wrap(err, "insert outbox event")
}

func scanIntent(row pgx.Row) (ledger.PaymentIntent, error) {
	var e PaymentIntentEntity
	err := row.Scan(&e.ID, &e.Merchant, &e.Customer, &e.Amount, &e.Currency, &e.Description, &e.Metadata,
		&e.ClientReference, &e.Status, &e.Fee, &e.CreatedAt, &e.ProcessedAt, &e.RefundedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.PaymentIntent{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.PaymentIntent{}, errors.Wrap(err, "scan payment intent")
	}
	return e.toIntent(), nil
}
