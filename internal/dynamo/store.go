package dynamo

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payment-gateway/internal/ledger"
)

const maxInsertAttempts = 20

// ErrLocked is returned when an intent stays locked by another writer for
// longer than the configured wait.
var ErrLocked = errors.New("payment intent is locked")

type Options struct {
	// LockLease bounds how long a crashed writer can hold an intent. A live
	// writer renews it every third of its length while the mutation runs.
	LockLease time.Duration
	// LockWait bounds how long Mutate waits for a held intent.
	LockWait time.Duration
}

// Store keeps intents, the reference index, the counter and outbox events in
// one table. Mutations take a conditional lease lock on the intent item and
// commit through a transaction guarded by the lock token.
type Store struct {
	client Client
	table  *string
	opts   Options
}

// New returns a store on table and makes sure the counter item exists.
func New(ctx context.Context, client Client, table string, opts Options) (*Store, error) {
	if opts.LockLease <= 0 {
		opts.LockLease = time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	s := &Store{client: client, table: aws.String(table), opts: opts}

	_, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           s.table,
		Item:                item{attrPK: str(stateKey), "next_id": num(1)},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil && !isConditionalCheckFailed(err) {
		return nil, errors.Wrap(err, "initialize ledger state")
	}
	return s, nil
}

func (s *Store) Insert(ctx context.Context, intent ledger.PaymentIntent, announce ledger.EventFunc) (ledger.PaymentIntent, error) {
	refKey := referenceKey(intent.Merchant, intent.ClientReference)

	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		if _, err := s.getItem(ctx, refKey); err == nil {
			return ledger.PaymentIntent{}, ledger.ErrDuplicateReference
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return ledger.PaymentIntent{}, err
		}

		next, err := s.NextID(ctx)
		if err != nil {
			return ledger.PaymentIntent{}, err
		}
		intent.ID = next

		event, err := announce(intent)
		if err != nil {
			return ledger.PaymentIntent{}, err
		}

		_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Update: &types.Update{
					TableName:                 s.table,
					Key:                       key(stateKey),
					UpdateExpression:          aws.String("SET next_id = :next"),
					ConditionExpression:       aws.String("next_id = :current"),
					ExpressionAttributeValues: item{":current": num(next), ":next": num(next + 1)},
				}},
				{Put: &types.Put{
					TableName:           s.table,
					Item:                intentItem(intent),
					ConditionExpression: aws.String("attribute_not_exists(pk)"),
				}},
				{Put: &types.Put{
					TableName:           s.table,
					Item:                item{attrPK: str(refKey), "payment_id": num(intent.ID)},
					ConditionExpression: aws.String("attribute_not_exists(pk)"),
				}},
				{Put: &types.Put{
					TableName: s.table,
					Item:      eventItem(event),
				}},
			},
		})
		if err == nil {
			return intent, nil
		}

		codes := cancellationCodes(err)
		if codes == nil {
			return ledger.PaymentIntent{}, errors.Wrap(err, "insert payment intent")
		}
		if len(codes) > 2 && codes[2] == "ConditionalCheckFailed" {
			return ledger.PaymentIntent{}, ledger.ErrDuplicateReference
		}
		// another writer took the id or the transaction conflicted
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return ledger.PaymentIntent{}, err
		}
	}
	return ledger.PaymentIntent{}, errors.Errorf("insert payment intent: counter contention after %d attempts", maxInsertAttempts)
}

func (s *Store) Get(ctx context.Context, id uint64) (ledger.PaymentIntent, error) {
	it, err := s.getItem(ctx, paymentKey(id))
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	return decodeIntent(it)
}

func (s *Store) GetByReference(ctx context.Context, merchant ledger.Principal, reference string) (ledger.PaymentIntent, error) {
	it, err := s.getItem(ctx, referenceKey(merchant, reference))
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	id, err := getUint(it, "payment_id")
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	return s.Get(ctx, id)
}

func (s *Store) NextID(ctx context.Context) (uint64, error) {
	it, err := s.getItem(ctx, stateKey)
	if err != nil {
		return 0, errors.Wrap(err, "get ledger state")
	}
	return getUint(it, "next_id")
}

func (s *Store) Mutate(ctx context.Context, id uint64, fn ledger.MutateFunc) (ledger.PaymentIntent, error) {
	token := uuid.New().String()
	current, err := s.lock(ctx, id, token)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}

	stop := s.keepAlive(ctx, id, token)
	updated, event, err := fn(ctx, current)
	stop()
	if err != nil {
		s.unlock(ctx, id, token)
		return ledger.PaymentIntent{}, err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                 s.table,
				Item:                      intentItem(updated),
				ConditionExpression:       aws.String("lock_token = :token"),
				ExpressionAttributeValues: item{":token": str(token)},
			}},
			{Put: &types.Put{
				TableName: s.table,
				Item:      eventItem(event),
			}},
		},
	})
	if err != nil {
		s.unlock(ctx, id, token)
		if codes := cancellationCodes(err); len(codes) > 0 && codes[0] == "ConditionalCheckFailed" {
			return ledger.PaymentIntent{}, errors.Wrapf(ErrLocked, "payment %d: lease expired before commit", id)
		}
		return ledger.PaymentIntent{}, errors.Wrap(err, "commit mutation")
	}
	return updated, nil
}

// lock takes the lease on the intent and returns its current state.
func (s *Store) lock(ctx context.Context, id uint64, token string) (ledger.PaymentIntent, error) {
	deadline := time.Now().Add(s.opts.LockWait)

	for attempt := 1; ; attempt++ {
		now := time.Now()
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           s.table,
			Key:                 key(paymentKey(id)),
			UpdateExpression:    aws.String("SET lock_token = :token, lock_expires = :expires"),
			ConditionExpression: aws.String("attribute_exists(pk) AND (attribute_not_exists(lock_token) OR lock_expires < :now)"),
			ExpressionAttributeValues: item{
				":token":   str(token),
				":expires": num(now.Add(s.opts.LockLease).UnixNano()),
				":now":     num(now.UnixNano()),
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if err == nil {
			return decodeIntent(out.Attributes)
		}
		if !isConditionalCheckFailed(err) {
			return ledger.PaymentIntent{}, errors.Wrap(err, "lock payment intent")
		}

		if _, err := s.getItem(ctx, paymentKey(id)); err != nil {
			return ledger.PaymentIntent{}, err
		}
		if time.Now().After(deadline) {
			return ledger.PaymentIntent{}, errors.Wrapf(ErrLocked, "payment %d", id)
		}
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return ledger.PaymentIntent{}, err
		}
	}
}

// keepAlive extends the lease on id until the returned func is called. It
// stops early once the token no longer holds the lease.
func (s *Store) keepAlive(ctx context.Context, id uint64, token string) func() {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.LockLease / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.renew(ctx, id, token); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *Store) renew(ctx context.Context, id uint64, token string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           s.table,
		Key:                 key(paymentKey(id)),
		UpdateExpression:    aws.String("SET lock_expires = :expires"),
		ConditionExpression: aws.String("lock_token = :token"),
		ExpressionAttributeValues: item{
			":token":   str(token),
			":expires": num(time.Now().Add(s.opts.LockLease).UnixNano()),
		},
	})
	return errors.Wrap(err, "renew payment intent lease")
}

// unlock releases the lease if it is still ours. It runs detached from ctx so
// a cancelled caller does not leave the intent locked until the lease expires.
func (s *Store) unlock(ctx context.Context, id uint64, token string) {
	_, _ = s.client.UpdateItem(context.WithoutCancel(ctx), &dynamodb.UpdateItemInput{
		TableName:                 s.table,
		Key:                       key(paymentKey(id)),
		UpdateExpression:          aws.String("REMOVE lock_token, lock_expires"),
		ConditionExpression:       aws.String("lock_token = :token"),
		ExpressionAttributeValues: item{":token": str(token)},
	})
}

func (s *Store) FeeRate(ctx context.Context) (ledger.BasisPoints, error) {
	it, err := s.getItem(ctx, stateKey)
	if err != nil {
		return 0, errors.Wrap(err, "get ledger state")
	}
	v, ok := it["fee_rate_bps"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, ledger.ErrFeeRateUnset
	}
	bps, err := strconv.ParseUint(v.Value, 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "parse fee rate")
	}
	return ledger.BasisPoints(bps), nil
}

func (s *Store) SetFeeRate(ctx context.Context, bps ledger.BasisPoints) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 s.table,
		Key:                       key(stateKey),
		UpdateExpression:          aws.String("SET fee_rate_bps = :bps"),
		ExpressionAttributeValues: item{":bps": num(bps)},
	})
	return errors.Wrap(err, "update fee rate")
}

func (s *Store) getItem(ctx context.Context, pk string) (item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      s.table,
		Key:            key(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get item %s", pk)
	}
	if len(out.Item) == 0 {
		return nil, ledger.ErrNotFound
	}
	return out.Item, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 5 * time.Millisecond
	if d > 200*time.Millisecond {
		return 200 * time.Millisecond
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
