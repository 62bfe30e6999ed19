package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"payment-gateway/internal/logcontext"
)

// RefundPolicy decides how much of a settled payment goes back to the customer.
type RefundPolicy string

const (
	// RefundFull returns the whole amount; the merchant absorbs the fee.
	RefundFull RefundPolicy = "full"
	// RefundNet returns what the merchant received, amount minus fee.
	RefundNet RefundPolicy = "net"
)

func ParseRefundPolicy(s string) (RefundPolicy, error) {
	switch RefundPolicy(s) {
	case "", RefundFull:
		return RefundFull, nil
	case RefundNet:
		return RefundNet, nil
	}
	return "", fmt.Errorf("unknown refund policy %q", s)
}

type Limits struct {
	MaxCurrency    int
	MaxReference   int
	MaxDescription int
	MaxMetadata    int
}

var DefaultLimits = Limits{
	MaxCurrency:    10,
	MaxReference:   64,
	MaxDescription: 256,
	MaxMetadata:    256,
}

type Options struct {
	// Owner governs the fee rate.
	Owner Principal
	// Platform receives the fee leg of every settlement.
	Platform Principal
	// FeeRate applies until the owner persists a rate.
	FeeRate      BasisPoints
	RefundPolicy RefundPolicy
	Limits       Limits
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Ledger runs the payment-intent state machine over a Store and a FundTransfer.
type Ledger struct {
	store    Store
	fees     *FeePolicy
	mover    *mover
	platform Principal
	refund   RefundPolicy
	limits   Limits
	now      func() time.Time
	logger   *slog.Logger
}

func New(store Store, transfer FundTransfer, opts Options) (*Ledger, error) {
	if opts.Owner.IsZero() {
		return nil, errors.New("ledger owner is required")
	}
	if opts.Platform.IsZero() {
		return nil, errors.New("platform principal is required")
	}
	if opts.FeeRate > MaxFeeRate {
		return nil, fmt.Errorf("fee rate %d above ceiling %d", opts.FeeRate, MaxFeeRate)
	}
	refund, err := ParseRefundPolicy(string(opts.RefundPolicy))
	if err != nil {
		return nil, err
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Ledger{
		store:    store,
		fees:     NewFeePolicy(store, opts.Owner, opts.FeeRate),
		mover:    &mover{transfer: transfer, logger: opts.Logger},
		platform: opts.Platform,
		refund:   refund,
		limits:   opts.Limits,
		now:      opts.Clock,
		logger:   opts.Logger,
	}, nil
}

// Create stores a new intent owned by the calling merchant and returns its id.
func (l *Ledger) Create(ctx context.Context, caller Principal, req CreateRequest) (id uint64, err error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("op", "create"))
	defer func() { l.finish(ctx, "create", id, err) }()

	if caller.IsZero() {
		return 0, newError("create", 0, ErrNotAuthorized)
	}
	if err := l.validate(req); err != nil {
		return 0, newError("create", 0, err)
	}

	now := l.now()
	intent := PaymentIntent{
		Merchant:        caller,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		Metadata:        req.Metadata,
		ClientReference: req.ClientReference,
		Status:          StatusCreated,
		CreatedAt:       now,
	}

	stored, err := l.store.Insert(ctx, intent, func(assigned PaymentIntent) (Event, error) {
		return NewEvent(EventCreated, assigned, now)
	})
	if err != nil {
		return 0, newError("create", 0, err)
	}
	return stored.ID, nil
}

// Process settles a created intent: the customer pays the merchant the amount
// net of fee and the platform the fee. Either both legs apply and the intent
// is settled, or nothing changes.
func (l *Ledger) Process(ctx context.Context, id uint64, customer, caller Principal) (_ uint64, err error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("op", "process"), slog.Uint64("paymentId", id))
	defer func() { l.finish(ctx, "process", id, err) }()

	// The rate in effect when Process is called is the one charged. fn runs
	// under the store's lock and must not read back from the store.
	rate, err := l.fees.Rate(ctx)
	if err != nil {
		return 0, newError("process", id, err)
	}

	var applied []Leg
	committed := false
	_, err = l.store.Mutate(ctx, id, func(ctx context.Context, current PaymentIntent) (PaymentIntent, Event, error) {
		switch current.Status {
		case StatusCreated:
		case StatusSettled, StatusRefunded:
			return PaymentIntent{}, Event{}, ErrAlreadyProcessed
		default:
			return PaymentIntent{}, Event{}, ErrInvalidState
		}
		if customer.IsZero() || caller != customer {
			return PaymentIntent{}, Event{}, ErrNotAuthorized
		}

		fee, err := ComputeFee(current.Amount, rate)
		if err != nil {
			return PaymentIntent{}, Event{}, err
		}

		current.Status = StatusProcessing
		legs := []Leg{
			{From: customer, To: current.Merchant, Amount: current.Amount - fee, Memo: fmt.Sprintf("payment %d", id)},
			{From: customer, To: l.platform, Amount: fee, Memo: fmt.Sprintf("payment %d fee", id)},
		}
		moved, err := l.mover.move(ctx, legs)
		if err != nil {
			return PaymentIntent{}, Event{}, err
		}
		applied = moved

		processedAt := l.now()
		current.Customer = customer
		current.Fee = fee
		current.Status = StatusSettled
		current.ProcessedAt = &processedAt

		event, err := NewEvent(EventSettled, current, processedAt)
		if err != nil {
			l.mover.compensate(ctx, applied)
			applied = nil
			return PaymentIntent{}, Event{}, err
		}
		committed = true
		return current, event, nil
	})
	if err != nil {
		if committed && len(applied) > 0 {
			l.logger.ErrorContext(ctx, "Error committing settlement, reversing transfers", "error", err)
			l.mover.compensate(ctx, applied)
		}
		return 0, newError("process", id, err)
	}
	return id, nil
}

// Refund returns a settled payment to its customer.
func (l *Ledger) Refund(ctx context.Context, id uint64, caller Principal) (_ uint64, err error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("op", "refund"), slog.Uint64("paymentId", id))
	defer func() { l.finish(ctx, "refund", id, err) }()

	var applied []Leg
	committed := false
	_, err = l.store.Mutate(ctx, id, func(ctx context.Context, current PaymentIntent) (PaymentIntent, Event, error) {
		if current.Status != StatusSettled {
			return PaymentIntent{}, Event{}, ErrInvalidState
		}
		if caller.IsZero() || caller != current.Merchant {
			return PaymentIntent{}, Event{}, ErrNotAuthorized
		}

		amount := current.Amount
		if l.refund == RefundNet {
			amount = current.Net()
		}
		moved, err := l.mover.move(ctx, []Leg{
			{From: current.Merchant, To: current.Customer, Amount: amount, Memo: fmt.Sprintf("refund %d", id)},
		})
		if err != nil {
			return PaymentIntent{}, Event{}, err
		}
		applied = moved

		refundedAt := l.now()
		current.Status = StatusRefunded
		current.RefundedAt = &refundedAt

		event, err := NewEvent(EventRefunded, current, refundedAt)
		if err != nil {
			l.mover.compensate(ctx, applied)
			applied = nil
			return PaymentIntent{}, Event{}, err
		}
		committed = true
		return current, event, nil
	})
	if err != nil {
		if committed && len(applied) > 0 {
			l.logger.ErrorContext(ctx, "Error committing refund, reversing transfers", "error", err)
			l.mover.compensate(ctx, applied)
		}
		return 0, newError("refund", id, err)
	}
	return id, nil
}

func (l *Ledger) Get(ctx context.Context, id uint64) (PaymentIntent, error) {
	intent, err := l.store.Get(ctx, id)
	if err != nil {
		return PaymentIntent{}, newError("get", id, err)
	}
	return intent, nil
}

func (l *Ledger) GetByReference(ctx context.Context, merchant Principal, reference string) (PaymentIntent, error) {
	intent, err := l.store.GetByReference(ctx, merchant, reference)
	if err != nil {
		return PaymentIntent{}, newError("get-by-reference", 0, err)
	}
	return intent, nil
}

// NextID is informational; concurrent creates may take it first.
func (l *Ledger) NextID(ctx context.Context) (uint64, error) {
	id, err := l.store.NextID(ctx)
	if err != nil {
		return 0, newError("next-id", 0, err)
	}
	return id, nil
}

func (l *Ledger) FeeRate(ctx context.Context) (BasisPoints, error) {
	bps, err := l.fees.Rate(ctx)
	if err != nil {
		return 0, newError("fee-rate", 0, err)
	}
	return bps, nil
}

func (l *Ledger) SetFeeRate(ctx context.Context, bps BasisPoints, caller Principal) (_ BasisPoints, err error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("op", "set-fee-rate"))
	defer func() { l.finish(ctx, "set-fee-rate", 0, err) }()

	rate, err := l.fees.SetRate(ctx, bps, caller)
	if err != nil {
		return 0, newError("set-fee-rate", 0, err)
	}
	return rate, nil
}

// CalculateFee returns the fee the current rate charges on amount.
func (l *Ledger) CalculateFee(ctx context.Context, amount uint64) (uint64, error) {
	fee, err := l.fees.ComputeFee(ctx, amount)
	if err != nil {
		return 0, newError("calculate-fee", 0, err)
	}
	return fee, nil
}

func (l *Ledger) validate(req CreateRequest) error {
	if req.Amount == 0 || req.Amount > math.MaxInt64 {
		return ErrInvalidAmount
	}
	if n := len(req.Currency); n == 0 || n > l.limits.MaxCurrency || !asciiPrintable(req.Currency) {
		return fmt.Errorf("%w: currency must be 1 to %d printable ASCII characters", ErrInvalidInput, l.limits.MaxCurrency)
	}
	if n := len(req.ClientReference); n == 0 || n > l.limits.MaxReference || !asciiPrintable(req.ClientReference) {
		return fmt.Errorf("%w: client reference must be 1 to %d printable ASCII characters", ErrInvalidInput, l.limits.MaxReference)
	}
	if n := utf8.RuneCountInString(req.Description); n == 0 || n > l.limits.MaxDescription || !utf8.ValidString(req.Description) {
		return fmt.Errorf("%w: description must be 1 to %d characters of valid UTF-8", ErrInvalidInput, l.limits.MaxDescription)
	}
	if !utf8.ValidString(req.Metadata) || utf8.RuneCountInString(req.Metadata) > l.limits.MaxMetadata {
		return fmt.Errorf("%w: metadata must be valid UTF-8 of at most %d characters", ErrInvalidInput, l.limits.MaxMetadata)
	}
	return nil
}

func asciiPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func (l *Ledger) finish(ctx context.Context, op string, id uint64, err error) {
	operationCounter(op, err).Inc()
	if err == nil {
		l.logger.InfoContext(ctx, "Ledger operation succeeded", "paymentId", id)
		return
	}
	if KindOf(err) == ErrStorage {
		l.logger.ErrorContext(ctx, "Ledger operation failed", "error", err)
		return
	}
	l.logger.InfoContext(ctx, "Ledger operation rejected", "kind", KindCode(err), "error", err)
}
