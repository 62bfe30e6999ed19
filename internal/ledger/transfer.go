package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Leg is a single movement of Amount base units.
type Leg struct {
	From   Principal `json:"from"`
	To     Principal `json:"to"`
	Amount uint64    `json:"amount"`
	Memo   string    `json:"memo,omitempty"`
}

func (l Leg) Reverse() Leg {
	return Leg{From: l.To, To: l.From, Amount: l.Amount, Memo: "reversal: " + l.Memo}
}

// FundTransfer moves funds between principals and fails atomically per call.
type FundTransfer interface {
	Transfer(ctx context.Context, leg Leg) error
}

// BatchTransfer is implemented by adapters that can apply several legs as one
// all-or-nothing request.
type BatchTransfer interface {
	FundTransfer
	TransferBatch(ctx context.Context, legs []Leg) error
}

type mover struct {
	transfer FundTransfer
	logger   *slog.Logger
}

// move applies all non-empty legs or none of them. Without batch support it
// runs the legs in order and reverses the applied ones when a later leg fails.
// The returned legs are the ones that were applied.
func (m *mover) move(ctx context.Context, legs []Leg) ([]Leg, error) {
	var pending []Leg
	for _, leg := range legs {
		if leg.Amount > 0 {
			pending = append(pending, leg)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	startTime := time.Now()
	defer func() {
		transferDurationHistogram.Update(time.Since(startTime).Seconds())
	}()

	if batch, ok := m.transfer.(BatchTransfer); ok {
		if err := batch.TransferBatch(ctx, pending); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return pending, nil
	}

	for i, leg := range pending {
		if err := m.transfer.Transfer(ctx, leg); err != nil {
			m.compensate(ctx, pending[:i])
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}
	return pending, nil
}

// compensate reverses applied legs, newest first. It runs detached from the
// caller's cancellation so a cancelled request still unwinds its transfers.
func (m *mover) compensate(ctx context.Context, applied []Leg) {
	if len(applied) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	reversals := make([]Leg, 0, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		reversals = append(reversals, applied[i].Reverse())
	}

	if batch, ok := m.transfer.(BatchTransfer); ok {
		if err := batch.TransferBatch(ctx, reversals); err != nil {
			m.compensationFailed(ctx, reversals, err)
			return
		}
		compensationSuccessCounter.Inc()
		return
	}

	var failed error
	for _, leg := range reversals {
		if err := m.transfer.Transfer(ctx, leg); err != nil {
			failed = errors.Join(failed, err)
			m.logger.ErrorContext(ctx, "Error reversing transfer leg", "from", leg.From, "to", leg.To, "amount", leg.Amount, "error", err)
		}
	}
	if failed != nil {
		compensationFailedCounter.Inc()
		return
	}
	compensationSuccessCounter.Inc()
}

func (m *mover) compensationFailed(ctx context.Context, reversals []Leg, err error) {
	compensationFailedCounter.Inc()
	m.logger.ErrorContext(ctx, "Error reversing transfer batch", "legs", reversals, "error", err)
}
