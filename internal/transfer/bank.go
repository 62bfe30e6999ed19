// Package transfer holds the fund-transfer adapters used by the ledger.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"payment-gateway/internal/ledger"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrInvalidLeg        = errors.New("invalid transfer leg")
)

// Bank is an in-memory balance book. Batches apply all legs or none.
type Bank struct {
	mu       sync.Mutex
	balances map[ledger.Principal]uint64
	history  []ledger.Leg
}

func NewBank() *Bank {
	return &Bank{balances: make(map[ledger.Principal]uint64)}
}

// Mint credits amount to p out of thin air.
func (b *Bank) Mint(p ledger.Principal, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[p] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	b.balances[p] += amount
	return nil
}

func (b *Bank) Balance(p ledger.Principal) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[p]
}

// History returns the applied legs in order.
func (b *Bank) History() []ledger.Leg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ledger.Leg(nil), b.history...)
}

func (b *Bank) Transfer(ctx context.Context, leg ledger.Leg) error {
	return b.TransferBatch(ctx, []ledger.Leg{leg})
}

func (b *Bank) TransferBatch(ctx context.Context, legs []ledger.Leg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[ledger.Principal]uint64)
	balance := func(p ledger.Principal) uint64 {
		if v, ok := next[p]; ok {
			return v
		}
		return b.balances[p]
	}

	for i, leg := range legs {
		if leg.From.IsZero() || leg.To.IsZero() || leg.From == leg.To {
			return fmt.Errorf("leg %d: %w", i, ErrInvalidLeg)
		}
		from, to := balance(leg.From), balance(leg.To)
		if from < leg.Amount {
			return fmt.Errorf("leg %d: %s has %d, needs %d: %w", i, leg.From, from, leg.Amount, ErrInsufficientFunds)
		}
		if to > math.MaxUint64-leg.Amount {
			return fmt.Errorf("leg %d: %w", i, ErrBalanceOverflow)
		}
		next[leg.From] = from - leg.Amount
		next[leg.To] = to + leg.Amount
	}

	for p, v := range next {
		b.balances[p] = v
	}
	b.history = append(b.history, legs...)
	return nil
}
