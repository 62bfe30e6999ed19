package ledger

import (
	"context"
	"errors"
	"math/bits"
)

// BasisPoints is a rate in hundredths of a percent.
type BasisPoints uint32

const (
	Denominator    BasisPoints = 10_000
	MaxFeeRate     BasisPoints = 1000
	DefaultFeeRate BasisPoints = 250
)

// ComputeFee returns floor(amount * bps / 10000). The product is computed in
// 128 bits, so the only overflow is a quotient that does not fit in 64 bits.
func ComputeFee(amount uint64, bps BasisPoints) (uint64, error) {
	if bps > Denominator {
		return 0, ErrInvalidRate
	}
	hi, lo := bits.Mul64(amount, uint64(bps))
	if hi >= uint64(Denominator) {
		return 0, ErrArithmeticOverflow
	}
	fee, _ := bits.Div64(hi, lo, uint64(Denominator))
	return fee, nil
}

// FeePolicy holds the platform fee rate. Only the owner may change it.
type FeePolicy struct {
	store    Store
	owner    Principal
	fallback BasisPoints
}

func NewFeePolicy(store Store, owner Principal, fallback BasisPoints) *FeePolicy {
	return &FeePolicy{store: store, owner: owner, fallback: fallback}
}

func (f *FeePolicy) Rate(ctx context.Context) (BasisPoints, error) {
	bps, err := f.store.FeeRate(ctx)
	if errors.Is(err, ErrFeeRateUnset) {
		return f.fallback, nil
	}
	if err != nil {
		return 0, err
	}
	return bps, nil
}

func (f *FeePolicy) SetRate(ctx context.Context, bps BasisPoints, caller Principal) (BasisPoints, error) {
	if caller.IsZero() || caller != f.owner {
		return 0, ErrNotAuthorized
	}
	if bps > MaxFeeRate {
		return 0, ErrInvalidRate
	}
	if err := f.store.SetFeeRate(ctx, bps); err != nil {
		return 0, err
	}
	return bps, nil
}

func (f *FeePolicy) ComputeFee(ctx context.Context, amount uint64) (uint64, error) {
	bps, err := f.Rate(ctx)
	if err != nil {
		return 0, err
	}
	return ComputeFee(amount, bps)
}
