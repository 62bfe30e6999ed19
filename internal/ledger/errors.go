package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Every failed ledger operation classifies as exactly one of them.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDuplicateReference = fmt.Errorf("%w: duplicate client reference", ErrInvalidInput)
	ErrNotFound           = errors.New("payment not found")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrInvalidState       = errors.New("invalid payment state")
	ErrAlreadyProcessed   = errors.New("payment already processed")
	ErrInvalidRate        = errors.New("invalid fee rate")
	ErrTransferFailed     = errors.New("transfer failed")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrStorage            = errors.New("storage failure")
)

// ErrFeeRateUnset is returned by stores that have never persisted a fee rate.
var ErrFeeRateUnset = errors.New("fee rate not set")

// kinds is ordered: more specific kinds come before the kinds they wrap.
var kinds = []error{
	ErrDuplicateReference,
	ErrInvalidAmount,
	ErrInvalidInput,
	ErrNotFound,
	ErrNotAuthorized,
	ErrAlreadyProcessed,
	ErrInvalidState,
	ErrInvalidRate,
	ErrTransferFailed,
	ErrArithmeticOverflow,
	ErrStorage,
}

// KindOf returns the error kind err belongs to, or nil for a nil error.
// Errors that match no kind are storage failures.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrStorage
}

// Error describes a failed ledger operation.
type Error struct {
	Op        string
	PaymentID uint64
	Kind      error
	Err       error
}

func (e *Error) Error() string {
	if e.PaymentID != 0 {
		return fmt.Sprintf("ledger: %s payment %d: %v", e.Op, e.PaymentID, e.Err)
	}
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Kind == nil || errors.Is(e.Err, e.Kind) {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, id uint64, err error) *Error {
	return &Error{Op: op, PaymentID: id, Kind: KindOf(err), Err: err}
}
