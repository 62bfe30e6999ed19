package ledger

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	transferDurationHistogram = metrics.GetOrCreateHistogram(`ledger_transfer_duration_seconds`)

	compensationSuccessCounter = metrics.GetOrCreateCounter(`ledger_compensations_total{result="success"}`)
	compensationFailedCounter  = metrics.GetOrCreateCounter(`ledger_compensations_total{result="failed"}`)
)

func operationCounter(op string, err error) *metrics.Counter {
	result := "success"
	if err != nil {
		result = kindLabel(KindOf(err))
	}
	return metrics.GetOrCreateCounter(fmt.Sprintf(`ledger_operations_total{op=%q,result=%q}`, op, result))
}

func kindLabel(kind error) string {
	switch kind {
	case ErrDuplicateReference:
		return "duplicate_reference"
	case ErrInvalidAmount:
		return "invalid_amount"
	case ErrInvalidInput:
		return "invalid_input"
	case ErrNotFound:
		return "not_found"
	case ErrNotAuthorized:
		return "not_authorized"
	case ErrAlreadyProcessed:
		return "already_processed"
	case ErrInvalidState:
		return "invalid_state"
	case ErrInvalidRate:
		return "invalid_rate"
	case ErrTransferFailed:
		return "transfer_failed"
	case ErrArithmeticOverflow:
		return "arithmetic_overflow"
	default:
		return "storage"
	}
}

// KindCode is the stable snake_case name of an error's kind.
func KindCode(err error) string {
	return kindLabel(KindOf(err))
}
