package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"payment-gateway/internal/ledger"
	"payment-gateway/internal/logcontext"
	"payment-gateway/internal/message"
)

var ErrUnknownCommand = errors.New("unknown command type")

// Ledger is the part of *ledger.Ledger commands drive.
type Ledger interface {
	Create(ctx context.Context, caller ledger.Principal, req ledger.CreateRequest) (uint64, error)
	Process(ctx context.Context, id uint64, customer, caller ledger.Principal) (uint64, error)
	Refund(ctx context.Context, id uint64, caller ledger.Principal) (uint64, error)
}

// Processor applies payment commands to the ledger with bounded parallelism.
type Processor struct {
	ledger Ledger
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewProcessor(l Ledger, parallelism int, logger *slog.Logger) *Processor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Processor{
		ledger: l,
		sem:    make(chan struct{}, parallelism),
		logger: logger,
	}
}

// Process hands cmd to a worker and returns once a slot is free. Ledger
// rejections are final for a command and only get logged and counted.
func (p *Processor) Process(ctx context.Context, cmd message.Command) error {
	ctx = logcontext.AppendCtx(ctx, slog.String("commandId", cmd.ID.String()), slog.String("type", string(cmd.Type)))
	p.logger.InfoContext(ctx, "Processing command")

	if !known(cmd.Type) {
		p.logger.WarnContext(ctx, "Skipping unknown command type")
		counter("skipped", "unknown_command").Inc()
		return nil
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()

		// an accepted command runs to completion even during shutdown
		id, err := p.Apply(context.WithoutCancel(ctx), cmd)
		switch {
		case err == nil:
			p.logger.InfoContext(ctx, "Command applied", "paymentId", id)
			counter("success", "").Inc()
		case ledger.KindOf(err) == ledger.ErrStorage:
			p.logger.ErrorContext(ctx, "Error applying command", "error", err)
			counter("failed", ledger.KindCode(err)).Inc()
		default:
			p.logger.WarnContext(ctx, "Command rejected", "error", err, "code", ledger.KindCode(err))
			counter("rejected", ledger.KindCode(err)).Inc()
		}
	}()
	return nil
}

// Apply runs cmd against the ledger synchronously and returns the payment id.
func (p *Processor) Apply(ctx context.Context, cmd message.Command) (uint64, error) {
	caller := ledger.Principal(cmd.Caller)
	switch cmd.Type {
	case message.CommandCreate:
		return p.ledger.Create(ctx, caller, ledger.CreateRequest{
			Amount:          cmd.Amount,
			Currency:        cmd.Currency,
			Description:     cmd.Description,
			Metadata:        cmd.Metadata,
			ClientReference: cmd.ClientReference,
		})
	case message.CommandProcess:
		return p.ledger.Process(ctx, cmd.PaymentID, ledger.Principal(cmd.Customer), caller)
	case message.CommandRefund:
		return p.ledger.Refund(ctx, cmd.PaymentID, caller)
	default:
		return 0, errors.Wrapf(ErrUnknownCommand, "%q", cmd.Type)
	}
}

// Wait blocks until every accepted command has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func known(t message.CommandType) bool {
	switch t {
	case message.CommandCreate, message.CommandProcess, message.CommandRefund:
		return true
	}
	return false
}

func counter(result, kind string) *metrics.Counter {
	if kind == "" {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`command_processor_total{result=%q}`, result))
	}
	return metrics.GetOrCreateCounter(fmt.Sprintf(`command_processor_total{result=%q,kind=%q}`, result, kind))
}
