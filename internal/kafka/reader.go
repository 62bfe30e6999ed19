package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"

	"payment-gateway/internal/config"
	"payment-gateway/internal/message"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var paymentCommandMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="payment_command"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="payment_command"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="payment_command"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="payment_command"}`),
}

// MessageReader is the part of *kafka.Reader the read loop uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// CommandProcessor accepts a decoded command.
type CommandProcessor interface {
	Process(ctx context.Context, cmd message.Command) error
}

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   cfg.Topic.PaymentCommands,
	})
}

// ReadPaymentCommands consumes payment commands until ctx is done. The
// returned channel is closed when the loop exits.
func ReadPaymentCommands(ctx context.Context, reader MessageReader, processor CommandProcessor, logger *slog.Logger) <-chan struct{} {
	return readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var cmd message.Command
		if err := json.Unmarshal(value, &cmd); err != nil {
			logger.ErrorContext(ctx, "Error unmarshalling message", "error", err)
			paymentCommandMetrics.UnmarshalErrorCounter.Inc()
			return nil
		}
		return processor.Process(ctx, cmd)
	}, paymentCommandMetrics)
}

func readMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			logger.DebugContext(ctx, "Waiting for messages from Kafka...")
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					logger.InfoContext(ctx, "Context done, stopping reader")
					return
				}
				logger.ErrorContext(ctx, "Error reading message", "error", err)
				kafkaMetrics.ReadErrorCounter.Inc()
				continue
			}
			logger.InfoContext(ctx, "Received message", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)

			if err := process(ctx, m.Value); err != nil {
				logger.ErrorContext(ctx, "Error processing message", "error", err)
				kafkaMetrics.ProcessErrorCounter.Inc()
				continue
			}
			kafkaMetrics.SuccessCounter.Inc()
		}
	}()
	return done
}
