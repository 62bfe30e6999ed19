package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-gateway/internal/config"
	"payment-gateway/internal/ledger"
	"payment-gateway/internal/logcontext"
	"payment-gateway/internal/message"
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`outbox_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`outbox_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`outbox_producer_total{result="update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`outbox_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`outbox_producer_duration_milliseconds`)

	// producer per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="rescheduled"}`)
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer polls the ledger outbox and publishes pending payment events.
// Events that keep failing are rescheduled with a linear delay and parked
// once they reach the attempt limit.
type Producer struct {
	outbox             ledger.Outbox
	writer             MessageWriter
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	now                func() time.Time
	logger             *slog.Logger
}

func NewProducer(outbox ledger.Outbox, writer MessageWriter, cfg config.Outbox, logger *slog.Logger) *Producer {
	return &Producer{
		outbox:             outbox,
		writer:             writer,
		pollingInterval:    cfg.PollingInterval(),
		fetchSize:          cfg.FetchSize,
		retryDelay:         cfg.RescheduleDelay(),
		maxPublishAttempts: cfg.MaxPublishAttempts,
		now:                func() time.Time { return time.Now().UTC() },
		logger:             logger,
	}
}

// Start runs the polling loop until ctx is done. The returned channel is
// closed when the loop exits.
func (p *Producer) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.Publish(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping producer")
				return
			}
		}
	}()
	return done
}

// Publish runs one polling round and returns the number of events it handled.
func (p *Producer) Publish(ctx context.Context) int {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	now := p.now()
	events, err := p.outbox.PendingEvents(ctx, now, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching pending events", "error", err)
		producerErrorFetchingCounter.Inc()
		return 0
	}
	if len(events) == 0 {
		p.logger.DebugContext(ctx, "No pending events found")
		producerSuccessCounter.Inc()
		return 0
	}

	kafkaMessages, err := p.toKafkaMessages(ctx, events)
	if err == nil {
		p.logger.InfoContext(ctx, "Writing messages to Kafka", "count", len(kafkaMessages))
		err = p.writer.WriteMessages(ctx, kafkaMessages...)
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", err)
		producerErrorKafkaCounter.Inc()
	}

	for i := range events {
		event := &events[i]
		messageCtx := logcontext.AppendCtx(ctx, slog.String("eventId", event.ID.String()))

		event.PublishAttempts++

		if err != nil {
			errMsg := err.Error()
			event.Error = &errMsg

			if event.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(messageCtx, "Max attempts reached for event")
				event.ScheduledAt = nil

				producerMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(event.PublishAttempts) * p.retryDelay)
				event.ScheduledAt = &scheduledAt

				producerMessagesRescheduledCounter.Inc()
			}
		} else {
			publishedAt := now
			event.PublishedAt = &publishedAt
			event.ScheduledAt = nil
			event.Error = nil

			producerMessagesPublishedCounter.Inc()
		}
	}

	if err := p.outbox.UpdateEvents(ctx, events); err != nil {
		p.logger.ErrorContext(ctx, "Error updating events", "error", err)
		producerErrorUpdateCounter.Inc()
		return len(events)
	}

	p.logger.InfoContext(ctx, "Outbox round completed", "count", len(events))
	producerSuccessCounter.Inc()
	return len(events)
}

func (p *Producer) toKafkaMessages(ctx context.Context, events []ledger.Event) ([]kafka.Message, error) {
	kafkaMessages := make([]kafka.Message, 0, len(events))

	for _, event := range events {
		p.logger.DebugContext(ctx, "Preparing Kafka message for event", "id", event.ID)

		eventMessage := message.PaymentEvent{
			ID:         event.ID,
			Event:      string(event.Type),
			PaymentID:  event.PaymentID,
			OccurredAt: event.CreatedAt,
			Attempts:   event.PublishAttempts,
			Payload:    event.Payload,
		}

		messageBytes, err := json.Marshal(eventMessage)
		if err != nil {
			return nil, err
		}

		kafkaMessages = append(kafkaMessages, kafka.Message{
			// payment id as key keeps events of one payment ordered
			Key:   []byte(strconv.FormatUint(event.PaymentID, 10)),
			Value: messageBytes,
		})
	}
	return kafkaMessages, nil
}
