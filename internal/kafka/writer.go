package kafka

import (
	"github.com/segmentio/kafka-go"

	"payment-gateway/internal/config"
)

func NewWriter(cfg config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Broker.URL),
		Topic:                  cfg.Topic.PaymentEvents,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              cfg.Writer.BatchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.Writer.BatchTimeout(),
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}
