package events

import (
	"context"
	"encoding/json"

	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes committed-transaction events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a publisher writing to the given broker and topic.
func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishCommitted writes the event keyed by transaction id so all events
// of one transaction land in one partition.
func (p *KafkaPublisher) PublishCommitted(ctx context.Context, result domain.TransactionResult) error {
	data, err := json.Marshal(NewTransactionCommitted(result))
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(result.Transaction.ID),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
