// Package events publishes committed-transaction events to downstream
// consumers. Publishing happens after the durable append and is
// fire-and-forget: a failed publish never changes a transaction's outcome.
package events

import (
	"context"
	"time"

	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// Publisher emits an event for every committed transaction.
type Publisher interface {
	PublishCommitted(ctx context.Context, result domain.TransactionResult) error
}

// TransactionCommitted is the event payload.
type TransactionCommitted struct {
	TransactionID string                 `json:"transaction_id"`
	Kind          domain.TransactionKind `json:"kind"`
	Legs          []domain.Leg           `json:"legs"`
	CommittedAt   time.Time              `json:"committed_at"`
}

// NewTransactionCommitted builds the event payload from a terminal result.
func NewTransactionCommitted(result domain.TransactionResult) TransactionCommitted {
	return TransactionCommitted{
		TransactionID: result.Transaction.ID,
		Kind:          result.Transaction.Kind,
		Legs:          result.Transaction.Legs,
		CommittedAt:   result.Transaction.CompletedAt,
	}
}

// LogPublisher only logs events. It is the publisher used when no broker is
// configured and in tests.
type LogPublisher struct{}

// PublishCommitted logs the committed transaction.
func (LogPublisher) PublishCommitted(ctx context.Context, result domain.TransactionResult) error {
	l := zerolog.Ctx(ctx)

	l.Info().
		Str("transaction_id", result.Transaction.ID).
		Str("kind", string(result.Transaction.Kind)).
		Msg("transaction committed")

	return nil
}
