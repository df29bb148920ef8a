package event

import (
	"context"
	"encoding/json"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// PaymentEventJournal writes each payment event as one structured log line
// carrying the JSON payload, for downstream log shipping
type PaymentEventJournal struct {
	serializer *EventSerializer
}

// NewPaymentEventJournal creates the journal handler
func NewPaymentEventJournal(serializer *EventSerializer) *PaymentEventJournal {
	if serializer == nil {
		serializer = NewPaymentEventSerializer()
	}
	return &PaymentEventJournal{serializer: serializer}
}

// EventTypes returns the payment event types
func (j *PaymentEventJournal) EventTypes() []string {
	return []string{
		finance.EventTypePaymentLinked,
		finance.EventTypePaymentUnlinked,
		finance.EventTypePaymentAllocated,
		finance.EventTypeAllocationReversed,
	}
}

// Handle logs the event
func (j *PaymentEventJournal) Handle(ctx context.Context, event shared.DomainEvent) error {
	payload, err := j.serializer.Serialize(event)
	if err != nil {
		return err
	}
	logger.L(ctx).Info("payment event",
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
		zap.String("payment_id", event.AggregateID().String()),
		zap.String("tenant_id", event.TenantID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
		zap.Any("payload", json.RawMessage(payload)),
	)
	return nil
}

var _ shared.EventHandler = (*PaymentEventJournal)(nil)
