package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
)

// Notifier receives domain events for the notification subsystem. The billing
// core never performs notification I/O itself.
type Notifier interface {
	PaymentProcessed(ctx context.Context, payment *entity.Payment)
}

type NopNotifier struct{}

func (NopNotifier) PaymentProcessed(context.Context, *entity.Payment) {}

// recordEvent appends an audit row. Event writes are best-effort and never
// fail the surrounding operation.
func (s *PaymentService) recordEvent(ctx context.Context, payment *entity.Payment, eventType string, oldStatus *entity.PaymentStatus, payload map[string]string) {
	var payloadJSON *string
	if len(payload) > 0 {
		if encoded, err := json.Marshal(payload); err == nil {
			raw := truncate(string(encoded), 4096)
			payloadJSON = &raw
		}
	}

	_ = s.events.Create(ctx, &entity.PaymentEvent{
		PaymentID:   payment.ID,
		EventType:   eventType,
		OldStatus:   oldStatus,
		NewStatus:   payment.Status,
		PayloadJSON: payloadJSON,
		CreatedAt:   time.Now().UTC(),
	})
}
