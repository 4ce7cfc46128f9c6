package entity

import "time"

// PaymentEvent is an append-only audit row written on every state transition.
type PaymentEvent struct {
	ID uint64

	PaymentID uint64

	EventType string

	OldStatus *PaymentStatus
	NewStatus PaymentStatus

	PayloadJSON *string

	CreatedAt time.Time
}
