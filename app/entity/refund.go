package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RefundState string

const (
	RefundPending    RefundState = "pending"
	RefundProcessing RefundState = "processing"
	RefundCompleted  RefundState = "completed"
	RefundFailed     RefundState = "failed"
	RefundCancelled  RefundState = "cancelled"
)

// CountsAgainstBalance reports whether a refund in this state reduces the
// payment's refundable balance. Pending and processing refunds are counted so
// a concurrent attempt cannot over-commit the balance.
func (s RefundState) CountsAgainstBalance() bool {
	switch s {
	case RefundPending, RefundProcessing, RefundCompleted:
		return true
	default:
		return false
	}
}

type Refund struct {
	ID       uint64
	RefundNo string

	PaymentID   uint64
	RequestedBy uint64
	ProcessedBy uint64

	Amount   decimal.Decimal
	Currency string
	Reason   string

	Status RefundState

	// Snapshot of the originating payment at request time, kept for audit
	// independence from later payment mutation.
	PaymentAmount decimal.Decimal
	GatewayCode   string
	GatewayTxnID  *string

	GatewayRefundID *string
	FailureReason   *string
	Metadata        map[string]string

	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewRefund creates a pending refund carrying a snapshot of the payment.
func NewRefund(payment *Payment, amount decimal.Decimal, reason string, requestedBy, processedBy uint64, metadata map[string]string) *Refund {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Refund{
		RefundNo:      uuid.NewString(),
		PaymentID:     payment.ID,
		RequestedBy:   requestedBy,
		ProcessedBy:   processedBy,
		Amount:        amount,
		Currency:      payment.Currency,
		Reason:        reason,
		Status:        RefundPending,
		PaymentAmount: payment.Amount,
		GatewayCode:   payment.GatewayCode,
		GatewayTxnID:  payment.GatewayTxnID,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *Refund) Complete(gatewayRefundID string, at time.Time) {
	r.Status = RefundCompleted
	if gatewayRefundID != "" {
		r.GatewayRefundID = &gatewayRefundID
	}
	r.ProcessedAt = &at
	r.UpdatedAt = at
}

func (r *Refund) Fail(reason string, at time.Time) {
	r.Status = RefundFailed
	if reason != "" {
		r.FailureReason = &reason
	}
	r.UpdatedAt = at
}
