package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusExpired    PaymentStatus = "expired"
)

// Terminal reports whether the status is final for payment_status.
// Completed payments may still change refund_status, but never payment_status.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	default:
		return false
	}
}

type RefundStatus string

const (
	RefundStatusNone      RefundStatus = ""
	RefundStatusPartial   RefundStatus = "partially_refunded"
	RefundStatusFull      RefundStatus = "fully_refunded"
)

type Payment struct {
	ID uint64

	InvoiceNumber string
	Payable       PayableRef

	GatewayCode  string
	GatewayRef   *string
	GatewayTxnID *string

	Amount         decimal.Decimal
	DiscountAmount decimal.Decimal
	FineAmount     decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	PaidAmount     decimal.Decimal
	DueAmount      decimal.Decimal
	Currency       string

	Status       PaymentStatus
	RefundStatus RefundStatus

	FailureReason *string

	// Details is the gateway-specific audit bag. Keys beyond the adapter's
	// required-keys contract are opaque to the rest of the system.
	Details map[string]string

	ProfileID   *uint64
	PaymentDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

var errNegativeAmount = errors.New("monetary amounts must be non-negative")

// NewPayment builds a pending payment for a payable owner and derives
// total_amount and due_amount from the component amounts.
func NewPayment(payable PayableRef, amount, discount, fine, tax decimal.Decimal, currency string) (*Payment, error) {
	if !payable.Kind.Valid() {
		return nil, errors.New("unknown payable kind")
	}
	for _, v := range []decimal.Decimal{amount, discount, fine, tax} {
		if v.IsNegative() {
			return nil, errNegativeAmount
		}
	}

	total := amount.Sub(discount).Add(fine).Add(tax)
	if total.IsNegative() {
		return nil, errNegativeAmount
	}

	now := time.Now().UTC()
	return &Payment{
		InvoiceNumber:  uuid.NewString(),
		Payable:        payable,
		Amount:         amount,
		DiscountAmount: discount,
		FineAmount:     fine,
		TaxAmount:      tax,
		TotalAmount:    total,
		PaidAmount:     decimal.Zero,
		DueAmount:      total,
		Currency:       currency,
		Status:         PaymentStatusPending,
		RefundStatus:   RefundStatusNone,
		Details:        map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Settle marks the payment fully paid. The caller owns the row lock.
func (p *Payment) Settle(txnID string, at time.Time) {
	p.Status = PaymentStatusCompleted
	p.PaidAmount = p.TotalAmount
	p.DueAmount = decimal.Zero
	p.PaymentDate = &at
	if txnID != "" {
		p.GatewayTxnID = &txnID
	}
	p.UpdatedAt = at
}

func (p *Payment) MarkFailed(reason string, at time.Time) {
	p.Status = PaymentStatusFailed
	if reason != "" {
		p.FailureReason = &reason
	}
	p.UpdatedAt = at
}

// Detail reads a key from the details bag, tolerating a nil bag.
func (p *Payment) Detail(key string) string {
	if p.Details == nil {
		return ""
	}
	return p.Details[key]
}

// MergeDetails copies gateway correlation fields into the details bag.
func (p *Payment) MergeDetails(fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	if p.Details == nil {
		p.Details = map[string]string{}
	}
	for k, v := range fields {
		p.Details[k] = v
	}
}
