package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProfileStatus string

const (
	ProfileStatusActive    ProfileStatus = "active"
	ProfileStatusSuspended ProfileStatus = "suspended"
	ProfileStatusCancelled ProfileStatus = "cancelled"
	ProfileStatusExpired   ProfileStatus = "expired"
)

type BillingPeriod string

const (
	BillingPeriodDay   BillingPeriod = "day"
	BillingPeriodWeek  BillingPeriod = "week"
	BillingPeriodMonth BillingPeriod = "month"
	BillingPeriodYear  BillingPeriod = "year"
)

const DefaultMaxFailures = 3

// RecurringPaymentProfile is a standing instruction to bill a payable owner
// once per cycle.
type RecurringPaymentProfile struct {
	ID      uint64
	UserID  uint64
	Payable PayableRef

	GatewayCode      string
	GatewayProfileID *string

	Amount   decimal.Decimal
	Currency string

	BillingPeriod    BillingPeriod
	BillingFrequency int32

	StartDate       time.Time
	NextBillingDate time.Time
	EndDate         *time.Time

	Status ProfileStatus

	FailureCount int32
	MaxFailures  int32

	// PaymentMethodToken references the stored instrument at the gateway.
	// Raw card or account data never lands here.
	PaymentMethodToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NextCycleDate advances from the given cycle anchor by exactly one billing
// cycle. Advancing from the previous next_billing_date rather than from "now"
// keeps the cadence fixed regardless of processing delays.
func (p *RecurringPaymentProfile) NextCycleDate(from time.Time) time.Time {
	n := int(p.BillingFrequency)
	if n < 1 {
		n = 1
	}
	switch p.BillingPeriod {
	case BillingPeriodDay:
		return from.AddDate(0, 0, n)
	case BillingPeriodWeek:
		return from.AddDate(0, 0, 7*n)
	case BillingPeriodYear:
		return from.AddDate(n, 0, 0)
	default:
		return from.AddDate(0, n, 0)
	}
}

// RecordFailure increments the failure counter and suspends the profile once
// the count exceeds max_failures. Returns true when the profile suspended.
func (p *RecurringPaymentProfile) RecordFailure() bool {
	p.FailureCount++
	max := p.MaxFailures
	if max <= 0 {
		max = DefaultMaxFailures
	}
	if p.FailureCount > max {
		p.Status = ProfileStatusSuspended
		return true
	}
	return false
}
