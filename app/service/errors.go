package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrGatewayNotFound      = errors.New("payment gateway not found")
	ErrGatewayInactive      = errors.New("payment gateway is inactive")
	ErrGatewayMisconfigured = errors.New("payment gateway is misconfigured")
	ErrGatewayUnsupported   = errors.New("payment gateway has no registered client")
	ErrAlreadyProcessed     = errors.New("payment already processed")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrNotRefundable        = errors.New("payment is not refundable")
	ErrRefundNotFound       = errors.New("refund not found")
	ErrRefundNotCancellable = errors.New("refund can no longer be cancelled")
	ErrProfileNotFound      = errors.New("recurring payment profile not found")
	ErrProfileSuspended     = errors.New("recurring payment profile is suspended")
)

// AmountExceedsLimitError reports a refund request above the refundable
// balance, carrying the computed maximum.
type AmountExceedsLimitError struct {
	Max decimal.Decimal
}

func (e *AmountExceedsLimitError) Error() string {
	return fmt.Sprintf("refund amount exceeds refundable balance: max_amount=%s", e.Max.StringFixed(2))
}
