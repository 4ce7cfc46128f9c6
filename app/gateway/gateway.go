// Package gateway holds the client adapters that normalize each provider's
// protocol into the internal payment state machine.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/axiomedu/ms-go-billing/app/entity"
)

// ErrNotSupported is returned by adapters for operations the provider cannot
// perform (e.g. tokenized recurring charges on a redirect-only gateway).
var ErrNotSupported = errors.New("operation is not supported by this gateway")

// CommunicationError marks an HTTP-level failure against the provider. It is
// retryable: the remote side may have succeeded even though the response was
// lost, so callers must re-verify before concluding failure.
type CommunicationError struct {
	Gateway string
	Err     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("gateway %s communication failed: %v", e.Gateway, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

func IsCommunicationError(err error) bool {
	var commErr *CommunicationError
	return errors.As(err, &commErr)
}

type InitOptions struct {
	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	SuccessURL string
	FailURL    string
	CancelURL  string

	Metadata map[string]string
}

type InitResult struct {
	// GatewayRef is the provider correlation id for the checkout, stored on
	// the payment for callback and poll lookups.
	GatewayRef  string
	RedirectURL string

	// Details are provider-specific audit fields merged into the payment's
	// details bag.
	Details map[string]string
}

// CallbackRef is what an adapter can extract from a raw callback payload to
// locate the payment. The payload itself is never trusted for status.
type CallbackRef struct {
	InvoiceNumber string
	GatewayRef    string
}

type StatusResult struct {
	Status        entity.PaymentStatus
	TransactionID string
	Reason        string
}

type ChargeResult struct {
	Status        entity.PaymentStatus
	TransactionID string
	Reason        string
}

type RefundResult struct {
	Status          entity.RefundState
	GatewayRefundID string
	Reason          string
}

// Client is the uniform per-provider contract. The gateway row is passed into
// every call so rotated credentials and URL changes apply immediately;
// clients themselves hold no configuration beyond an HTTP timeout.
type Client interface {
	Code() string

	// RequiredCredentials lists the credential bag keys the client needs.
	RequiredCredentials() []string

	// Initialize performs the provider handshake for a hosted checkout.
	Initialize(ctx context.Context, gw *entity.PaymentGateway, payment *entity.Payment, opts InitOptions) (*InitResult, error)

	// ExtractCallback pulls correlation identifiers out of a callback
	// payload. It performs no remote call and implies nothing about status.
	ExtractCallback(payload map[string]string) CallbackRef

	// QueryStatus asks the provider for the authoritative payment status.
	QueryStatus(ctx context.Context, gw *entity.PaymentGateway, payment *entity.Payment) (*StatusResult, error)

	// ChargeRecurring bills a stored instrument for one cycle of a profile.
	ChargeRecurring(ctx context.Context, gw *entity.PaymentGateway, profile *entity.RecurringPaymentProfile, payment *entity.Payment) (*ChargeResult, error)

	// Refund sends a refund for a completed payment through the provider.
	Refund(ctx context.Context, gw *entity.PaymentGateway, refund *entity.Refund) (*RefundResult, error)

	// LookupRefund asks the provider for the current state of a previously
	// submitted refund.
	LookupRefund(ctx context.Context, gw *entity.PaymentGateway, refund *entity.Refund) (*RefundResult, error)
}
