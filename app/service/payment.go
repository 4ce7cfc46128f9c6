package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
	"github.com/axiomedu/ms-go-billing/app/factory"
	"github.com/axiomedu/ms-go-billing/app/gateway"
	"github.com/axiomedu/ms-go-billing/app/repository"
	"github.com/axiomedu/ms-go-billing/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize        = int32(100)
	defaultRetryMaxAttempts = int32(3)
)

type paymentRepository interface {
	Create(ctx context.Context, tx repository.DBTX, payment *entity.Payment) error
	Update(ctx context.Context, tx repository.DBTX, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByInvoice(ctx context.Context, invoiceNumber string) (*entity.Payment, error)
	FindByGatewayRef(ctx context.Context, gatewayCode, gatewayRef string) (*entity.Payment, error)
	LockByID(ctx context.Context, tx repository.DBTX, id uint64) (*entity.Payment, error)
	FindCyclePayment(ctx context.Context, tx repository.DBTX, profileID uint64, cycleStart time.Time) (*entity.Payment, error)
}

type gatewayRepository interface {
	FindByCode(ctx context.Context, code string) (*entity.PaymentGateway, error)
}

type profileRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.RecurringPaymentProfile, error)
	LockByID(ctx context.Context, tx repository.DBTX, id uint64) (*entity.RecurringPaymentProfile, error)
	Update(ctx context.Context, tx repository.DBTX, profile *entity.RecurringPaymentProfile) error
	ListDue(ctx context.Context, now time.Time, force bool, limit int32) ([]*entity.RecurringPaymentProfile, error)
	ListRetryable(ctx context.Context, now time.Time, maxAttempts int32, limit int32) ([]*entity.RecurringPaymentProfile, error)
}

type refundRepository interface {
	Create(ctx context.Context, refund *entity.Refund) error
	Update(ctx context.Context, tx repository.DBTX, refund *entity.Refund) error
	FindByID(ctx context.Context, id uint64) (*entity.Refund, error)
	SumActive(ctx context.Context, tx repository.DBTX, paymentID uint64) (decimal.Decimal, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Refund, error)
}

type eventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

type PaymentService struct {
	payments paymentRepository
	gateways gatewayRepository
	profiles profileRepository
	refunds  refundRepository
	events   eventRepository

	registry *gateway.Registry
	tx       repository.TxRunner
	notifier Notifier

	billingCfg config.BillingConfig
	refundsCfg config.RefundsConfig

	logger logrus.FieldLogger
}

func NewPaymentService(
	payments paymentRepository,
	gateways gatewayRepository,
	profiles profileRepository,
	refunds refundRepository,
	events eventRepository,
	registry *gateway.Registry,
	tx repository.TxRunner,
	notifier Notifier,
	billingCfg config.BillingConfig,
	refundsCfg config.RefundsConfig,
) *PaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &PaymentService{
		payments:   payments,
		gateways:   gateways,
		profiles:   profiles,
		refunds:    refunds,
		events:     events,
		registry:   registry,
		tx:         tx,
		notifier:   notifier,
		billingCfg: billingCfg,
		refundsCfg: refundsCfg,
		logger:     factory.NewModuleLogger("billing-service"),
	}
}

// InitResult is what checkout initialization hands back to the caller: a
// redirect for online gateways, or payer instructions for offline ones.
type InitResult struct {
	Payment      *entity.Payment
	RedirectURL  string
	Instructions string
}

func (s *PaymentService) GetPaymentByInvoice(ctx context.Context, invoiceNumber string) (*entity.Payment, error) {
	payment, err := s.payments.FindByInvoice(ctx, strings.TrimSpace(invoiceNumber))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// InitializePayment starts checkout for a pending payment with the named
// gateway. A communication failure leaves the payment pending, so calling
// again is always safe.
func (s *PaymentService) InitializePayment(ctx context.Context, payment *entity.Payment, gatewayCode string, opts gateway.InitOptions) (*InitResult, error) {
	if payment.Status.Terminal() {
		return nil, ErrAlreadyProcessed
	}

	gw, err := s.gateways.FindByCode(ctx, gatewayCode)
	if err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, ErrGatewayNotFound
	}
	if !gw.IsActive {
		return nil, ErrGatewayInactive
	}
	if !gw.SupportsCurrency(payment.Currency) {
		return nil, fmt.Errorf("%w: currency %s is not supported by gateway %s", ErrInvalidAmount, payment.Currency, gw.Code)
	}
	if !gw.WithinLimits(payment.TotalAmount) {
		return nil, fmt.Errorf("%w: amount %s is outside gateway limits", ErrInvalidAmount, payment.TotalAmount.StringFixed(2))
	}

	now := time.Now().UTC()

	if !gw.IsOnline {
		// Offline methods (cash, bank transfer, cheque) only hand the payer
		// instructions. Settlement is recorded out-of-band by an operator.
		payment.GatewayCode = gw.Code
		payment.UpdatedAt = now
		if err := s.payments.Update(ctx, nil, payment); err != nil {
			return nil, err
		}
		s.recordEvent(ctx, payment, "payment_initialized", nil, nil)
		return &InitResult{Payment: payment, Instructions: gw.Instructions}, nil
	}

	client, err := s.registry.Get(gw.Code)
	if err != nil {
		return nil, ErrGatewayUnsupported
	}
	if missing := gw.MissingCredentials(client.RequiredCredentials()...); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing credentials %s", ErrGatewayMisconfigured, strings.Join(missing, ", "))
	}

	result, err := client.Initialize(ctx, gw, payment, opts)
	if err != nil {
		// The payment stays pending on any initialize failure; communication
		// errors in particular are safe to retry.
		return nil, err
	}

	oldStatus := payment.Status
	payment.GatewayCode = gw.Code
	if result.GatewayRef != "" {
		ref := result.GatewayRef
		payment.GatewayRef = &ref
	}
	payment.MergeDetails(result.Details)
	payment.Status = entity.PaymentStatusProcessing
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, nil, payment); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, payment, "payment_initialized", &oldStatus, nil)

	return &InitResult{Payment: payment, RedirectURL: result.RedirectURL}, nil
}

// ProcessCallback settles a payment after a gateway callback. The payload is
// only a trigger: the adapter re-queries the provider for the authoritative
// status, so a forged or replayed callback cannot complete a payment the
// provider reports otherwise.
func (s *PaymentService) ProcessCallback(ctx context.Context, gatewayCode string, payload map[string]string) (*entity.Payment, error) {
	gw, err := s.gateways.FindByCode(ctx, gatewayCode)
	if err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, ErrGatewayNotFound
	}

	client, err := s.registry.Get(gw.Code)
	if err != nil {
		return nil, ErrGatewayUnsupported
	}

	ref := client.ExtractCallback(payload)
	payment, err := s.resolveCallbackPayment(ctx, gw.Code, ref)
	if err != nil {
		return nil, err
	}

	if payment.Status.Terminal() {
		return payment, ErrAlreadyProcessed
	}

	status, err := client.QueryStatus(ctx, gw, payment)
	if err != nil {
		return nil, err
	}

	return s.applyRemoteStatus(ctx, payment, status, "gateway_callback", payload)
}

// VerifyPayment is the idempotent re-query path for any online payment still
// in a non-terminal state. It only mutates state when the remote status
// differs from the stored one.
func (s *PaymentService) VerifyPayment(ctx context.Context, payment *entity.Payment) (*entity.Payment, error) {
	if payment.Status.Terminal() {
		return payment, ErrAlreadyProcessed
	}

	gw, err := s.gateways.FindByCode(ctx, payment.GatewayCode)
	if err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, ErrGatewayNotFound
	}

	client, err := s.registry.Get(gw.Code)
	if err != nil {
		return nil, ErrGatewayUnsupported
	}

	status, err := client.QueryStatus(ctx, gw, payment)
	if err != nil {
		return nil, err
	}
	if status.Status == payment.Status {
		return payment, nil
	}

	return s.applyRemoteStatus(ctx, payment, status, "payment_verified", nil)
}

func (s *PaymentService) resolveCallbackPayment(ctx context.Context, gatewayCode string, ref gateway.CallbackRef) (*entity.Payment, error) {
	if ref.InvoiceNumber != "" {
		payment, err := s.payments.FindByInvoice(ctx, ref.InvoiceNumber)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	if ref.GatewayRef != "" {
		payment, err := s.payments.FindByGatewayRef(ctx, gatewayCode, ref.GatewayRef)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	return nil, ErrPaymentNotFound
}

// applyRemoteStatus commits a provider-confirmed transition under the payment
// row lock. Transitions out of a terminal state never happen here: losing the
// race to another writer leaves the row untouched.
func (s *PaymentService) applyRemoteStatus(ctx context.Context, payment *entity.Payment, status *gateway.StatusResult, eventType string, payload map[string]string) (*entity.Payment, error) {
	var updated *entity.Payment
	var oldStatus entity.PaymentStatus
	completedNow := false
	changed := false

	err := s.tx.InTransaction(ctx, func(tx repository.DBTX) error {
		locked, err := s.payments.LockByID(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrPaymentNotFound
		}
		updated = locked
		if locked.Status.Terminal() || status.Status == locked.Status {
			return nil
		}

		now := time.Now().UTC()
		oldStatus = locked.Status

		switch status.Status {
		case entity.PaymentStatusCompleted:
			locked.Settle(status.TransactionID, now)
			completedNow = true
		case entity.PaymentStatusFailed:
			locked.MarkFailed(status.Reason, now)
		case entity.PaymentStatusCancelled, entity.PaymentStatusExpired:
			locked.Status = status.Status
			if status.Reason != "" {
				reason := status.Reason
				locked.FailureReason = &reason
			}
			locked.UpdatedAt = now
		case entity.PaymentStatusProcessing:
			locked.Status = entity.PaymentStatusProcessing
			locked.UpdatedAt = now
		default:
			// Remote still pending; nothing to record.
			return nil
		}

		if status.TransactionID != "" && locked.GatewayTxnID == nil {
			txnID := status.TransactionID
			locked.GatewayTxnID = &txnID
		}

		changed = true
		return s.payments.Update(ctx, tx, locked)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.recordEvent(ctx, updated, eventType, &oldStatus, payload)
	}
	if completedNow {
		s.notifier.PaymentProcessed(ctx, updated)
	}

	return updated, nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return truncate(err.Error(), 1024)
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
