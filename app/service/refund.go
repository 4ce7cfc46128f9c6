package service

import (
	"context"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
	"github.com/axiomedu/ms-go-billing/app/repository"
	"github.com/shopspring/decimal"
)

// RefundRequest carries operator input for a refund attempt.
type RefundRequest struct {
	Amount      decimal.Decimal
	Reason      string
	RequestedBy uint64
	ProcessedBy uint64
	Metadata    map[string]string
}

// InitiateRefund validates a refund against the live refundable balance,
// commits it as pending, then executes it at the gateway. The remote call
// happens outside any transaction: the pending row already holds the balance,
// so a crash mid-call leaves an over-counted balance rather than an
// over-refunded payment.
func (s *PaymentService) InitiateRefund(ctx context.Context, paymentID uint64, req RefundRequest) (*entity.Refund, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if payment.Status != entity.PaymentStatusCompleted {
		return nil, ErrNotRefundable
	}

	gw, err := s.gateways.FindByCode(ctx, payment.GatewayCode)
	if err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, ErrGatewayNotFound
	}
	if !gw.IsOnline || !gw.SupportsRefunds {
		return nil, ErrNotRefundable
	}
	client, err := s.registry.Get(payment.GatewayCode)
	if err != nil {
		return nil, ErrGatewayUnsupported
	}

	var refund *entity.Refund
	err = s.tx.InTransaction(ctx, func(tx repository.DBTX) error {
		locked, err := s.payments.LockByID(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrPaymentNotFound
		}
		if locked.Status != entity.PaymentStatusCompleted {
			return ErrNotRefundable
		}

		refunded, err := s.refunds.SumActive(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		refundable := locked.Amount.Sub(refunded)
		if refundable.IsNegative() {
			refundable = decimal.Zero
		}
		if req.Amount.GreaterThan(refundable) {
			return &AmountExceedsLimitError{Max: refundable}
		}

		metadata := map[string]string{}
		for k, v := range locked.Details {
			metadata[k] = v
		}
		for k, v := range req.Metadata {
			metadata[k] = v
		}

		refund = entity.NewRefund(locked, req.Amount, req.Reason, req.RequestedBy, req.ProcessedBy, metadata)
		return s.refunds.Create(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	result, err := client.Refund(ctx, gw, refund)
	if err != nil {
		now := time.Now().UTC()
		refund.Fail(errorMessage(err), now)
		updateErr := s.refunds.Update(ctx, nil, refund)
		recomputeErr := s.recomputeRefundStatus(ctx, refund.PaymentID)
		return refund, keepFirstErr(keepFirstErr(err, updateErr), recomputeErr)
	}

	if err := s.settleRefund(ctx, refund, result.Status, result.GatewayRefundID, result.Reason); err != nil {
		return refund, err
	}
	return refund, nil
}

// CancelRefund withdraws a refund that never reached the gateway. Anything
// past pending must be resolved by reconciliation, not cancelled locally.
func (s *PaymentService) CancelRefund(ctx context.Context, refundID uint64, reason string) (*entity.Refund, error) {
	refund, err := s.refunds.FindByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, ErrRefundNotFound
	}
	if refund.Status != entity.RefundPending {
		return nil, ErrRefundNotCancellable
	}

	now := time.Now().UTC()
	refund.Status = entity.RefundCancelled
	if reason != "" {
		refund.FailureReason = &reason
	}
	refund.UpdatedAt = now
	if err := s.refunds.Update(ctx, nil, refund); err != nil {
		return nil, err
	}
	if err := s.recomputeRefundStatus(ctx, refund.PaymentID); err != nil {
		return refund, err
	}
	return refund, nil
}

// ReconcilePendingRefunds sweeps refunds stuck in pending or processing past
// the staleness cutoff and resolves them from the gateway's answer.
func (s *PaymentService) ReconcilePendingRefunds(ctx context.Context) (int, error) {
	staleAfter := s.refundsCfg.ReconcileStaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	limit := s.refundsCfg.BatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}

	cutoff := time.Now().UTC().Add(-staleAfter)
	stale, err := s.refunds.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	var firstErr error
	for _, refund := range stale {
		gw, err := s.gateways.FindByCode(ctx, refund.GatewayCode)
		if err != nil || gw == nil {
			firstErr = keepFirstErr(firstErr, keepFirstErr(err, ErrGatewayNotFound))
			continue
		}
		client, err := s.registry.Get(refund.GatewayCode)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		result, err := client.LookupRefund(ctx, gw, refund)
		if err != nil {
			s.logger.WithError(err).WithField("refund_no", refund.RefundNo).Warn("refund lookup failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if result.Status == refund.Status {
			continue
		}
		if err := s.settleRefund(ctx, refund, result.Status, result.GatewayRefundID, result.Reason); err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		resolved++
	}
	return resolved, firstErr
}

// settleRefund applies a gateway verdict to the refund row and recomputes the
// parent payment's aggregate refund status.
func (s *PaymentService) settleRefund(ctx context.Context, refund *entity.Refund, status entity.RefundState, gatewayRefundID, reason string) error {
	now := time.Now().UTC()

	switch status {
	case entity.RefundCompleted:
		refund.Complete(gatewayRefundID, now)
	case entity.RefundFailed, entity.RefundCancelled:
		refund.Fail(reason, now)
		refund.Status = status
	default:
		refund.Status = entity.RefundProcessing
		if gatewayRefundID != "" {
			refund.GatewayRefundID = &gatewayRefundID
		}
		refund.UpdatedAt = now
	}

	if err := s.refunds.Update(ctx, nil, refund); err != nil {
		return err
	}
	return s.recomputeRefundStatus(ctx, refund.PaymentID)
}

// recomputeRefundStatus derives the payment's refund status from the live sum
// of refunds that still count against the balance. The derivation runs under
// the payment row lock so concurrent refund settlements serialize.
func (s *PaymentService) recomputeRefundStatus(ctx context.Context, paymentID uint64) error {
	var updated *entity.Payment
	var previous entity.RefundStatus

	err := s.tx.InTransaction(ctx, func(tx repository.DBTX) error {
		payment, err := s.payments.LockByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return ErrPaymentNotFound
		}

		refunded, err := s.refunds.SumActive(ctx, tx, payment.ID)
		if err != nil {
			return err
		}

		status := entity.RefundStatusNone
		switch {
		case payment.Amount.IsPositive() && refunded.GreaterThanOrEqual(payment.Amount):
			status = entity.RefundStatusFull
		case refunded.IsPositive():
			status = entity.RefundStatusPartial
		}
		if status == payment.RefundStatus {
			return nil
		}

		previous = payment.RefundStatus
		payment.RefundStatus = status
		payment.UpdatedAt = time.Now().UTC()
		if err := s.payments.Update(ctx, tx, payment); err != nil {
			return err
		}
		updated = payment
		return nil
	})
	if err != nil {
		return err
	}

	if updated != nil {
		s.recordEvent(ctx, updated, "refund_status_changed", nil, map[string]string{
			"previous_refund_status": string(previous),
			"refund_status":          string(updated.RefundStatus),
		})
	}
	return nil
}
