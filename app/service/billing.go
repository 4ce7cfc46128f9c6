package service

import (
	"context"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
	"github.com/axiomedu/ms-go-billing/app/repository"
	"github.com/shopspring/decimal"
)

// BillingRunResult summarizes one scheduler pass.
type BillingRunResult struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []string
}

type chargeOutcome int

const (
	outcomeSkipped chargeOutcome = iota
	outcomeAlreadyBilled
	outcomeCharged
	outcomeDeclined
)

// ProcessDuePayments charges every active profile whose next_billing_date has
// passed, at most once per billing cycle. Unless force is set, selection is
// additionally bounded to profiles due by calendar date.
func (s *PaymentService) ProcessDuePayments(ctx context.Context, force bool) (*BillingRunResult, error) {
	now := time.Now().UTC()
	profiles, err := s.profiles.ListDue(ctx, now, force, s.billingBatchSize())
	if err != nil {
		return nil, err
	}
	return s.runBillingPass(ctx, profiles, now), nil
}

// RetryFailedPayments re-attempts active past-due profiles with between one
// and maxAttempts recorded failures. It is not a separate code path: the
// selection predicate differs, the per-profile routine is identical.
func (s *PaymentService) RetryFailedPayments(ctx context.Context, maxAttempts int32) (*BillingRunResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = s.billingCfg.RetryMaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryMaxAttempts
	}

	now := time.Now().UTC()
	profiles, err := s.profiles.ListRetryable(ctx, now, maxAttempts, s.billingBatchSize())
	if err != nil {
		return nil, err
	}
	return s.runBillingPass(ctx, profiles, now), nil
}

// ChargeProfile runs one billing attempt for a single profile, used when an
// operator retries manually. The per-profile lock makes it safe to race a
// scheduler pass.
func (s *PaymentService) ChargeProfile(ctx context.Context, profileID uint64) error {
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return err
	}
	if profile == nil {
		return ErrProfileNotFound
	}
	if profile.Status == entity.ProfileStatusSuspended {
		return ErrProfileSuspended
	}

	_, err = s.processProfile(ctx, profileID, time.Now().UTC())
	return err
}

func (s *PaymentService) runBillingPass(ctx context.Context, profiles []*entity.RecurringPaymentProfile, now time.Time) *BillingRunResult {
	result := &BillingRunResult{}
	for _, profile := range profiles {
		outcome, err := s.processProfile(ctx, profile.ID, now)
		switch {
		case err != nil:
			result.Processed++
			result.Failed++
			result.Errors = append(result.Errors, errorMessage(err))
		case outcome == outcomeSkipped:
			result.Skipped++
		case outcome == outcomeDeclined:
			result.Processed++
			result.Failed++
		default:
			// Charged this pass or already billed for the cycle; both count
			// as success, which is what makes the scheduler idempotent.
			result.Processed++
			result.Succeeded++
		}
	}
	return result
}

// processProfile is the single per-profile billing routine. The profile row
// lock is held across the remote charge: the idempotency window depends on
// no second attempt reading the cycle state mid-charge, and that latency is
// an accepted cost.
func (s *PaymentService) processProfile(ctx context.Context, profileID uint64, now time.Time) (chargeOutcome, error) {
	var outcome chargeOutcome
	var chargedPayment *entity.Payment
	var declinedPayment *entity.Payment

	txErr := s.tx.InTransaction(ctx, func(tx repository.DBTX) error {
		profile, err := s.profiles.LockByID(ctx, tx, profileID)
		if err != nil {
			return err
		}
		if profile == nil || profile.Status != entity.ProfileStatusActive {
			outcome = outcomeSkipped
			return nil
		}
		if profile.EndDate != nil && now.After(*profile.EndDate) {
			profile.Status = entity.ProfileStatusExpired
			profile.UpdatedAt = now
			outcome = outcomeSkipped
			return s.profiles.Update(ctx, tx, profile)
		}

		// A payment already recorded inside the current billing window means
		// another run handled this cycle: success, no second charge.
		existing, err := s.payments.FindCyclePayment(ctx, tx, profile.ID, profile.NextBillingDate)
		if err != nil {
			return err
		}
		if existing != nil {
			outcome = outcomeAlreadyBilled
			return nil
		}

		gw, err := s.gateways.FindByCode(ctx, profile.GatewayCode)
		if err != nil {
			return err
		}
		if gw == nil {
			return ErrGatewayNotFound
		}
		if !gw.IsActive {
			return ErrGatewayInactive
		}
		client, err := s.registry.Get(profile.GatewayCode)
		if err != nil {
			return ErrGatewayUnsupported
		}

		payment, err := entity.NewPayment(profile.Payable, profile.Amount, decimal.Zero, decimal.Zero, decimal.Zero, profile.Currency)
		if err != nil {
			return err
		}
		payment.GatewayCode = profile.GatewayCode
		profileRef := profile.ID
		payment.ProfileID = &profileRef

		charge, err := client.ChargeRecurring(ctx, gw, profile, payment)
		if err != nil {
			// Transport-level uncertainty: roll back the attempt. Failure
			// bookkeeping happens outside this transaction so the evidence
			// survives the rollback.
			return err
		}

		cycleStart := profile.NextBillingDate

		if charge.Status == entity.PaymentStatusCompleted {
			payment.Settle(charge.TransactionID, now)
			if err := s.payments.Create(ctx, tx, payment); err != nil {
				return err
			}
			profile.FailureCount = 0
			profile.NextBillingDate = profile.NextCycleDate(cycleStart)
			profile.UpdatedAt = now
			if err := s.profiles.Update(ctx, tx, profile); err != nil {
				return err
			}
			chargedPayment = payment
			outcome = outcomeCharged
			return nil
		}

		// The gateway answered and declined: a processed attempt for this
		// cycle. The date still advances so the cycle can never wedge; the
		// retry pass picks the profile up again while it stays past due.
		payment.MarkFailed(charge.Reason, now)
		if err := s.payments.Create(ctx, tx, payment); err != nil {
			return err
		}
		profile.RecordFailure()
		profile.NextBillingDate = profile.NextCycleDate(cycleStart)
		profile.UpdatedAt = now
		if err := s.profiles.Update(ctx, tx, profile); err != nil {
			return err
		}
		declinedPayment = payment
		outcome = outcomeDeclined
		return nil
	})

	if txErr != nil {
		s.recordChargeException(ctx, profileID, now, txErr)
		return outcomeDeclined, txErr
	}

	if chargedPayment != nil {
		s.recordEvent(ctx, chargedPayment, "recurring_payment_processed", nil, nil)
		s.notifier.PaymentProcessed(ctx, chargedPayment)
	}
	if declinedPayment != nil {
		s.recordEvent(ctx, declinedPayment, "recurring_payment_declined", nil, nil)
	}

	return outcome, nil
}

// recordChargeException durably counts a failed attempt whose transaction was
// rolled back. The billing date is left alone: a transport failure is not a
// processed attempt, and the profile stays selectable within the same due
// window.
func (s *PaymentService) recordChargeException(ctx context.Context, profileID uint64, now time.Time, cause error) {
	err := s.tx.InTransaction(ctx, func(tx repository.DBTX) error {
		profile, err := s.profiles.LockByID(ctx, tx, profileID)
		if err != nil {
			return err
		}
		if profile == nil || profile.Status != entity.ProfileStatusActive {
			return nil
		}
		profile.RecordFailure()
		profile.UpdatedAt = now
		return s.profiles.Update(ctx, tx, profile)
	})
	if err != nil {
		s.logger.WithError(err).WithField("profile_id", profileID).Error("failed to record billing failure")
		return
	}

	s.logger.WithError(cause).WithField("profile_id", profileID).Warn("recurring charge attempt rolled back")
}

func (s *PaymentService) billingBatchSize() int32 {
	if s.billingCfg.BatchSize > 0 {
		return s.billingCfg.BatchSize
	}
	return defaultBatchSize
}
