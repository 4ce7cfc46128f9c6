package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
)

var ErrProfileNotFound = errors.New("recurring payment profile not found")

const profileColumns = `id, user_id, payable_kind, payable_id, gateway_code, gateway_profile_id,
		amount, currency, billing_period, billing_frequency, start_date, next_billing_date, end_date,
		status, failure_count, max_failures, payment_method_token, created_at, updated_at`

type RecurringProfileRepository struct {
	db DBTX
}

func NewRecurringProfileRepository(db DBTX) *RecurringProfileRepository {
	return &RecurringProfileRepository{db: db}
}

func (r *RecurringProfileRepository) conn(tx DBTX) DBTX {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *RecurringProfileRepository) Create(ctx context.Context, profile *entity.RecurringPaymentProfile) error {
	query := `
		INSERT INTO recurring_payment_profiles (
			user_id, payable_kind, payable_id, gateway_code, gateway_profile_id,
			amount, currency, billing_period, billing_frequency, start_date, next_billing_date, end_date,
			status, failure_count, max_failures, payment_method_token, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		profile.UserID,
		string(profile.Payable.Kind),
		profile.Payable.ID,
		profile.GatewayCode,
		nullableStringValue(profile.GatewayProfileID),
		profile.Amount,
		profile.Currency,
		string(profile.BillingPeriod),
		profile.BillingFrequency,
		profile.StartDate,
		profile.NextBillingDate,
		nullableTimeValue(profile.EndDate),
		string(profile.Status),
		profile.FailureCount,
		profile.MaxFailures,
		profile.PaymentMethodToken,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	profile.ID = uint64(id)
	return nil
}

func (r *RecurringProfileRepository) Update(ctx context.Context, tx DBTX, profile *entity.RecurringPaymentProfile) error {
	query := `
		UPDATE recurring_payment_profiles SET
			gateway_profile_id = ?,
			next_billing_date = ?,
			end_date = ?,
			status = ?,
			failure_count = ?,
			max_failures = ?,
			payment_method_token = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.conn(tx).ExecContext(ctx, query,
		nullableStringValue(profile.GatewayProfileID),
		profile.NextBillingDate,
		nullableTimeValue(profile.EndDate),
		string(profile.Status),
		profile.FailureCount,
		profile.MaxFailures,
		profile.PaymentMethodToken,
		profile.UpdatedAt,
		profile.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProfileNotFound
	}

	return nil
}

func (r *RecurringProfileRepository) FindByID(ctx context.Context, id uint64) (*entity.RecurringPaymentProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM recurring_payment_profiles WHERE id = ?`
	return r.findOne(ctx, r.db, query, id)
}

// LockByID reads the profile under an exclusive row lock so no two scheduler
// runs can charge the same profile concurrently. Must run inside a
// transaction.
func (r *RecurringProfileRepository) LockByID(ctx context.Context, tx DBTX, id uint64) (*entity.RecurringPaymentProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM recurring_payment_profiles WHERE id = ? FOR UPDATE`
	return r.findOne(ctx, r.conn(tx), query, id)
}

// ListDue selects active profiles whose next_billing_date has passed. Unless
// force is set, the date part must also be on or before today, guarding
// against timezone-boundary over-selection.
func (r *RecurringProfileRepository) ListDue(ctx context.Context, now time.Time, force bool, limit int32) ([]*entity.RecurringPaymentProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM recurring_payment_profiles
		WHERE status = ?
		  AND next_billing_date <= ?`
	args := []interface{}{string(entity.ProfileStatusActive), now}

	if !force {
		query += ` AND DATE(next_billing_date) <= DATE(?)`
		args = append(args, now)
	}

	query += ` ORDER BY next_billing_date ASC LIMIT ?`
	args = append(args, limit)

	return r.list(ctx, query, args...)
}

// ListRetryable selects active past-due profiles with between one and
// maxAttempts recorded failures. The retry pass is just another selection
// predicate over the same per-profile routine.
func (r *RecurringProfileRepository) ListRetryable(ctx context.Context, now time.Time, maxAttempts int32, limit int32) ([]*entity.RecurringPaymentProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM recurring_payment_profiles
		WHERE status = ?
		  AND failure_count > 0
		  AND failure_count <= ?
		  AND next_billing_date <= ?
		ORDER BY next_billing_date ASC
		LIMIT ?`

	return r.list(ctx, query, string(entity.ProfileStatusActive), maxAttempts, now, limit)
}

func (r *RecurringProfileRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.RecurringPaymentProfile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]*entity.RecurringPaymentProfile, 0)
	for rows.Next() {
		profile := &entity.RecurringPaymentProfile{}
		if err := scanProfile(rows, profile); err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

func (r *RecurringProfileRepository) findOne(ctx context.Context, db DBTX, query string, args ...interface{}) (*entity.RecurringPaymentProfile, error) {
	profile := &entity.RecurringPaymentProfile{}
	if err := scanProfile(db.QueryRowContext(ctx, query, args...), profile); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return profile, nil
}

func scanProfile(scan rowScanner, profile *entity.RecurringPaymentProfile) error {
	var payableKind string
	var gatewayProfileID sql.NullString
	var billingPeriod string
	var endDate sql.NullTime
	var status string

	err := scan.Scan(
		&profile.ID,
		&profile.UserID,
		&payableKind,
		&profile.Payable.ID,
		&profile.GatewayCode,
		&gatewayProfileID,
		&profile.Amount,
		&profile.Currency,
		&billingPeriod,
		&profile.BillingFrequency,
		&profile.StartDate,
		&profile.NextBillingDate,
		&endDate,
		&status,
		&profile.FailureCount,
		&profile.MaxFailures,
		&profile.PaymentMethodToken,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return err
	}

	profile.Payable.Kind = entity.PayableKind(payableKind)
	profile.GatewayProfileID = stringPtrFromNull(gatewayProfileID)
	profile.BillingPeriod = entity.BillingPeriod(billingPeriod)
	profile.EndDate = timePtrFromNull(endDate)
	profile.Status = entity.ProfileStatus(status)

	return nil
}
