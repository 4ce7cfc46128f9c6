package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
)

const paymentColumns = `id, invoice_number, payable_kind, payable_id, gateway_code, gateway_ref, gateway_txn_id,
		amount, discount_amount, fine_amount, tax_amount, total_amount, paid_amount, due_amount, currency,
		status, refund_status, failure_reason, details_json, profile_id, payment_date,
		created_at, updated_at, deleted_at`

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) conn(tx DBTX) DBTX {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *PaymentRepository) Create(ctx context.Context, tx DBTX, payment *entity.Payment) error {
	detailsJSON, err := serializeStringMap(payment.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			invoice_number, payable_kind, payable_id, gateway_code, gateway_ref, gateway_txn_id,
			amount, discount_amount, fine_amount, tax_amount, total_amount, paid_amount, due_amount, currency,
			status, refund_status, failure_reason, details_json, profile_id, payment_date,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.conn(tx).ExecContext(ctx, query,
		payment.InvoiceNumber,
		string(payment.Payable.Kind),
		payment.Payable.ID,
		payment.GatewayCode,
		nullableStringValue(payment.GatewayRef),
		nullableStringValue(payment.GatewayTxnID),
		payment.Amount,
		payment.DiscountAmount,
		payment.FineAmount,
		payment.TaxAmount,
		payment.TotalAmount,
		payment.PaidAmount,
		payment.DueAmount,
		payment.Currency,
		string(payment.Status),
		string(payment.RefundStatus),
		nullableStringValue(payment.FailureReason),
		detailsJSON,
		nullableUint64Value(payment.ProfileID),
		nullableTimeValue(payment.PaymentDate),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, tx DBTX, payment *entity.Payment) error {
	detailsJSON, err := serializeStringMap(payment.Details)
	if err != nil {
		return err
	}

	query := `
		UPDATE payments SET
			gateway_code = ?,
			gateway_ref = ?,
			gateway_txn_id = ?,
			paid_amount = ?,
			due_amount = ?,
			status = ?,
			refund_status = ?,
			failure_reason = ?,
			details_json = ?,
			payment_date = ?,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.conn(tx).ExecContext(ctx, query,
		payment.GatewayCode,
		nullableStringValue(payment.GatewayRef),
		nullableStringValue(payment.GatewayTxnID),
		payment.PaidAmount,
		payment.DueAmount,
		string(payment.Status),
		string(payment.RefundStatus),
		nullableStringValue(payment.FailureReason),
		detailsJSON,
		nullableTimeValue(payment.PaymentDate),
		payment.UpdatedAt,
		payment.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}

	return nil
}

// SoftDelete hides the payment from further reads. Rows are never removed;
// the money ledger is an audit trail.
func (r *PaymentRepository) SoftDelete(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE payments SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ? AND deleted_at IS NULL`
	return r.findOne(ctx, r.db, query, id)
}

func (r *PaymentRepository) FindByInvoice(ctx context.Context, invoiceNumber string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE invoice_number = ? AND deleted_at IS NULL LIMIT 1`
	return r.findOne(ctx, r.db, query, invoiceNumber)
}

func (r *PaymentRepository) FindByGatewayRef(ctx context.Context, gatewayCode, gatewayRef string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_code = ? AND gateway_ref = ? AND deleted_at IS NULL LIMIT 1`
	return r.findOne(ctx, r.db, query, gatewayCode, gatewayRef)
}

// LockByID reads the payment under an exclusive row lock. Must run inside a
// transaction.
func (r *PaymentRepository) LockByID(ctx context.Context, tx DBTX, id uint64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ? AND deleted_at IS NULL FOR UPDATE`
	return r.findOne(ctx, r.conn(tx), query, id)
}

// FindCyclePayment returns a payment already recorded for the profile's
// current billing cycle, if any. Pending and processing payments count so a
// half-finished attempt blocks a second charge.
func (r *PaymentRepository) FindCyclePayment(ctx context.Context, tx DBTX, profileID uint64, cycleStart time.Time) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE profile_id = ?
		  AND created_at >= ?
		  AND status IN (?, ?, ?)
		  AND deleted_at IS NULL
		ORDER BY id DESC
		LIMIT 1`
	return r.findOne(ctx, r.conn(tx), query, profileID, cycleStart,
		string(entity.PaymentStatusPending), string(entity.PaymentStatusProcessing), string(entity.PaymentStatusCompleted))
}

func (r *PaymentRepository) findOne(ctx context.Context, db DBTX, query string, args ...interface{}) (*entity.Payment, error) {
	payment := &entity.Payment{}
	if err := scanPayment(db.QueryRowContext(ctx, query, args...), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return payment, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var payableKind string
	var gatewayRef sql.NullString
	var gatewayTxnID sql.NullString
	var status string
	var refundStatus string
	var failureReason sql.NullString
	var detailsJSON string
	var profileID sql.NullInt64
	var paymentDate sql.NullTime
	var deletedAt sql.NullTime

	err := scan.Scan(
		&payment.ID,
		&payment.InvoiceNumber,
		&payableKind,
		&payment.Payable.ID,
		&payment.GatewayCode,
		&gatewayRef,
		&gatewayTxnID,
		&payment.Amount,
		&payment.DiscountAmount,
		&payment.FineAmount,
		&payment.TaxAmount,
		&payment.TotalAmount,
		&payment.PaidAmount,
		&payment.DueAmount,
		&payment.Currency,
		&status,
		&refundStatus,
		&failureReason,
		&detailsJSON,
		&profileID,
		&paymentDate,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return err
	}

	payment.Payable.Kind = entity.PayableKind(payableKind)
	payment.GatewayRef = stringPtrFromNull(gatewayRef)
	payment.GatewayTxnID = stringPtrFromNull(gatewayTxnID)
	payment.Status = entity.PaymentStatus(status)
	payment.RefundStatus = entity.RefundStatus(refundStatus)
	payment.FailureReason = stringPtrFromNull(failureReason)
	payment.ProfileID = uint64PtrFromNull(profileID)
	payment.PaymentDate = timePtrFromNull(paymentDate)
	payment.DeletedAt = timePtrFromNull(deletedAt)

	details, err := parseStringMap(detailsJSON)
	if err != nil {
		return err
	}
	payment.Details = details

	return nil
}
