package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
	"github.com/shopspring/decimal"
)

var ErrRefundNotFound = errors.New("refund not found")

const refundColumns = `id, refund_no, payment_id, requested_by, processed_by,
		amount, currency, reason, status, payment_amount, gateway_code, gateway_txn_id,
		gateway_refund_id, failure_reason, metadata_json, processed_at, created_at, updated_at`

type RefundRepository struct {
	db DBTX
}

func NewRefundRepository(db DBTX) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) conn(tx DBTX) DBTX {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *RefundRepository) Create(ctx context.Context, refund *entity.Refund) error {
	metadataJSON, err := serializeStringMap(refund.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO refunds (
			refund_no, payment_id, requested_by, processed_by,
			amount, currency, reason, status, payment_amount, gateway_code, gateway_txn_id,
			gateway_refund_id, failure_reason, metadata_json, processed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		refund.RefundNo,
		refund.PaymentID,
		refund.RequestedBy,
		refund.ProcessedBy,
		refund.Amount,
		refund.Currency,
		refund.Reason,
		string(refund.Status),
		refund.PaymentAmount,
		refund.GatewayCode,
		nullableStringValue(refund.GatewayTxnID),
		nullableStringValue(refund.GatewayRefundID),
		nullableStringValue(refund.FailureReason),
		metadataJSON,
		nullableTimeValue(refund.ProcessedAt),
		refund.CreatedAt,
		refund.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	refund.ID = uint64(id)
	return nil
}

func (r *RefundRepository) Update(ctx context.Context, tx DBTX, refund *entity.Refund) error {
	query := `
		UPDATE refunds SET
			status = ?,
			reason = ?,
			gateway_refund_id = ?,
			failure_reason = ?,
			processed_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.conn(tx).ExecContext(ctx, query,
		string(refund.Status),
		refund.Reason,
		nullableStringValue(refund.GatewayRefundID),
		nullableStringValue(refund.FailureReason),
		nullableTimeValue(refund.ProcessedAt),
		refund.UpdatedAt,
		refund.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRefundNotFound
	}

	return nil
}

func (r *RefundRepository) FindByID(ctx context.Context, id uint64) (*entity.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = ? LIMIT 1`

	refund := &entity.Refund{}
	if err := scanRefund(r.db.QueryRowContext(ctx, query, id), refund); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return refund, nil
}

// SumActive returns the live total of refunds that count against the
// payment's refundable balance. Always a fresh SUM, never a cached counter,
// so the balance stays correct under concurrent refund attempts.
func (r *RefundRepository) SumActive(ctx context.Context, tx DBTX, paymentID uint64) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = ?
		  AND status IN (?, ?, ?)
	`

	var sum decimal.Decimal
	err := r.conn(tx).QueryRowContext(ctx, query, paymentID,
		string(entity.RefundPending), string(entity.RefundProcessing), string(entity.RefundCompleted),
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// ListStalePending selects refunds still in pending or processing whose last
// update predates the cutoff, for the reconciliation sweep. Processing rows
// must stay selectable: a gateway that answers "in flight" moves the refund
// there, and the sweep is the only path that resolves it afterwards.
func (r *RefundRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds
		WHERE status IN (?, ?)
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query,
		string(entity.RefundPending), string(entity.RefundProcessing), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]*entity.Refund, 0)
	for rows.Next() {
		refund := &entity.Refund{}
		if err := scanRefund(rows, refund); err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return refunds, nil
}

func scanRefund(scan rowScanner, refund *entity.Refund) error {
	var status string
	var gatewayTxnID sql.NullString
	var gatewayRefundID sql.NullString
	var failureReason sql.NullString
	var metadataJSON string
	var processedAt sql.NullTime

	err := scan.Scan(
		&refund.ID,
		&refund.RefundNo,
		&refund.PaymentID,
		&refund.RequestedBy,
		&refund.ProcessedBy,
		&refund.Amount,
		&refund.Currency,
		&refund.Reason,
		&status,
		&refund.PaymentAmount,
		&refund.GatewayCode,
		&gatewayTxnID,
		&gatewayRefundID,
		&failureReason,
		&metadataJSON,
		&processedAt,
		&refund.CreatedAt,
		&refund.UpdatedAt,
	)
	if err != nil {
		return err
	}

	refund.Status = entity.RefundState(status)
	refund.GatewayTxnID = stringPtrFromNull(gatewayTxnID)
	refund.GatewayRefundID = stringPtrFromNull(gatewayRefundID)
	refund.FailureReason = stringPtrFromNull(failureReason)
	refund.ProcessedAt = timePtrFromNull(processedAt)

	metadata, err := parseStringMap(metadataJSON)
	if err != nil {
		return err
	}
	refund.Metadata = metadata

	return nil
}
