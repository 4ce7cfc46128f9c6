package mapper

import (
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
	"github.com/axiomedu/ms-go-billing/app/types"
)

func PaymentToResponse(item *entity.Payment) *types.PaymentResponse {
	if item == nil {
		return nil
	}

	return &types.PaymentResponse{
		ID:            item.ID,
		InvoiceNumber: item.InvoiceNumber,
		PayableKind:   string(item.Payable.Kind),
		PayableID:     item.Payable.ID,
		GatewayCode:   item.GatewayCode,
		GatewayRef:    derefString(item.GatewayRef),
		GatewayTxnID:  derefString(item.GatewayTxnID),
		Amount:        item.Amount.String(),
		Discount:      item.DiscountAmount.String(),
		Fine:          item.FineAmount.String(),
		Tax:           item.TaxAmount.String(),
		Total:         item.TotalAmount.String(),
		Paid:          item.PaidAmount.String(),
		Due:           item.DueAmount.String(),
		Currency:      item.Currency,
		Status:        string(item.Status),
		RefundStatus:  string(item.RefundStatus),
		FailureReason: derefString(item.FailureReason),
		Details:       cloneDetails(item.Details),
		PaymentDate:   formatTimePtr(item.PaymentDate),
		CreatedAt:     item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func RefundToResponse(item *entity.Refund) *types.RefundResponse {
	if item == nil {
		return nil
	}

	return &types.RefundResponse{
		ID:              item.ID,
		RefundNo:        item.RefundNo,
		PaymentID:       item.PaymentID,
		Amount:          item.Amount.String(),
		Currency:        item.Currency,
		Reason:          item.Reason,
		Status:          string(item.Status),
		GatewayRefundID: derefString(item.GatewayRefundID),
		FailureReason:   derefString(item.FailureReason),
		ProcessedAt:     formatTimePtr(item.ProcessedAt),
		CreatedAt:       item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTimePtr(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func cloneDetails(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
