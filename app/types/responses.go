package types

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type PaymentResponse struct {
	ID            uint64            `json:"id"`
	InvoiceNumber string            `json:"invoice_number"`
	PayableKind   string            `json:"payable_kind"`
	PayableID     uint64            `json:"payable_id"`
	GatewayCode   string            `json:"gateway_code"`
	GatewayRef    string            `json:"gateway_ref,omitempty"`
	GatewayTxnID  string            `json:"gateway_txn_id,omitempty"`
	Amount        string            `json:"amount"`
	Discount      string            `json:"discount"`
	Fine          string            `json:"fine"`
	Tax           string            `json:"tax"`
	Total         string            `json:"total"`
	Paid          string            `json:"paid"`
	Due           string            `json:"due"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	RefundStatus  string            `json:"refund_status,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Details       map[string]string `json:"details"`
	PaymentDate   string            `json:"payment_date,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
}

type PaymentEnvelopeResponse struct {
	Payment *PaymentResponse `json:"payment"`
}

type InitializePaymentResponse struct {
	Payment      *PaymentResponse `json:"payment"`
	RedirectURL  string           `json:"redirect_url,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
}

type RefundResponse struct {
	ID              uint64 `json:"id"`
	RefundNo        string `json:"refund_no"`
	PaymentID       uint64 `json:"payment_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Reason          string `json:"reason"`
	Status          string `json:"status"`
	GatewayRefundID string `json:"gateway_refund_id,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	ProcessedAt     string `json:"processed_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type RefundEnvelopeResponse struct {
	Refund *RefundResponse `json:"refund"`
}
