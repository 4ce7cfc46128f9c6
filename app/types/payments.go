package types

import (
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// InitializePaymentRequest starts checkout for an existing pending payment.
type InitializePaymentRequest struct {
	InvoiceNumber string `json:"-"`

	GatewayCode   string `json:"gateway_code"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	SuccessURL    string `json:"success_url"`
	FailURL       string `json:"fail_url"`
	CancelURL     string `json:"cancel_url"`

	Metadata map[string]string `json:"metadata"`
}

func NewInitializePaymentRequestFromContext(ctx echo.Context) (*InitializePaymentRequest, error) {
	var body InitializePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.InvoiceNumber = strings.TrimSpace(ctx.Param("invoice"))
	body.GatewayCode = strings.ToLower(strings.TrimSpace(body.GatewayCode))
	body.CustomerName = strings.TrimSpace(body.CustomerName)
	body.CustomerEmail = strings.TrimSpace(body.CustomerEmail)
	body.CustomerPhone = strings.TrimSpace(body.CustomerPhone)
	body.SuccessURL = strings.TrimSpace(body.SuccessURL)
	body.FailURL = strings.TrimSpace(body.FailURL)
	body.CancelURL = strings.TrimSpace(body.CancelURL)

	return &body, nil
}

func (r *InitializePaymentRequest) Validate() error {
	if r.InvoiceNumber == "" {
		return errors.New("invoice number is required")
	}
	if r.GatewayCode == "" {
		return errors.New("gateway_code is required")
	}
	for _, raw := range []string{r.SuccessURL, r.FailURL, r.CancelURL} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return errors.New("return urls must be absolute")
		}
	}
	return nil
}

type GetPaymentRequest struct {
	InvoiceNumber string
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	return &GetPaymentRequest{InvoiceNumber: strings.TrimSpace(ctx.Param("invoice"))}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.InvoiceNumber == "" {
		return errors.New("invoice number is required")
	}
	return nil
}

type VerifyPaymentRequest struct {
	InvoiceNumber string
}

func NewVerifyPaymentRequestFromContext(ctx echo.Context) (*VerifyPaymentRequest, error) {
	return &VerifyPaymentRequest{InvoiceNumber: strings.TrimSpace(ctx.Param("invoice"))}, nil
}

func (r *VerifyPaymentRequest) Validate() error {
	if r.InvoiceNumber == "" {
		return errors.New("invoice number is required")
	}
	return nil
}

// GatewayCallbackRequest carries the raw callback payload. Form fields and
// query parameters are flattened into a single map; the gateway client knows
// which keys identify the payment.
type GatewayCallbackRequest struct {
	GatewayCode string
	Payload     map[string]string
}

func NewGatewayCallbackRequestFromContext(ctx echo.Context) (*GatewayCallbackRequest, error) {
	req := &GatewayCallbackRequest{
		GatewayCode: strings.ToLower(strings.TrimSpace(ctx.Param("gateway"))),
		Payload:     map[string]string{},
	}

	values, err := ctx.FormParams()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	for key := range values {
		req.Payload[key] = values.Get(key)
	}
	for key, vals := range ctx.QueryParams() {
		if _, exists := req.Payload[key]; !exists && len(vals) > 0 {
			req.Payload[key] = vals[0]
		}
	}

	return req, nil
}

func (r *GatewayCallbackRequest) Validate() error {
	if r.GatewayCode == "" {
		return errors.New("gateway is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("callback payload is empty")
	}
	return nil
}

type InitiateRefundRequest struct {
	InvoiceNumber string `json:"-"`

	Amount      decimal.Decimal   `json:"amount"`
	Reason      string            `json:"reason"`
	RequestedBy uint64            `json:"requested_by"`
	ProcessedBy uint64            `json:"processed_by"`
	Metadata    map[string]string `json:"metadata"`
}

func NewInitiateRefundRequestFromContext(ctx echo.Context) (*InitiateRefundRequest, error) {
	var body InitiateRefundRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.InvoiceNumber = strings.TrimSpace(ctx.Param("invoice"))
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *InitiateRefundRequest) Validate() error {
	if r.InvoiceNumber == "" {
		return errors.New("invoice number is required")
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount must be > 0")
	}
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

type CancelRefundRequest struct {
	RefundID uint64 `json:"-"`
	Reason   string `json:"reason"`
}

func NewCancelRefundRequestFromContext(ctx echo.Context) (*CancelRefundRequest, error) {
	var body CancelRefundRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	body.RefundID = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CancelRefundRequest) Validate() error {
	if r.RefundID == 0 {
		return errors.New("invalid refund id")
	}
	return nil
}
