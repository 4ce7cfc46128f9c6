package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
)

const (
	BkashCode = "bkash"

	bkashSuccessCode = "0000"
)

// BkashClient speaks the bKash tokenized checkout protocol: grant a bearer
// token, create a checkout (or an agreement-backed payment), then query,
// execute or refund against it.
type BkashClient struct {
	client *http.Client
}

func NewBkashClient(timeout time.Duration) *BkashClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BkashClient{client: &http.Client{Timeout: timeout}}
}

func (c *BkashClient) Code() string {
	return BkashCode
}

func (c *BkashClient) RequiredCredentials() []string {
	return []string{"app_key", "app_secret", "username", "password"}
}

func (c *BkashClient) Initialize(ctx context.Context, gw *entity.PaymentGateway, payment *entity.Payment, opts InitOptions) (*InitResult, error) {
	token, err := c.grantToken(ctx, gw)
	if err != nil {
		return nil, err
	}

	callbackURL := opts.SuccessURL
	if callbackURL == "" {
		callbackURL = opts.CancelURL
	}

	body := map[string]string{
		"mode":                  "0011",
		"payerReference":        opts.CustomerPhone,
		"callbackURL":           callbackURL,
		"amount":                payment.TotalAmount.StringFixed(2),
		"currency":              payment.Currency,
		"intent":                "sale",
		"merchantInvoiceNumber": payment.InvoiceNumber,
	}

	var resp struct {
		PaymentID     string `json:"paymentID"`
		BkashURL      string `json:"bkashURL"`
		StatusCode    string `json:"statusCode"`
		StatusMessage string `json:"statusMessage"`
	}
	if err := c.postJSON(ctx, gw, "/tokenized/checkout/create", token, body, &resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != bkashSuccessCode || strings.TrimSpace(resp.PaymentID) == "" {
		return nil, fmt.Errorf("bkash create rejected: code=%s message=%s", resp.StatusCode, resp.StatusMessage)
	}

	return &InitResult{
		GatewayRef:  resp.PaymentID,
		RedirectURL: resp.BkashURL,
		Details: map[string]string{
			"bkash_payment_id": resp.PaymentID,
		},
	}, nil
}

func (c *BkashClient) ExtractCallback(payload map[string]string) CallbackRef {
	return CallbackRef{
		InvoiceNumber: strings.TrimSpace(payload["merchantInvoiceNumber"]),
		GatewayRef:    strings.TrimSpace(payload["paymentID"]),
	}
}

func (c *BkashClient) QueryStatus(ctx context.Context, gw *entity.PaymentGateway, payment *entity.Payment) (*StatusResult, error) {
	paymentID := payment.Detail("bkash_payment_id")
	if paymentID == "" && payment.GatewayRef != nil {
		paymentID = *payment.GatewayRef
	}
	if paymentID == "" {
		return nil, fmt.Errorf("payment %s has no bkash payment id", payment.InvoiceNumber)
	}

	token, err := c.grantToken(ctx, gw)
	if err != nil {
		return nil, err
	}

	var resp struct {
		TrxID             string `json:"trxID"`
		TransactionStatus string `json:"transactionStatus"`
		StatusCode        string `json:"statusCode"`
		StatusMessage     string `json:"statusMessage"`
	}
	if err := c.postJSON(ctx, gw, "/tokenized/checkout/payment/status", token, map[string]string{"paymentID": paymentID}, &resp); err != nil {
		return nil, err
	}

	return &StatusResult{
		Status:        mapBkashStatus(resp.TransactionStatus),
		TransactionID: strings.TrimSpace(resp.TrxID),
		Reason:        strings.TrimSpace(resp.StatusMessage),
	}, nil
}

func (c *BkashClient) ChargeRecurring(ctx context.Context, gw *entity.PaymentGateway, profile *entity.RecurringPaymentProfile, payment *entity.Payment) (*ChargeResult, error) {
	if strings.TrimSpace(profile.PaymentMethodToken) == "" {
		return nil, ErrNotSupported
	}

	token, err := c.grantToken(ctx, gw)
	if err != nil {
		return nil, err
	}

	createBody := map[string]string{
		"mode":                  "0001",
		"agreementID":           profile.PaymentMethodToken,
		"amount":                payment.TotalAmount.StringFixed(2),
		"currency":              payment.Currency,
		"intent":                "sale",
		"merchantInvoiceNumber": payment.InvoiceNumber,
	}

	var created struct {
		PaymentID     string `json:"paymentID"`
		StatusCode    string `json:"statusCode"`
		StatusMessage string `json:"statusMessage"`
	}
	if err := c.postJSON(ctx, gw, "/tokenized/checkout/create", token, createBody, &created); err != nil {
		return nil, err
	}
	if created.StatusCode != bkashSuccessCode || strings.TrimSpace(created.PaymentID) == "" {
		return &ChargeResult{
			Status: entity.PaymentStatusFailed,
			Reason: fmt.Sprintf("bkash agreement payment rejected: code=%s message=%s", created.StatusCode, created.StatusMessage),
		}, nil
	}

	var executed struct {
		TrxID             string `json:"trxID"`
		TransactionStatus string `json:"transactionStatus"`
		StatusCode        string `json:"statusCode"`
		StatusMessage     string `json:"statusMessage"`
	}
	if err := c.postJSON(ctx, gw, "/tokenized/checkout/execute", token, map[string]string{"paymentID": created.PaymentID}, &executed); err != nil {
		return nil, err
	}

	status := mapBkashStatus(executed.TransactionStatus)
	reason := strings.TrimSpace(executed.StatusMessage)
	if status != entity.PaymentStatusCompleted && reason == "" {
		reason = "bkash transaction status " + executed.TransactionStatus
	}

	return &ChargeResult{
		Status:        status,
		TransactionID: strings.TrimSpace(executed.TrxID),
		Reason:        reason,
	}, nil
}

func (c *BkashClient) Refund(ctx context.Context, gw *entity.PaymentGateway, refund *entity.Refund) (*RefundResult, error) {
	if refund.GatewayTxnID == nil {
		return nil, fmt.Errorf("refund %s has no original transaction id", refund.RefundNo)
	}

	token, err := c.grantToken(ctx, gw)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"paymentID": refund.Metadata["bkash_payment_id"],
		"trxID":     *refund.GatewayTxnID,
		"amount":    refund.Amount.StringFixed(2),
		"reason":    refund.Reason,
		"sku":       refund.RefundNo,
	}

	var resp struct {
		RefundTrxID       string `json:"refundTrxID"`
		TransactionStatus string `json:"transactionStatus"`
		StatusCode        string `json:"statusCode"`
		StatusMessage     string `json:"statusMessage"`
	}
	if err := c.postJSON(ctx, gw, "/tokenized/checkout/payment/refund", token, body, &resp); err != nil {
		return nil, err
	}

	return mapBkashRefund(resp.TransactionStatus, resp.RefundTrxID, resp.StatusMessage), nil
}

func (c *BkashClient) LookupRefund(ctx context.Context, gw *entity.PaymentGateway, refund *entity.Refund) (*RefundResult, error) {
	if refund.GatewayTxnID == nil {
		return nil, fmt.Errorf("refund %s has no original transaction id", refund.RefundNo)
	}

	token, err := c.grantToken(ctx, gw)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"paymentID": refund.Metadata["bkash_payment_id"],
		"trxID":     *refund.GatewayTxnID,
	}

	var resp struct {
		RefundTrxID       string `json:"refundTrxID"`
		TransactionStatus string `json:"transactionStatus"`
		StatusMessage     string `json:"statusMessage"`
	}
	if err := c.postJSON(ctx, gw, "/tokenized/checkout/payment/refund/status", token, body, &resp); err != nil {
		return nil, err
	}

	return mapBkashRefund(resp.TransactionStatus, resp.RefundTrxID, resp.StatusMessage), nil
}

func (c *BkashClient) grantToken(ctx context.Context, gw *entity.PaymentGateway) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"app_key":    gw.Credential("app_key"),
		"app_secret": gw.Credential("app_secret"),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gw.BaseURL()+"/tokenized/checkout/token/grant", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("username", gw.Credential("username"))
	req.Header.Set("password", gw.Credential("password"))

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp struct {
		IDToken    string `json:"id_token"`
		StatusCode string `json:"statusCode"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &CommunicationError{Gateway: BkashCode, Err: err}
	}
	if strings.TrimSpace(resp.IDToken) == "" {
		return "", fmt.Errorf("bkash token grant rejected: code=%s", resp.StatusCode)
	}

	return resp.IDToken, nil
}

func (c *BkashClient) postJSON(ctx context.Context, gw *entity.PaymentGateway, path, token string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gw.BaseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("X-APP-Key", gw.Credential("app_key"))

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &CommunicationError{Gateway: BkashCode, Err: err}
	}
	return nil
}

func (c *BkashClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &CommunicationError{Gateway: BkashCode, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CommunicationError{Gateway: BkashCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &CommunicationError{
			Gateway: BkashCode,
			Err:     fmt.Errorf("bkash request failed: path=%s status=%d body=%s", req.URL.Path, resp.StatusCode, string(body)),
		}
	}

	return body, nil
}

// mapBkashStatus is the closed mapping from bKash transaction statuses to the
// internal state machine. Unknown statuses stay pending, never successful.
func mapBkashStatus(status string) entity.PaymentStatus {
	switch strings.TrimSpace(status) {
	case "Completed":
		return entity.PaymentStatusCompleted
	case "Failed":
		return entity.PaymentStatusFailed
	case "Cancelled":
		return entity.PaymentStatusCancelled
	case "Expired":
		return entity.PaymentStatusExpired
	default:
		return entity.PaymentStatusPending
	}
}

func mapBkashRefund(status, refundTrxID, message string) *RefundResult {
	result := &RefundResult{
		GatewayRefundID: strings.TrimSpace(refundTrxID),
		Reason:          strings.TrimSpace(message),
	}
	switch strings.TrimSpace(status) {
	case "Completed":
		result.Status = entity.RefundCompleted
	case "Failed", "Cancelled":
		result.Status = entity.RefundFailed
	default:
		result.Status = entity.RefundPending
	}
	return result
}
