package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
)

const SSLCommerzCode = "sslcommerz"

// SSLCommerzClient speaks the SSLCommerz hosted checkout protocol: create a
// gateway session, then validate transactions and drive refunds through the
// validator API. SSLCommerz has no tokenized recurring charge, so
// ChargeRecurring reports ErrNotSupported.
type SSLCommerzClient struct {
	client *http.Client
}

func NewSSLCommerzClient(timeout time.Duration) *SSLCommerzClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SSLCommerzClient{client: &http.Client{Timeout: timeout}}
}

func (c *SSLCommerzClient) Code() string {
	return SSLCommerzCode
}

func (c *SSLCommerzClient) RequiredCredentials() []string {
	return []string{"store_id", "store_passwd"}
}

func (c *SSLCommerzClient) Initialize(ctx context.Context, gw *entity.PaymentGateway, payment *entity.Payment, opts InitOptions) (*InitResult, error) {
	values := url.Values{}
	values.Set("store_id", gw.Credential("store_id"))
	values.Set("store_passwd", gw.Credential("store_passwd"))
	values.Set("total_amount", payment.TotalAmount.StringFixed(2))
	values.Set("currency", payment.Currency)
	values.Set("tran_id", payment.InvoiceNumber)
	values.Set("success_url", opts.SuccessURL)
	values.Set("fail_url", opts.FailURL)
	values.Set("cancel_url", opts.CancelURL)
	values.Set("cus_name", opts.CustomerName)
	values.Set("cus_email", opts.CustomerEmail)
	values.Set("cus_phone", opts.CustomerPhone)
	values.Set("product_name", payment.Payable.Kind.Label())
	values.Set("product_category", string(payment.Payable.Kind))
	values.Set("product_profile", "non-physical-goods")
	values.Set("shipping_method", "NO")
	values.Set("emi_option", "0")

	body, err := c.postForm(ctx, gw.BaseURL()+"/gwprocess/v4/api.php", values)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status         string `json:"status"`
		SessionKey     string `json:"sessionkey"`
		GatewayPageURL string `json:"GatewayPageURL"`
		FailedReason   string `json:"failedreason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CommunicationError{Gateway: SSLCommerzCode, Err: err}
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") || strings.TrimSpace(resp.SessionKey) == "" {
		return nil, fmt.Errorf("sslcommerz session rejected: %s", strings.TrimSpace(resp.FailedReason))
	}

	return &InitResult{
		GatewayRef:  resp.SessionKey,
		RedirectURL: resp.GatewayPageURL,
		Details: map[string]string{
			"ssl_session_key": resp.SessionKey,
		},
	}, nil
}

func (c *SSLCommerzClient) ExtractCallback(payload map[string]string) CallbackRef {
	return CallbackRef{
		InvoiceNumber: strings.TrimSpace(payload["tran_id"]),
		GatewayRef:    strings.TrimSpace(payload["sessionkey"]),
	}
}

func (c *SSLCommerzClient) QueryStatus(ctx context.Context, gw *entity.PaymentGateway, payment *entity.Payment) (*StatusResult, error) {
	values := url.Values{}
	values.Set("tran_id", payment.InvoiceNumber)
	values.Set("store_id", gw.Credential("store_id"))
	values.Set("store_passwd", gw.Credential("store_passwd"))
	values.Set("format", "json")

	body, err := c.get(ctx, gw.BaseURL()+"/validator/api/merchantTransIDvalidationAPI.php?"+values.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		APIConnect string `json:"APIConnect"`
		Element    []struct {
			Status      string `json:"status"`
			BankTranID  string `json:"bank_tran_id"`
			RiskTitle   string `json:"risk_title"`
			ErrorReason string `json:"error"`
		} `json:"element"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CommunicationError{Gateway: SSLCommerzCode, Err: err}
	}
	if !strings.EqualFold(resp.APIConnect, "DONE") {
		return nil, &CommunicationError{
			Gateway: SSLCommerzCode,
			Err:     fmt.Errorf("validator api connect status %s", resp.APIConnect),
		}
	}
	if len(resp.Element) == 0 {
		// The gateway has no record yet; the checkout was never attempted.
		return &StatusResult{Status: entity.PaymentStatusPending}, nil
	}

	latest := resp.Element[0]
	return &StatusResult{
		Status:        mapSSLCommerzStatus(latest.Status),
		TransactionID: strings.TrimSpace(latest.BankTranID),
		Reason:        strings.TrimSpace(latest.ErrorReason),
	}, nil
}

func (c *SSLCommerzClient) ChargeRecurring(_ context.Context, _ *entity.PaymentGateway, _ *entity.RecurringPaymentProfile, _ *entity.Payment) (*ChargeResult, error) {
	return nil, ErrNotSupported
}

func (c *SSLCommerzClient) Refund(ctx context.Context, gw *entity.PaymentGateway, refund *entity.Refund) (*RefundResult, error) {
	if refund.GatewayTxnID == nil {
		return nil, fmt.Errorf("refund %s has no original transaction id", refund.RefundNo)
	}

	values := url.Values{}
	values.Set("bank_tran_id", *refund.GatewayTxnID)
	values.Set("refund_amount", refund.Amount.StringFixed(2))
	values.Set("refund_remarks", refund.Reason)
	values.Set("store_id", gw.Credential("store_id"))
	values.Set("store_passwd", gw.Credential("store_passwd"))
	values.Set("v", "1")
	values.Set("format", "json")

	body, err := c.get(ctx, gw.BaseURL()+"/validator/api/merchantTransIDvalidationAPI.php?"+values.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status      string `json:"status"`
		RefundRefID string `json:"refund_ref_id"`
		ErrorReason string `json:"errorReason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CommunicationError{Gateway: SSLCommerzCode, Err: err}
	}

	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case "success":
		return &RefundResult{Status: entity.RefundCompleted, GatewayRefundID: strings.TrimSpace(resp.RefundRefID)}, nil
	case "processing":
		return &RefundResult{Status: entity.RefundPending, GatewayRefundID: strings.TrimSpace(resp.RefundRefID)}, nil
	default:
		return &RefundResult{Status: entity.RefundFailed, Reason: strings.TrimSpace(resp.ErrorReason)}, nil
	}
}

func (c *SSLCommerzClient) LookupRefund(ctx context.Context, gw *entity.PaymentGateway, refund *entity.Refund) (*RefundResult, error) {
	if refund.GatewayRefundID == nil {
		return &RefundResult{Status: entity.RefundPending}, nil
	}

	values := url.Values{}
	values.Set("refund_ref_id", *refund.GatewayRefundID)
	values.Set("store_id", gw.Credential("store_id"))
	values.Set("store_passwd", gw.Credential("store_passwd"))
	values.Set("format", "json")

	body, err := c.get(ctx, gw.BaseURL()+"/validator/api/merchantTransIDvalidationAPI.php?"+values.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status      string `json:"status"`
		RefundRefID string `json:"refund_ref_id"`
		ErrorReason string `json:"errorReason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CommunicationError{Gateway: SSLCommerzCode, Err: err}
	}

	result := &RefundResult{
		GatewayRefundID: strings.TrimSpace(resp.RefundRefID),
		Reason:          strings.TrimSpace(resp.ErrorReason),
	}
	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case "refunded":
		result.Status = entity.RefundCompleted
	case "cancelled", "failed":
		result.Status = entity.RefundFailed
	default:
		result.Status = entity.RefundPending
	}
	return result, nil
}

func (c *SSLCommerzClient) postForm(ctx context.Context, endpoint string, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *SSLCommerzClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *SSLCommerzClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &CommunicationError{Gateway: SSLCommerzCode, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CommunicationError{Gateway: SSLCommerzCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &CommunicationError{
			Gateway: SSLCommerzCode,
			Err:     fmt.Errorf("sslcommerz request failed: path=%s status=%d body=%s", req.URL.Path, resp.StatusCode, string(body)),
		}
	}

	return body, nil
}

// mapSSLCommerzStatus is the closed mapping from validator statuses to the
// internal state machine. Unknown statuses stay pending.
func mapSSLCommerzStatus(status string) entity.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "VALID", "VALIDATED":
		return entity.PaymentStatusCompleted
	case "FAILED":
		return entity.PaymentStatusFailed
	case "CANCELLED":
		return entity.PaymentStatusCancelled
	case "EXPIRED":
		return entity.PaymentStatusExpired
	default:
		return entity.PaymentStatusPending
	}
}
