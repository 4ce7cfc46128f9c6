package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axiomedu/ms-go-billing/app/entity"
	"github.com/shopspring/decimal"
)

func sslGateway(baseURL string) *entity.PaymentGateway {
	return &entity.PaymentGateway{
		Code:           SSLCommerzCode,
		IsActive:       true,
		IsOnline:       true,
		TestMode:       true,
		SandboxBaseURL: baseURL,
		Credentials: map[string]string{
			"store_id":     "store-1",
			"store_passwd": "passwd-1",
		},
		Currency: "BDT",
	}
}

func sslPayment(t *testing.T) *entity.Payment {
	t.Helper()
	payment, err := entity.NewPayment(
		entity.PayableRef{Kind: entity.PayableAdmission, ID: 3},
		decimal.NewFromInt(2500),
		decimal.Zero, decimal.Zero, decimal.Zero,
		"BDT",
	)
	if err != nil {
		t.Fatalf("new payment failed: %v", err)
	}
	return payment
}

func TestSSLCommerzInitialize(t *testing.T) {
	var gotTranID, gotStoreID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gwprocess/v4/api.php" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		gotTranID = r.PostFormValue("tran_id")
		gotStoreID = r.PostFormValue("store_id")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":         "SUCCESS",
			"sessionkey":     "SESSION-1",
			"GatewayPageURL": "https://sandbox.sslcommerz.example/gw/SESSION-1",
		})
	}))
	defer server.Close()

	client := NewSSLCommerzClient(5 * time.Second)
	payment := sslPayment(t)

	result, err := client.Initialize(context.Background(), sslGateway(server.URL), payment, InitOptions{
		SuccessURL: "https://school.example/success",
		FailURL:    "https://school.example/fail",
		CancelURL:  "https://school.example/cancel",
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if result.GatewayRef != "SESSION-1" {
		t.Fatalf("expected session key ref, got %q", result.GatewayRef)
	}
	if result.Details["ssl_session_key"] != "SESSION-1" {
		t.Fatal("expected session key in details")
	}
	if gotTranID != payment.InvoiceNumber {
		t.Fatalf("expected tran_id %s, got %s", payment.InvoiceNumber, gotTranID)
	}
	if gotStoreID != "store-1" {
		t.Fatalf("expected store id sent, got %q", gotStoreID)
	}
}

func TestSSLCommerzInitializeRejectedSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":       "FAILED",
			"failedreason": "Store Credential Error Or Store is De-active",
		})
	}))
	defer server.Close()

	client := NewSSLCommerzClient(5 * time.Second)
	_, err := client.Initialize(context.Background(), sslGateway(server.URL), sslPayment(t), InitOptions{})
	if err == nil {
		t.Fatal("expected error for rejected session")
	}
	if IsCommunicationError(err) {
		t.Fatal("a definitive rejection is not a communication error")
	}
}

func TestSSLCommerzQueryStatusMapping(t *testing.T) {
	cases := []struct {
		remote string
		want   entity.PaymentStatus
	}{
		{"VALID", entity.PaymentStatusCompleted},
		{"VALIDATED", entity.PaymentStatusCompleted},
		{"FAILED", entity.PaymentStatusFailed},
		{"CANCELLED", entity.PaymentStatusCancelled},
		{"EXPIRED", entity.PaymentStatusExpired},
		{"UNATTEMPTED", entity.PaymentStatusPending},
	}

	for _, tc := range cases {
		remote := tc.remote
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"APIConnect": "DONE",
				"element": []map[string]string{
					{"status": remote, "bank_tran_id": "BANK-1"},
				},
			})
		}))

		client := NewSSLCommerzClient(5 * time.Second)
		result, err := client.QueryStatus(context.Background(), sslGateway(server.URL), sslPayment(t))
		server.Close()
		if err != nil {
			t.Fatalf("%s: query failed: %v", tc.remote, err)
		}
		if result.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.remote, tc.want, result.Status)
		}
	}
}

func TestSSLCommerzQueryStatusNoRecordIsPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"APIConnect": "DONE",
			"element":    []map[string]string{},
		})
	}))
	defer server.Close()

	client := NewSSLCommerzClient(5 * time.Second)
	result, err := client.QueryStatus(context.Background(), sslGateway(server.URL), sslPayment(t))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Status != entity.PaymentStatusPending {
		t.Fatalf("expected pending for unattempted checkout, got %s", result.Status)
	}
}

func TestSSLCommerzQueryStatusConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"APIConnect": "INVALID_REQUEST"})
	}))
	defer server.Close()

	client := NewSSLCommerzClient(5 * time.Second)
	_, err := client.QueryStatus(context.Background(), sslGateway(server.URL), sslPayment(t))
	if !IsCommunicationError(err) {
		t.Fatalf("expected communication error, got %v", err)
	}
}

func TestSSLCommerzChargeRecurringNotSupported(t *testing.T) {
	client := NewSSLCommerzClient(5 * time.Second)
	_, err := client.ChargeRecurring(context.Background(), sslGateway("http://unused.example"), &entity.RecurringPaymentProfile{}, sslPayment(t))
	if err != ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestSSLCommerzRefundStatuses(t *testing.T) {
	cases := []struct {
		remote string
		want   entity.RefundState
	}{
		{"success", entity.RefundCompleted},
		{"processing", entity.RefundPending},
		{"failed", entity.RefundFailed},
	}

	for _, tc := range cases {
		remote := tc.remote
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":        remote,
				"refund_ref_id": "REF-1",
			})
		}))

		client := NewSSLCommerzClient(5 * time.Second)
		payment := sslPayment(t)
		payment.Settle("BANK-1", time.Now().UTC())
		refund := entity.NewRefund(payment, decimal.NewFromInt(500), "overcharge", 1, 2, nil)

		result, err := client.Refund(context.Background(), sslGateway(server.URL), refund)
		server.Close()
		if err != nil {
			t.Fatalf("%s: refund failed: %v", tc.remote, err)
		}
		if result.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.remote, tc.want, result.Status)
		}
	}
}

func TestSSLCommerzLookupRefundWithoutRefIsPending(t *testing.T) {
	client := NewSSLCommerzClient(5 * time.Second)
	payment := sslPayment(t)
	payment.Settle("BANK-1", time.Now().UTC())
	refund := entity.NewRefund(payment, decimal.NewFromInt(500), "overcharge", 1, 2, nil)

	result, err := client.LookupRefund(context.Background(), sslGateway("http://unused.example"), refund)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result.Status != entity.RefundPending {
		t.Fatalf("expected pending, got %s", result.Status)
	}
}

func TestSSLCommerzLookupRefundRefunded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":        "refunded",
			"refund_ref_id": "REF-1",
		})
	}))
	defer server.Close()

	client := NewSSLCommerzClient(5 * time.Second)
	payment := sslPayment(t)
	payment.Settle("BANK-1", time.Now().UTC())
	refund := entity.NewRefund(payment, decimal.NewFromInt(500), "overcharge", 1, 2, nil)
	refID := "REF-1"
	refund.GatewayRefundID = &refID

	result, err := client.LookupRefund(context.Background(), sslGateway(server.URL), refund)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result.Status != entity.RefundCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
}
