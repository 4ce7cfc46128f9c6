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

func bkashGateway(baseURL string) *entity.PaymentGateway {
	return &entity.PaymentGateway{
		Code:           BkashCode,
		IsActive:       true,
		IsOnline:       true,
		TestMode:       true,
		SandboxBaseURL: baseURL,
		Credentials: map[string]string{
			"app_key":    "key-1",
			"app_secret": "secret-1",
			"username":   "merchant",
			"password":   "pass",
		},
		Currency: "BDT",
	}
}

func bkashPayment(t *testing.T) *entity.Payment {
	t.Helper()
	payment, err := entity.NewPayment(
		entity.PayableRef{Kind: entity.PayableStudentFee, ID: 1},
		decimal.NewFromInt(1500),
		decimal.Zero, decimal.Zero, decimal.Zero,
		"BDT",
	)
	if err != nil {
		t.Fatalf("new payment failed: %v", err)
	}
	return payment
}

func bkashServer(t *testing.T, handlers map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tokenized/checkout/token/grant", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("username") != "merchant" || r.Header.Get("password") != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id_token": "token-1", "statusCode": "0000"})
	})
	for path, handler := range handlers {
		mux.HandleFunc(path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestBkashInitialize(t *testing.T) {
	var gotInvoice string
	server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/tokenized/checkout/create": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "token-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotInvoice = body["merchantInvoiceNumber"]
			_ = json.NewEncoder(w).Encode(map[string]string{
				"paymentID":  "TR001",
				"bkashURL":   "https://sandbox.bkash.example/checkout/TR001",
				"statusCode": "0000",
			})
		},
	})

	client := NewBkashClient(5 * time.Second)
	payment := bkashPayment(t)

	result, err := client.Initialize(context.Background(), bkashGateway(server.URL), payment, InitOptions{SuccessURL: "https://school.example/return"})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if result.GatewayRef != "TR001" {
		t.Fatalf("expected gateway ref TR001, got %q", result.GatewayRef)
	}
	if result.RedirectURL == "" {
		t.Fatal("expected redirect url")
	}
	if result.Details["bkash_payment_id"] != "TR001" {
		t.Fatal("expected bkash payment id in details")
	}
	if gotInvoice != payment.InvoiceNumber {
		t.Fatalf("expected invoice %s sent to gateway, got %s", payment.InvoiceNumber, gotInvoice)
	}
}

func TestBkashInitializeRejectedCreate(t *testing.T) {
	server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/tokenized/checkout/create": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"statusCode": "2054", "statusMessage": "Invalid wallet"})
		},
	})

	client := NewBkashClient(5 * time.Second)
	_, err := client.Initialize(context.Background(), bkashGateway(server.URL), bkashPayment(t), InitOptions{})
	if err == nil {
		t.Fatal("expected error for rejected create")
	}
	if IsCommunicationError(err) {
		t.Fatal("a definitive rejection is not a communication error")
	}
}

func TestBkashQueryStatusMapping(t *testing.T) {
	cases := []struct {
		remote string
		want   entity.PaymentStatus
	}{
		{"Completed", entity.PaymentStatusCompleted},
		{"Failed", entity.PaymentStatusFailed},
		{"Cancelled", entity.PaymentStatusCancelled},
		{"Expired", entity.PaymentStatusExpired},
		{"Initiated", entity.PaymentStatusPending},
		{"SomethingNew", entity.PaymentStatusPending},
	}

	for _, tc := range cases {
		remote := tc.remote
		server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
			"/tokenized/checkout/payment/status": func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{
					"trxID":             "TXN-1",
					"transactionStatus": remote,
					"statusCode":        "0000",
				})
			},
		})

		client := NewBkashClient(5 * time.Second)
		payment := bkashPayment(t)
		payment.MergeDetails(map[string]string{"bkash_payment_id": "TR001"})

		result, err := client.QueryStatus(context.Background(), bkashGateway(server.URL), payment)
		if err != nil {
			t.Fatalf("%s: query failed: %v", tc.remote, err)
		}
		if result.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.remote, tc.want, result.Status)
		}
	}
}

func TestBkashQueryStatusWithoutPaymentID(t *testing.T) {
	client := NewBkashClient(5 * time.Second)
	_, err := client.QueryStatus(context.Background(), bkashGateway("http://unused.example"), bkashPayment(t))
	if err == nil {
		t.Fatal("expected error for missing bkash payment id")
	}
}

func TestBkashServerErrorIsCommunicationError(t *testing.T) {
	server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/tokenized/checkout/payment/status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})

	client := NewBkashClient(5 * time.Second)
	payment := bkashPayment(t)
	payment.MergeDetails(map[string]string{"bkash_payment_id": "TR001"})

	_, err := client.QueryStatus(context.Background(), bkashGateway(server.URL), payment)
	if !IsCommunicationError(err) {
		t.Fatalf("expected communication error, got %v", err)
	}
}

func TestBkashChargeRecurringDecline(t *testing.T) {
	server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/tokenized/checkout/create": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"statusCode": "2023", "statusMessage": "Insufficient Balance"})
		},
	})

	client := NewBkashClient(5 * time.Second)
	profile := &entity.RecurringPaymentProfile{PaymentMethodToken: "agreement-1"}

	result, err := client.ChargeRecurring(context.Background(), bkashGateway(server.URL), profile, bkashPayment(t))
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if result.Status != entity.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.Reason == "" {
		t.Fatal("expected decline reason")
	}
}

func TestBkashChargeRecurringSuccess(t *testing.T) {
	server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/tokenized/checkout/create": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"paymentID": "TR002", "statusCode": "0000"})
		},
		"/tokenized/checkout/execute": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["paymentID"] != "TR002" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"trxID":             "TXN-REC-7",
				"transactionStatus": "Completed",
				"statusCode":        "0000",
			})
		},
	})

	client := NewBkashClient(5 * time.Second)
	profile := &entity.RecurringPaymentProfile{PaymentMethodToken: "agreement-1"}

	result, err := client.ChargeRecurring(context.Background(), bkashGateway(server.URL), profile, bkashPayment(t))
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if result.Status != entity.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.TransactionID != "TXN-REC-7" {
		t.Fatalf("expected TXN-REC-7, got %q", result.TransactionID)
	}
}

func TestBkashChargeRecurringWithoutToken(t *testing.T) {
	client := NewBkashClient(5 * time.Second)
	profile := &entity.RecurringPaymentProfile{}

	_, err := client.ChargeRecurring(context.Background(), bkashGateway("http://unused.example"), profile, bkashPayment(t))
	if err != ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestBkashRefund(t *testing.T) {
	server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/tokenized/checkout/payment/refund": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["paymentID"] != "TR001" || body["trxID"] != "TXN-1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"refundTrxID":       "RFD-7",
				"transactionStatus": "Completed",
			})
		},
	})

	client := NewBkashClient(5 * time.Second)
	payment := bkashPayment(t)
	payment.Settle("TXN-1", time.Now().UTC())
	refund := entity.NewRefund(payment, decimal.NewFromInt(200), "overcharge", 1, 2, map[string]string{"bkash_payment_id": "TR001"})

	result, err := client.Refund(context.Background(), bkashGateway(server.URL), refund)
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if result.Status != entity.RefundCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.GatewayRefundID != "RFD-7" {
		t.Fatalf("expected RFD-7, got %q", result.GatewayRefundID)
	}
}

func TestBkashLookupRefundUnknownStatusStaysPending(t *testing.T) {
	server := bkashServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/tokenized/checkout/payment/refund/status": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"transactionStatus": "Processing"})
		},
	})

	client := NewBkashClient(5 * time.Second)
	payment := bkashPayment(t)
	payment.Settle("TXN-1", time.Now().UTC())
	refund := entity.NewRefund(payment, decimal.NewFromInt(200), "overcharge", 1, 2, map[string]string{"bkash_payment_id": "TR001"})

	result, err := client.LookupRefund(context.Background(), bkashGateway(server.URL), refund)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if result.Status != entity.RefundPending {
		t.Fatalf("expected pending, got %s", result.Status)
	}
}
