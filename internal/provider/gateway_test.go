package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCreateLocalProviderLinks(t *testing.T) {
	g := NewGateway(Config{})
	for _, p := range []Provider{Stripe, Paytm, Cashfree} {
		link, err := g.CreatePaymentLink(context.Background(), p, decimal.RequireFromString("1000.00"), "INR")
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if got, ok := FromOrderRef(link.OrderRef); !ok || got != p {
			t.Fatalf("%s: reference %q does not dispatch back", p, link.OrderRef)
		}
		if link.PayURL == "" {
			t.Fatalf("%s: empty pay url", p)
		}
	}

	a, _ := g.CreatePaymentLink(context.Background(), Stripe, decimal.NewFromInt(1), "INR")
	b, _ := g.CreatePaymentLink(context.Background(), Stripe, decimal.NewFromInt(1), "INR")
	if a.OrderRef == b.OrderRef {
		t.Fatal("order references must be unique")
	}

	if _, err := g.CreatePaymentLink(context.Background(), Unsupported, decimal.NewFromInt(1), "INR"); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestRazorpayCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		var req razorpayOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Amount != 100050 || req.Currency != "INR" {
			t.Errorf("unexpected order request %+v", req)
		}
		w.Write([]byte(`{"id":"order_Abc123"}`))
	}))
	defer srv.Close()

	g := NewGateway(Config{RazorpayKeyID: "key", RazorpayKeySecret: "secret", RazorpayBaseURL: srv.URL})
	link, err := g.CreatePaymentLink(context.Background(), Razorpay, decimal.RequireFromString("1000.50"), "INR")
	if err != nil {
		t.Fatalf("CreatePaymentLink: %v", err)
	}
	if link.OrderRef != "razorpay_order_Abc123" {
		t.Fatalf("unexpected order ref %q", link.OrderRef)
	}
	if !strings.HasSuffix(link.PayURL, "order_Abc123") {
		t.Fatalf("unexpected pay url %q", link.PayURL)
	}
}

func TestRazorpayCreateOrderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewGateway(Config{RazorpayBaseURL: srv.URL})
	if _, err := g.CreatePaymentLink(context.Background(), Razorpay, decimal.NewFromInt(10), "INR"); err == nil {
		t.Fatal("expected error")
	}
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/pay_ok":
			w.Write([]byte(`{"id":"pay_ok","status":"captured"}`))
		case "/payments/pay_auth":
			w.Write([]byte(`{"id":"pay_auth","status":"authorized"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	g := NewGateway(Config{RazorpayBaseURL: srv.URL})
	ctx := context.Background()

	tests := []struct {
		name       string
		ref, txn   string
		successful bool
		hasError   bool
	}{
		{"razorpay captured", "razorpay_order_1", "pay_ok", true, false},
		{"razorpay authorized only", "razorpay_order_1", "pay_auth", false, false},
		{"razorpay transport failure", "razorpay_order_1", "pay_missing", false, true},
		{"stripe", "stripe_x", "txn", true, false},
		{"unknown format", "order_1", "txn", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := g.Verify(ctx, tt.ref, tt.txn)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if v.Successful != tt.successful {
				t.Fatalf("Successful = %v, want %v", v.Successful, tt.successful)
			}
			if (v.Error != "") != tt.hasError {
				t.Fatalf("Error = %q", v.Error)
			}
		})
	}
}
