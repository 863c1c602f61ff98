package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payments/internal/money"
)

// Link is a created payment intent.
type Link struct {
	Provider Provider
	OrderRef string
	PayURL   string
}

// Verification is the provider's answer for a callback.
type Verification struct {
	Successful    bool
	TransactionID string
	Error         string
}

type Config struct {
	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string

	Client *http.Client
	Logger *slog.Logger
}

// Gateway talks to the supported providers. Razorpay is a real HTTP
// integration; the others issue hosted-checkout references locally.
type Gateway struct {
	razorpayKeyID     string
	razorpayKeySecret string
	razorpayBaseURL   string

	httpClient *http.Client
	logger     *slog.Logger
}

func NewGateway(cfg Config) *Gateway {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.RazorpayBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.razorpay.com/v1"
	}
	return &Gateway{
		razorpayKeyID:     cfg.RazorpayKeyID,
		razorpayKeySecret: cfg.RazorpayKeySecret,
		razorpayBaseURL:   baseURL,
		httpClient:        client,
		logger:            logger,
	}
}

func (g *Gateway) CreatePaymentLink(ctx context.Context, p Provider, amount decimal.Decimal, currency string) (Link, error) {
	switch p {
	case Razorpay:
		return g.createRazorpayOrder(ctx, amount, currency)
	case Stripe:
		ref := p.refPrefix() + uuid.NewString()
		return Link{Provider: p, OrderRef: ref, PayURL: "https://checkout.stripe.com/pay/" + ref}, nil
	case Paytm:
		ref := p.refPrefix() + uuid.NewString()
		return Link{Provider: p, OrderRef: ref, PayURL: "https://securegw.paytm.in/theia/processTransaction?orderid=" + ref}, nil
	case Cashfree:
		ref := p.refPrefix() + uuid.NewString()
		return Link{Provider: p, OrderRef: ref, PayURL: "https://payments.cashfree.com/order/#" + ref}, nil
	default:
		return Link{}, ErrUnsupported
	}
}

func (g *Gateway) Verify(ctx context.Context, orderRef, transactionID string) (Verification, error) {
	p, ok := FromOrderRef(orderRef)
	if !ok {
		return Verification{Successful: false, Error: "unknown provider order reference format"}, nil
	}
	switch p {
	case Razorpay:
		return g.verifyRazorpayPayment(ctx, transactionID)
	default:
		return Verification{Successful: true, TransactionID: transactionID}, nil
	}
}

type razorpayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type razorpayOrderResponse struct {
	ID string `json:"id"`
}

type razorpayPaymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (g *Gateway) createRazorpayOrder(ctx context.Context, amount decimal.Decimal, currency string) (Link, error) {
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   money.MinorUnits(amount),
		Currency: currency,
		Receipt:  uuid.NewString(),
	})
	if err != nil {
		return Link{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.razorpayBaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Link{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.razorpayKeyID, g.razorpayKeySecret)

	var out razorpayOrderResponse
	if err := g.do(req, &out); err != nil {
		return Link{}, fmt.Errorf("razorpay create order: %w", err)
	}
	if out.ID == "" {
		return Link{}, fmt.Errorf("razorpay create order: empty order id")
	}

	ref := Razorpay.refPrefix() + out.ID
	g.logger.Info("razorpay order created", "order_ref", ref)
	return Link{Provider: Razorpay, OrderRef: ref, PayURL: "https://razorpay.com/pay/" + out.ID}, nil
}

// verifyRazorpayPayment treats anything but a captured payment, including
// transport failures, as unsuccessful.
func (g *Gateway) verifyRazorpayPayment(ctx context.Context, paymentID string) (Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.razorpayBaseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return Verification{Successful: false, Error: err.Error()}, nil
	}
	req.SetBasicAuth(g.razorpayKeyID, g.razorpayKeySecret)

	var out razorpayPaymentResponse
	if err := g.do(req, &out); err != nil {
		g.logger.Warn("razorpay verification failed", "payment_id", paymentID, "error", err)
		return Verification{Successful: false, TransactionID: paymentID, Error: err.Error()}, nil
	}
	return Verification{Successful: out.Status == "captured", TransactionID: out.ID}, nil
}

func (g *Gateway) do(req *http.Request, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
