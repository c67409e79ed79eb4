package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telehealth-consult/internal/metrics"
)

const providerName = "razorpay"

var tracer = otel.Tracer("telehealth.internal.payments")

var ErrGatewayNotConfigured = errors.New("payment gateway not configured")

// GatewayOrder is the gateway's view of a created order.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

// Gateway is the payment provider surface.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (*GatewayOrder, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// orderCreator is satisfied by razorpay-go's order resource.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway creates orders through razorpay-go and verifies checkout
// signatures locally with the key secret.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	orders    orderCreator
	metrics   *metrics.Metrics
}

func NewRazorpayGateway(keyID, keySecret string, m *metrics.Metrics) *RazorpayGateway {
	g := &RazorpayGateway{keyID: keyID, keySecret: keySecret, metrics: m}
	if keyID != "" && keySecret != "" {
		g.orders = razorpay.NewClient(keyID, keySecret).Order
	}
	return g
}

func (g *RazorpayGateway) KeyID() string { return g.keyID }

func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (*GatewayOrder, error) {
	if g.orders == nil {
		return nil, ErrGatewayNotConfigured
	}

	_, span := tracer.Start(ctx, "payments.create_order", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("payments.amount", amountPaise), attribute.String("payments.receipt", receipt))

	start := time.Now()
	body, err := g.orders.Create(map[string]interface{}{
		"amount":   amountPaise,
		"currency": currency,
		"receipt":  receipt,
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		g.metrics.ObserveProvider(providerName, "create_order", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("create gateway order: %w", err)
	}
	g.metrics.ObserveProvider(providerName, "create_order", "ok", time.Since(start).Seconds())

	id, _ := body["id"].(string)
	if id == "" {
		return nil, errors.New("create gateway order: response missing id")
	}
	return &GatewayOrder{
		ID:       id,
		Amount:   amountPaise,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

// VerifySignature checks the checkout signature, an HMAC-SHA256 of
// "order_id|payment_id" keyed with the key secret.
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) bool {
	if g.keySecret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(g.keySecret, orderID, paymentID)), []byte(signature))
}

// Sign computes the checkout signature for orderID and paymentID.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Gateway = (*RazorpayGateway)(nil)
