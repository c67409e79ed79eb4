package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrCheckoutDismissed = errors.New("checkout dismissed")

// GatewayCallback is what the gateway widget hands back when the patient
// finishes or closes checkout.
type GatewayCallback struct {
	Result    VerifyRequest
	Dismissed bool
}

// Checkout drives a client-side payment against the API. The gateway
// widget's callback arrives on a channel owned by the caller.
type Checkout struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewCheckout(baseURL, bearerToken string, client *http.Client) *Checkout {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Checkout{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   bearerToken,
		client:  client,
	}
}

// Start asks the backend for a gateway order to open the widget with.
func (c *Checkout) Start(ctx context.Context, appointmentID uuid.UUID) (*CheckoutOrder, error) {
	var order CheckoutOrder
	status, err := c.post(ctx, "/payments/orders", map[string]string{"appointment_id": appointmentID.String()}, &order)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("create order: unexpected status %d", status)
	}
	return &order, nil
}

// Complete waits for the widget callback and forwards it for verification.
// Payment counts as confirmed only when the backend accepts it.
func (c *Checkout) Complete(ctx context.Context, callbacks <-chan GatewayCallback) (*Order, error) {
	var cb GatewayCallback
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case got, ok := <-callbacks:
		if !ok {
			return nil, ErrCheckoutDismissed
		}
		cb = got
	}
	if cb.Dismissed {
		return nil, ErrCheckoutDismissed
	}

	var order Order
	status, err := c.post(ctx, "/payments/verify", cb.Result, &order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrVerificationFailed, status)
	}
	return &order, nil
}

func (c *Checkout) post(ctx context.Context, path string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
