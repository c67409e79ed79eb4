package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-consult/internal/db"
)

const testSecret = "rzp_secret"

type fakeOrders struct {
	got map[string]interface{}
	err error
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.got = data
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"id": "order_123", "status": "created"}, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]Order
	events []string
}

func newMemOrders() *memOrders { return &memOrders{orders: make(map[uuid.UUID]Order)} }

func (m *memOrders) CreateOrder(_ context.Context, o Order) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	o.Status = OrderCreated
	m.orders[o.ID] = o
	return &o, nil
}

func (m *memOrders) GetByGatewayOrderID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID == id {
			return &o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *memOrders) settle(id uuid.UUID, to OrderStatus, paymentID *string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != OrderCreated {
		return nil, ErrOrderAlreadyClosed
	}
	o.Status = to
	o.GatewayPaymentID = paymentID
	m.orders[id] = o
	return &o, nil
}

func (m *memOrders) MarkPaid(_ context.Context, id uuid.UUID, paymentID string) (*Order, error) {
	return m.settle(id, OrderPaid, &paymentID)
}

func (m *memOrders) MarkFailed(_ context.Context, id uuid.UUID) (*Order, error) {
	return m.settle(id, OrderFailed, nil)
}

func (m *memOrders) InsertEvent(_ context.Context, ev db.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev.EventType)
	return nil
}

type fakeAppointments struct {
	appt     PayableAppointment
	paid     int
	failNext error
}

func (f *fakeAppointments) ForPayment(_ context.Context, id uuid.UUID) (*PayableAppointment, error) {
	if id != f.appt.ID {
		return nil, errors.New("appointment not found")
	}
	out := f.appt
	return &out, nil
}

func (f *fakeAppointments) MarkPaid(_ context.Context, _ uuid.UUID) error {
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	f.paid++
	f.appt.Paid = true
	return nil
}

func newTestService(t *testing.T) (*Service, *memOrders, *fakeAppointments, *fakeOrders) {
	t.Helper()
	gw := NewRazorpayGateway("rzp_key", testSecret, nil)
	orders := &fakeOrders{}
	gw.orders = orders

	appts := &fakeAppointments{appt: PayableAppointment{ID: uuid.New(), PatientID: uuid.New(), FeePaise: 50000}}
	repo := newMemOrders()
	return NewService(repo, gw, appts, nil, zerolog.Nop()), repo, appts, orders
}

func TestSignAndVerify(t *testing.T) {
	gw := NewRazorpayGateway("k", testSecret, nil)
	sig := Sign(testSecret, "order_1", "pay_1")

	assert.True(t, gw.VerifySignature("order_1", "pay_1", sig))
	assert.False(t, gw.VerifySignature("order_1", "pay_2", sig))
	assert.False(t, gw.VerifySignature("order_1", "pay_1", ""))
	assert.False(t, NewRazorpayGateway("k", "", nil).VerifySignature("order_1", "pay_1", sig))
}

func TestCreateOrderWithoutKeys(t *testing.T) {
	_, err := NewRazorpayGateway("", "", nil).CreateOrder(context.Background(), 100, "INR", "r")
	require.ErrorIs(t, err, ErrGatewayNotConfigured)
}

func TestServiceCreateOrder(t *testing.T) {
	svc, repo, appts, orders := newTestService(t)

	out, err := svc.CreateOrder(context.Background(), appts.appt.ID, appts.appt.PatientID)
	require.NoError(t, err)
	assert.Equal(t, "order_123", out.GatewayOrderID)
	assert.Equal(t, "rzp_key", out.KeyID)
	assert.Equal(t, int64(50000), orders.got["amount"])
	assert.Equal(t, "INR", orders.got["currency"])
	assert.Equal(t, []string{EventOrderCreated}, repo.events)

	_, err = svc.CreateOrder(context.Background(), appts.appt.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestServiceVerifyMarksPaid(t *testing.T) {
	svc, repo, appts, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, appts.appt.ID, appts.appt.PatientID)
	require.NoError(t, err)

	order, err := svc.Verify(ctx, appts.appt.PatientID, VerifyRequest{
		OrderID:   "order_123",
		PaymentID: "pay_9",
		Signature: Sign(testSecret, "order_123", "pay_9"),
	})
	require.NoError(t, err)
	assert.Equal(t, OrderPaid, order.Status)
	assert.Equal(t, 1, appts.paid)
	assert.Contains(t, repo.events, EventPaymentCaptured)

	_, err = svc.CreateOrder(ctx, appts.appt.ID, appts.appt.PatientID)
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestServiceVerifyRetryAfterAppointmentUpdateFails(t *testing.T) {
	svc, repo, appts, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, appts.appt.ID, appts.appt.PatientID)
	require.NoError(t, err)

	req := VerifyRequest{
		OrderID:   "order_123",
		PaymentID: "pay_9",
		Signature: Sign(testSecret, "order_123", "pay_9"),
	}
	appts.failNext = errors.New("connection reset")

	_, err = svc.Verify(ctx, appts.appt.PatientID, req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVerificationFailed)
	assert.False(t, appts.appt.Paid)

	stored, err := repo.GetByGatewayOrderID(ctx, "order_123")
	require.NoError(t, err)
	assert.Equal(t, OrderPaid, stored.Status)

	order, err := svc.Verify(ctx, appts.appt.PatientID, req)
	require.NoError(t, err)
	assert.Equal(t, OrderPaid, order.Status)
	assert.True(t, appts.appt.Paid)
	assert.Equal(t, 1, appts.paid)

	// A different payment id against the settled order is still rejected.
	_, err = svc.Verify(ctx, appts.appt.PatientID, VerifyRequest{
		OrderID: "order_123", PaymentID: "pay_10", Signature: Sign(testSecret, "order_123", "pay_10"),
	})
	require.ErrorIs(t, err, ErrVerificationFailed)
}

func TestServiceVerifyRejectsBadSignature(t *testing.T) {
	svc, repo, appts, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, appts.appt.ID, appts.appt.PatientID)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, appts.appt.PatientID, VerifyRequest{OrderID: "order_123", PaymentID: "pay_9", Signature: "forged"})
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, VerificationFailedMessage, UserMessage(err))
	assert.Zero(t, appts.paid)

	// A failed order cannot be replayed with a good signature.
	_, err = svc.Verify(ctx, appts.appt.PatientID, VerifyRequest{
		OrderID: "order_123", PaymentID: "pay_9", Signature: Sign(testSecret, "order_123", "pay_9"),
	})
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Zero(t, appts.paid)
	assert.Contains(t, repo.events, EventVerificationFailed)
}

func TestCheckoutVerificationNon2xx(t *testing.T) {
	var verifyCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/orders":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(CheckoutOrder{Order: Order{GatewayOrderID: "order_1"}, KeyID: "rzp_key"})
		case "/payments/verify":
			verifyCalls++
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := NewCheckout(srv.URL, "tok", srv.Client())
	ctx := context.Background()

	order, err := c.Start(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.GatewayOrderID)

	callbacks := make(chan GatewayCallback, 1)
	callbacks <- GatewayCallback{Result: VerifyRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}}

	_, err = c.Complete(ctx, callbacks)
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, "Payment verification failed. Please contact support.", UserMessage(err))
	assert.Equal(t, 1, verifyCalls, "verification is not retried")
}

func TestCheckoutSuccessAndDismiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(Order{GatewayOrderID: req.OrderID, Status: OrderPaid})
	}))
	defer srv.Close()

	c := NewCheckout(srv.URL, "", srv.Client())

	callbacks := make(chan GatewayCallback, 1)
	callbacks <- GatewayCallback{Result: VerifyRequest{OrderID: "order_7", PaymentID: "pay_7", Signature: "s"}}
	order, err := c.Complete(context.Background(), callbacks)
	require.NoError(t, err)
	assert.Equal(t, OrderPaid, order.Status)

	callbacks <- GatewayCallback{Dismissed: true}
	_, err = c.Complete(context.Background(), callbacks)
	require.ErrorIs(t, err, ErrCheckoutDismissed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, make(chan GatewayCallback))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
