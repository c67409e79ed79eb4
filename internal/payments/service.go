package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/metrics"
)

const (
	EventOrderCreated       = "PAYMENT_ORDER_CREATED"
	EventPaymentCaptured    = "PAYMENT_CAPTURED"
	EventVerificationFailed = "PAYMENT_VERIFICATION_FAILED"

	currencyINR = "INR"
)

// VerificationFailedMessage is what the patient sees when a payment cannot
// be confirmed. It is not retried.
const VerificationFailedMessage = "Payment verification failed. Please contact support."

var (
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrAlreadyPaid        = errors.New("appointment already paid")
	ErrNotOwner           = errors.New("appointment belongs to another patient")
)

// UserMessage maps a payment error to the text shown to the patient.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVerificationFailed):
		return VerificationFailedMessage
	case errors.Is(err, ErrAlreadyPaid):
		return "This appointment is already paid."
	default:
		return "Payment could not be started. Please try again."
	}
}

// Appointments is the booking side of a payment.
type Appointments interface {
	ForPayment(ctx context.Context, appointmentID uuid.UUID) (*PayableAppointment, error)
	MarkPaid(ctx context.Context, appointmentID uuid.UUID) error
}

type Service struct {
	repo         Repository
	gateway      Gateway
	appointments Appointments
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

func NewService(repo Repository, gateway Gateway, appointments Appointments, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		gateway:      gateway,
		appointments: appointments,
		metrics:      m,
		logger:       logger.With().Str("component", "payments").Logger(),
	}
}

// CheckoutOrder is what the client needs to open the gateway widget.
type CheckoutOrder struct {
	Order
	KeyID string `json:"key_id"`
}

// CreateOrder opens a gateway order for the patient's unpaid appointment.
func (s *Service) CreateOrder(ctx context.Context, appointmentID, patientID uuid.UUID) (*CheckoutOrder, error) {
	appt, err := s.appointments.ForPayment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotOwner
	}
	if appt.Paid {
		return nil, ErrAlreadyPaid
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, appt.FeePaise, currencyINR, appointmentID.String())
	if err != nil {
		return nil, err
	}

	order, err := s.repo.CreateOrder(ctx, Order{
		AppointmentID:  appointmentID,
		PatientID:      patientID,
		GatewayOrderID: gwOrder.ID,
		AmountPaise:    appt.FeePaise,
		Currency:       currencyINR,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, order.AppointmentID, EventOrderCreated, map[string]any{
		"gateway_order_id": order.GatewayOrderID,
		"amount_paise":     order.AmountPaise,
	})
	return &CheckoutOrder{Order: *order, KeyID: s.gateway.KeyID()}, nil
}

// Verify confirms a checkout callback. The appointment is marked paid only
// after the signature checks out.
func (s *Service) Verify(ctx context.Context, patientID uuid.UUID, req VerifyRequest) (*Order, error) {
	order, err := s.repo.GetByGatewayOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PatientID != patientID {
		return nil, ErrNotOwner
	}

	if !s.gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		s.metrics.ObservePaymentVerification("mismatch")
		if _, err := s.repo.MarkFailed(ctx, order.ID); err != nil && !errors.Is(err, ErrOrderAlreadyClosed) {
			s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to mark order failed")
		}
		s.logEvent(ctx, order.AppointmentID, EventVerificationFailed, map[string]any{
			"gateway_order_id":   req.OrderID,
			"gateway_payment_id": req.PaymentID,
		})
		return nil, ErrVerificationFailed
	}

	paid, err := s.repo.MarkPaid(ctx, order.ID, req.PaymentID)
	if errors.Is(err, ErrOrderAlreadyClosed) {
		// A retry of a capture whose appointment update failed carries the
		// same payment id; finish the appointment side instead of rejecting.
		current, getErr := s.repo.GetByGatewayOrderID(ctx, req.OrderID)
		if getErr != nil {
			return nil, getErr
		}
		if !paidBy(current, req.PaymentID) {
			s.metrics.ObservePaymentVerification("closed")
			return nil, fmt.Errorf("%w: order is %s", ErrVerificationFailed, current.Status)
		}
		paid, err = current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	if err := s.appointments.MarkPaid(ctx, paid.AppointmentID); err != nil {
		return nil, fmt.Errorf("mark appointment paid: %w", err)
	}

	s.metrics.ObservePaymentVerification("ok")
	s.logEvent(ctx, paid.AppointmentID, EventPaymentCaptured, map[string]any{
		"gateway_order_id":   req.OrderID,
		"gateway_payment_id": req.PaymentID,
	})
	return paid, nil
}

func paidBy(o *Order, paymentID string) bool {
	return o.Status == OrderPaid && o.GatewayPaymentID != nil && *o.GatewayPaymentID == paymentID
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	id := appointmentID
	if err := s.repo.InsertEvent(ctx, db.EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}
}
