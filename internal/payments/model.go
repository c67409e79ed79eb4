// Package payments creates gateway orders for consultations and confirms
// them by verifying the gateway's payment signature.
package payments

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

// Order is our record of one gateway order for an appointment.
type Order struct {
	ID               uuid.UUID   `json:"id"`
	AppointmentID    uuid.UUID   `json:"appointment_id"`
	PatientID        uuid.UUID   `json:"patient_id"`
	GatewayOrderID   string      `json:"gateway_order_id"`
	GatewayPaymentID *string     `json:"gateway_payment_id,omitempty"`
	AmountPaise      int64       `json:"amount_paise"`
	Currency         string      `json:"currency"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// PayableAppointment is what payments needs to know about an appointment.
type PayableAppointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	FeePaise  int64
	Paid      bool
}

// VerifyRequest carries the gateway handler's callback fields.
type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}
