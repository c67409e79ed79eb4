package api

import (
	"net/http"

	"github.com/hackgods/telehealth-consult/internal/payments"
)

type CreateOrderRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	apptID, ok := parseUUID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	order, err := s.payments.CreateOrder(r.Context(), apptID, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// verifyPayment checks the gateway signature. The appointment is marked
// paid only when this returns 200.
func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req payments.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := s.payments.Verify(r.Context(), identity(r).UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
