package api

import (
	"errors"
	"net/http"

	"github.com/hackgods/telehealth-consult/internal/appointment"
	"github.com/hackgods/telehealth-consult/internal/chat"
	"github.com/hackgods/telehealth-consult/internal/payments"
	"github.com/hackgods/telehealth-consult/internal/prescription"
	"github.com/hackgods/telehealth-consult/internal/profile"
	redisclient "github.com/hackgods/telehealth-consult/internal/redis"
	"github.com/hackgods/telehealth-consult/internal/rooms"
	"github.com/hackgods/telehealth-consult/internal/videocall"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	// booking
	{appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
	{appointment.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
	{appointment.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{appointment.ErrNotYourAppointment, http.StatusForbidden, "not_your_appointment"},
	{appointment.ErrSlotNotOpen, http.StatusConflict, "slot_not_open"},
	{appointment.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
	{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{redisclient.ErrLockNotAcquired, http.StatusConflict, "slot_being_booked"},
	{appointment.ErrAppointmentExpiredState, http.StatusConflict, "appointment_expired"},
	{appointment.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
	{appointment.ErrInvalidType, http.StatusBadRequest, "invalid_type"},

	// calls
	{videocall.ErrCallNotFound, http.StatusNotFound, "call_not_found"},
	{videocall.ErrNotParticipant, http.StatusForbidden, "not_participant"},
	{videocall.ErrDoctorOnly, http.StatusForbidden, "doctor_only"},
	{videocall.ErrPatientOnly, http.StatusForbidden, "patient_only"},
	{videocall.ErrNoPatientWaiting, http.StatusConflict, "no_one_waiting"},
	{videocall.ErrCallEnded, http.StatusConflict, "call_ended"},
	{videocall.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{videocall.ErrNotAdmitted, http.StatusForbidden, "not_admitted"},
	{videocall.ErrCallBusy, http.StatusConflict, "call_busy"},

	// video provider
	{rooms.ErrNotConfigured, http.StatusServiceUnavailable, "video_not_configured"},
	{rooms.ErrRoomNotFound, http.StatusBadGateway, "room_not_found"},

	// payments
	{payments.ErrGatewayNotConfigured, http.StatusServiceUnavailable, "payments_not_configured"},
	{payments.ErrVerificationFailed, http.StatusPaymentRequired, "payment_verification_failed"},
	{payments.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
	{payments.ErrNotOwner, http.StatusForbidden, "not_your_appointment"},
	{payments.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{payments.ErrOrderAlreadyClosed, http.StatusConflict, "order_closed"},

	// chat
	{chat.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
	{chat.ErrMessageTooLong, http.StatusBadRequest, "message_too_long"},
	{chat.ErrSelfMessage, http.StatusBadRequest, "self_message"},

	// prescriptions
	{prescription.ErrPrescriptionNotFound, http.StatusNotFound, "prescription_not_found"},
	{prescription.ErrNotPrescriber, http.StatusForbidden, "not_prescriber"},
	{prescription.ErrNotVisible, http.StatusForbidden, "not_visible"},
	{prescription.ErrNoMedications, http.StatusBadRequest, "no_medications"},
	{prescription.ErrMedicationName, http.StatusBadRequest, "medication_name_required"},
	{prescription.ErrDiagnosisRequired, http.StatusBadRequest, "diagnosis_required"},
	{prescription.ErrAppointmentNotActive, http.StatusConflict, "appointment_not_confirmed"},

	// profiles
	{profile.ErrInvalidRole, http.StatusBadRequest, "invalid_role"},
	{profile.ErrNameRequired, http.StatusBadRequest, "name_required"},
}

// fail maps a service error to a response. Unknown errors are logged and
// answered with a 500 that does not echo their text.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			details := err.Error()
			if errors.Is(err, payments.ErrVerificationFailed) {
				details = payments.UserMessage(err)
			}
			writeError(w, m.status, m.code, details)
			return
		}
	}
	s.logger.Error().Err(err).
		Str("path", r.URL.Path).
		Str("request_id", GetRequestID(r.Context())).
		Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
}
