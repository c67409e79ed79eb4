package api

import (
	"net/http"

	"github.com/hackgods/telehealth-consult/internal/notify"
)

type AppointmentNotificationRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type PrescriptionNotificationRequest struct {
	PrescriptionID string `json:"prescription_id"`
}

// The notification endpoints resolve the notice and hand it to the
// dispatcher. They answer 202 before any email is sent; delivery failures
// are only logged.

func (s *Server) notifyAppointmentCreated(w http.ResponseWriter, r *http.Request) {
	var req AppointmentNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := parseUUID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	if _, err := s.appointments.GetAppointment(r.Context(), id, identity(r).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.appointments.AppointmentNotice(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.notifier.AppointmentCreated(*n)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) notifyPrescriptionCreated(w http.ResponseWriter, r *http.Request) {
	var req PrescriptionNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := parseUUID(w, req.PrescriptionID, "prescription_id")
	if !ok {
		return
	}
	n, err := s.prescriptions.Notice(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.notifier.PrescriptionCreated(*n)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) notifyVideoCallReady(w http.ResponseWriter, r *http.Request) {
	var req AppointmentNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := parseUUID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	caller := identity(r).UserID

	call, err := s.calls.GetByAppointment(r.Context(), id, caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if call.RoomURL == "" {
		writeError(w, http.StatusConflict, "room_not_ready", "the video room has not been created yet")
		return
	}
	appt, err := s.appointments.AppointmentNotice(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.notifier.VideoCallReady(notify.VideoCallNotice{
		AppointmentID: appt.AppointmentID,
		Patient:       appt.Patient,
		Doctor:        appt.Doctor,
		RoomURL:       call.RoomURL,
		StartTime:     appt.StartTime,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
