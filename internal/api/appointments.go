package api

import (
	"net/http"

	"github.com/hackgods/telehealth-consult/internal/appointment"
)

type CreateAppointmentRequest struct {
	SlotID string  `json:"slot_id"`
	Type   string  `json:"type"`
	Reason *string `json:"reason,omitempty"`
}

func (s *Server) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := s.appointments.ListDoctors(r.Context(), r.URL.Query().Get("specialty"),
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if doctors == nil {
		doctors = []appointment.Doctor{}
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (s *Server) listSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	slots, err := s.appointments.ListOpenSlots(r.Context(), doctorID, queryInt(r, "limit", 20))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if slots == nil {
		slots = []appointment.AppointmentSlot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

func (s *Server) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slotID, ok := parseUUID(w, req.SlotID, "slot_id")
	if !ok {
		return
	}
	typ := appointment.AppointmentType(req.Type)
	if typ == "" {
		typ = appointment.TypeVideo
	}

	appt, err := s.appointments.CreateAppointment(r.Context(), slotID, identity(r).UserID, typ, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (s *Server) listAppointments(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	appts, err := s.appointments.ListAppointments(r.Context(), id.UserID, id.IsDoctor(),
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if appts == nil {
		appts = []appointment.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (s *Server) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	detail, err := s.appointments.GetAppointment(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// confirmAppointment lets the appointment's doctor confirm it.
func (s *Server) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	caller := identity(r).UserID

	detail, err := s.appointments.GetAppointment(r.Context(), id, caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if detail.DoctorID != caller {
		s.fail(w, r, appointment.ErrNotYourAppointment)
		return
	}

	appt, err := s.appointments.ConfirmAppointment(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}
