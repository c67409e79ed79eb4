package api

import (
	"net/http"

	"github.com/hackgods/telehealth-consult/internal/prescription"
)

func (s *Server) createPrescription(w http.ResponseWriter, r *http.Request) {
	var req prescription.NewPrescription
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.prescriptions.Create(r.Context(), identity(r).UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// listPrescriptions returns the calling patient's prescriptions.
func (s *Server) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	out, err := s.prescriptions.ListByPatient(r.Context(), identity(r).UserID,
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if out == nil {
		out = []prescription.Prescription{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := s.prescriptions.Get(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) prescriptionPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.prescriptions.PDF(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="prescription-`+id.String()+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
