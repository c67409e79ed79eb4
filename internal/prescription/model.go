// Package prescription records what a doctor prescribes after a
// consultation and renders it as a PDF for the patient.
package prescription

import (
	"time"

	"github.com/google/uuid"
)

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration,omitempty"`
}

func (m Medication) String() string {
	s := m.Name
	if m.Dosage != "" {
		s += " " + m.Dosage
	}
	if m.Frequency != "" {
		s += ", " + m.Frequency
	}
	if m.Duration != "" {
		s += " for " + m.Duration
	}
	return s
}

type Prescription struct {
	ID            uuid.UUID    `json:"id"`
	AppointmentID uuid.UUID    `json:"appointment_id"`
	DoctorID      uuid.UUID    `json:"doctor_id"`
	PatientID     uuid.UUID    `json:"patient_id"`
	Diagnosis     string       `json:"diagnosis"`
	Medications   []Medication `json:"medications"`
	Notes         *string      `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewPrescription is what a doctor submits.
type NewPrescription struct {
	AppointmentID uuid.UUID    `json:"appointment_id"`
	Diagnosis     string       `json:"diagnosis"`
	Medications   []Medication `json:"medications"`
	Notes         *string      `json:"notes,omitempty"`
}
