package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/appointment"
	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/notify"
)

const EventPrescriptionCreated = "PRESCRIPTION_CREATED"

var (
	ErrNotPrescriber        = errors.New("only the appointment's doctor can prescribe")
	ErrNoMedications        = errors.New("at least one medication is required")
	ErrMedicationName       = errors.New("medication name is required")
	ErrDiagnosisRequired    = errors.New("diagnosis is required")
	ErrAppointmentNotActive = errors.New("appointment is not confirmed")
	ErrNotVisible           = errors.New("prescription belongs to someone else")
)

// Appointments resolves an appointment visible to a user.
type Appointments interface {
	GetAppointment(ctx context.Context, id, userID uuid.UUID) (*appointment.AppointmentDetail, error)
}

type Service struct {
	repo     Repository
	appts    Appointments
	notifier notify.Notifier
	logger   zerolog.Logger
}

func NewService(repo Repository, appts Appointments, notifier notify.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		appts:    appts,
		notifier: notifier,
		logger:   logger.With().Str("component", "prescription").Logger(),
	}
}

// Create stores a prescription written by doctorID for one of their
// confirmed appointments and notifies the patient.
func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, in NewPrescription) (*Prescription, error) {
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	if in.Diagnosis == "" {
		return nil, ErrDiagnosisRequired
	}
	if len(in.Medications) == 0 {
		return nil, ErrNoMedications
	}
	for i := range in.Medications {
		in.Medications[i].Name = strings.TrimSpace(in.Medications[i].Name)
		if in.Medications[i].Name == "" {
			return nil, ErrMedicationName
		}
	}

	detail, err := s.appts.GetAppointment(ctx, in.AppointmentID, doctorID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotYourAppointment) {
			return nil, ErrNotPrescriber
		}
		return nil, err
	}
	if detail.DoctorID != doctorID {
		return nil, ErrNotPrescriber
	}
	if detail.Status != appointment.StatusConfirmed {
		return nil, ErrAppointmentNotActive
	}

	p, err := s.repo.Create(ctx, Prescription{
		AppointmentID: detail.ID,
		DoctorID:      detail.DoctorID,
		PatientID:     detail.PatientID,
		Diagnosis:     in.Diagnosis,
		Medications:   in.Medications,
		Notes:         in.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	s.logEvent(ctx, p)
	s.notify(p, detail)
	return p, nil
}

// Get returns a prescription to its doctor or patient.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DoctorID != userID && p.PatientID != userID {
		return nil, ErrNotVisible
	}
	return p, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Prescription, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return out, nil
}

// PDF renders a prescription visible to userID.
func (s *Service) PDF(ctx context.Context, id, userID uuid.UUID) ([]byte, error) {
	p, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	detail, err := s.appts.GetAppointment(ctx, p.AppointmentID, userID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return Render(*p, detail)
}

// Notice builds the notification for a prescription visible to userID.
func (s *Service) Notice(ctx context.Context, id, userID uuid.UUID) (*notify.PrescriptionNotice, error) {
	p, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	detail, err := s.appts.GetAppointment(ctx, p.AppointmentID, userID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	n := buildNotice(p, detail)
	return &n, nil
}

func (s *Service) notify(p *Prescription, detail *appointment.AppointmentDetail) {
	if s.notifier == nil {
		return
	}
	s.notifier.PrescriptionCreated(buildNotice(p, detail))
}

func buildNotice(p *Prescription, detail *appointment.AppointmentDetail) notify.PrescriptionNotice {
	meds := make([]string, 0, len(p.Medications))
	for _, m := range p.Medications {
		meds = append(meds, m.String())
	}
	n := notify.PrescriptionNotice{
		PrescriptionID: p.ID.String(),
		Medications:    meds,
	}
	if detail.Patient != nil {
		n.Patient = notify.Party{Name: detail.Patient.Name, Email: deref(detail.Patient.Email)}
	}
	if detail.Doctor != nil {
		n.Doctor = notify.Party{Name: detail.Doctor.Name, Email: deref(detail.Doctor.Email)}
	}
	return n
}

func (s *Service) logEvent(ctx context.Context, p *Prescription) {
	data, err := json.Marshal(map[string]any{
		"appointment_id": p.AppointmentID.String(),
		"medications":    len(p.Medications),
	})
	if err != nil {
		data = nil
	}
	id := p.ID
	if err := s.repo.InsertEvent(ctx, db.EventLog{
		EventType: EventPrescriptionCreated,
		SubjectID: &id,
		Payload:   data,
	}); err != nil {
		s.logger.Error().Err(err).Str("prescription_id", p.ID.String()).Msg("failed to insert event log")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
