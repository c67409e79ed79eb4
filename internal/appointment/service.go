package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/config"
	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/notify"
	"github.com/hackgods/telehealth-consult/internal/payments"
	redisclient "github.com/hackgods/telehealth-consult/internal/redis"
	"github.com/hackgods/telehealth-consult/internal/videocall"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
	EventAppointmentPaid      = "APPOINTMENT_PAID"
)

var (
	ErrSlotAlreadyBooked       = errors.New("slot already has a confirmed appointment")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrAppointmentExpiredState = errors.New("appointment is already expired")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrSlotNotOpen             = errors.New("slot is not open")
	ErrInvalidType             = errors.New("appointment type must be video or in_clinic")
	ErrNotYourAppointment      = errors.New("appointment belongs to someone else")
)

// CallScheduler creates the call record for a confirmed video appointment.
type CallScheduler interface {
	Schedule(ctx context.Context, p videocall.ScheduleParams) (*videocall.VideoCall, error)
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	cfg      config.Config
	calls    CallScheduler
	notifier notify.Notifier
	logger   zerolog.Logger
}

type Option func(*Service)

func WithCallScheduler(c CallScheduler) Option {
	return func(s *Service) { s.calls = c }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "appointment").Logger()
	return s
}

// CreateAppointment tries to reserve a slot for a patient.
// It uses a distributed lock so that concurrent requests for the same slot
// cannot both create a pending appointment.
func (s *Service) CreateAppointment(ctx context.Context, slotID, patientID uuid.UUID, typ AppointmentType, reason *string) (*Appointment, error) {
	if !typ.Valid() {
		return nil, ErrInvalidType
	}

	// Validate patient exists
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	// Validate slot exists and is open
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.Status != SlotOpen {
		return nil, ErrSlotNotOpen
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, redisclient.SlotKey(slotID), func(lockCtx context.Context) error {
		// Inside the critical section re-check for confirmed appointment for this slot
		existing, err := s.repo.GetConfirmedAppointmentForSlot(lockCtx, slotID)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check confirmed appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotAlreadyBooked
		}

		expiresAt := time.Now().Add(s.cfg.AppointmentTTL)
		appt, err := s.repo.CreatePendingAppointment(lockCtx, NewAppointment{
			SlotID:    slotID,
			PatientID: patientID,
			DoctorID:  slot.DoctorID,
			Type:      typ,
			Reason:    reason,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"slot_id":    slotID.String(),
			"patient_id": patientID.String(),
			"type":       string(typ),
			"expires_at": expiresAt,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.notifyCreated(ctx, created.ID)
	return created, nil
}

// ConfirmAppointment moves a pending appointment to confirmed
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	now := time.Now()

	if appt.Status == StatusExpired {
		return nil, ErrAppointmentExpiredState
	}

	if appt.ExpiresAt != nil && appt.ExpiresAt.Before(now) && !appt.Paid {
		// Try to mark it as expired if still pending
		_, updErr := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusExpired)
		if updErr != nil && !errors.Is(updErr, ErrAppointmentNotFound) {
			s.logger.Error().Err(updErr).Str("appointment_id", appt.ID.String()).Msg("failed to mark appointment as expired during confirm")
		}
		s.logEvent(ctx, appt.ID, EventAppointmentExpired, map[string]any{
			"reason": "confirm_after_expiry",
		})
		return nil, ErrAppointmentExpiredState
	}

	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	s.scheduleCall(ctx, updated)

	return updated, nil
}

// MarkPaid records a verified payment. A pending appointment is confirmed
// by the same update.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) error {
	before, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}

	updated, err := s.repo.MarkPaid(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrInvalidStatusTransition
		}
		return fmt.Errorf("mark appointment paid: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentPaid, map[string]any{})
	if before.Status == StatusPending && updated.Status == StatusConfirmed {
		s.logEvent(ctx, id, EventAppointmentConfirmed, map[string]any{"reason": "payment"})
		s.scheduleCall(ctx, updated)
	}
	return nil
}

// ForPayment exposes the fee and paid state of an appointment to payments.
func (s *Service) ForPayment(ctx context.Context, id uuid.UUID) (*payments.PayableAppointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending && appt.Status != StatusConfirmed {
		return nil, ErrInvalidStatusTransition
	}
	doctor, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	fee := doctor.ConsultFeePaise
	if fee <= 0 {
		fee = s.cfg.ConsultFeePaise
	}
	return &payments.PayableAppointment{
		ID:        appt.ID,
		PatientID: appt.PatientID,
		FeePaise:  fee,
		Paid:      appt.Paid,
	}, nil
}

// ExpirePendingAppointments is intended to be called by the worker periodically
func (s *Service) ExpirePendingAppointments(ctx context.Context) (int, error) {
	now := time.Now()
	expiredCandidates, err := s.repo.FindExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for _, appt := range expiredCandidates {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusExpired)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
			}
			continue
		}
		expired++
		s.logEvent(ctx, appt.ID, EventAppointmentExpired, map[string]any{
			"reason": "worker",
		})
	}

	return expired, nil
}

// GetAppointment retrieves a fully hydrated appointment visible to userID.
func (s *Service) GetAppointment(ctx context.Context, id, userID uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if detail.PatientID != userID && detail.DoctorID != userID {
		return nil, ErrNotYourAppointment
	}
	return detail, nil
}

// ListAppointments returns the caller's appointments, as patient or doctor.
func (s *Service) ListAppointments(ctx context.Context, userID uuid.UUID, asDoctor bool, limit, offset int) ([]Appointment, error) {
	limit, offset = page(limit, offset)

	var (
		out []Appointment
		err error
	)
	if asDoctor {
		out, err = s.repo.ListAppointmentsByDoctor(ctx, userID, limit, offset)
	} else {
		out, err = s.repo.ListAppointmentsByPatient(ctx, userID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

// ListDoctors searches the directory, optionally by specialty.
func (s *Service) ListDoctors(ctx context.Context, specialty string, limit, offset int) ([]Doctor, error) {
	limit, offset = page(limit, offset)
	doctors, err := s.repo.ListDoctors(ctx, specialty, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// ListOpenSlots returns bookable slots of a doctor from now on.
func (s *Service) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, limit int) ([]AppointmentSlot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	limit, _ = page(limit, 0)
	slots, err := s.repo.ListOpenSlots(ctx, doctorID, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) scheduleCall(ctx context.Context, appt *Appointment) {
	if s.calls == nil || appt.Type != TypeVideo {
		return
	}
	_, err := s.calls.Schedule(ctx, videocall.ScheduleParams{
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to schedule video call")
	}
}

// AppointmentNotice builds the notification payload for an appointment.
func (s *Service) AppointmentNotice(ctx context.Context, id uuid.UUID) (*notify.AppointmentNotice, error) {
	d, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return &notify.AppointmentNotice{
		AppointmentID: d.ID.String(),
		Patient:       notify.Party{Name: d.Patient.Name, Email: deref(d.Patient.Email)},
		Doctor:        notify.Party{Name: d.Doctor.Name, Email: deref(d.Doctor.Email)},
		Type:          string(d.Type),
		StartTime:     d.Slot.StartTime,
	}, nil
}

func (s *Service) notifyCreated(ctx context.Context, id uuid.UUID) {
	if s.notifier == nil {
		return
	}
	n, err := s.AppointmentNotice(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", id.String()).Msg("skipping appointment notification")
		return
	}
	s.notifier.AppointmentCreated(*n)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := db.EventLog{
		EventType: eventType,
		SubjectID: &apptID,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
