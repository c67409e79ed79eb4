package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/metrics"
)

const (
	KindAppointmentCreated  = "appointment_created"
	KindPrescriptionCreated = "prescription_created"
	KindVideoCallReady      = "video_call_ready"
)

// Party is one addressee of a notification.
type Party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type AppointmentNotice struct {
	AppointmentID string    `json:"appointment_id"`
	Patient       Party     `json:"patient"`
	Doctor        Party     `json:"doctor"`
	Type          string    `json:"type"`
	StartTime     time.Time `json:"start_time"`
}

type PrescriptionNotice struct {
	PrescriptionID string   `json:"prescription_id"`
	Patient        Party    `json:"patient"`
	Doctor         Party    `json:"doctor"`
	Medications    []string `json:"medications"`
}

type VideoCallNotice struct {
	AppointmentID string    `json:"appointment_id"`
	Patient       Party     `json:"patient"`
	Doctor        Party     `json:"doctor"`
	RoomURL       string    `json:"room_url"`
	StartTime     time.Time `json:"start_time"`
}

// Service turns domain notices into emails.
type Service struct {
	email   EmailSender
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewService(email EmailSender, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{email: email, metrics: m, logger: logger}
}

const timeLayout = "Monday, January 2 at 3:04 PM MST"

// AppointmentCreated emails both participants.
func (s *Service) AppointmentCreated(ctx context.Context, n AppointmentNotice) error {
	kind := "video consultation"
	if n.Type == "in_clinic" {
		kind = "in-clinic visit"
	}
	when := n.StartTime.Format(timeLayout)

	err := errors.Join(
		s.send(ctx, KindAppointmentCreated, n.Patient, EmailMessage{
			Subject: "Your appointment is booked",
			Body: fmt.Sprintf("Hi %s,\n\nYour %s with Dr. %s is booked for %s.\n",
				displayName(n.Patient), kind, n.Doctor.Name, when),
		}),
		s.send(ctx, KindAppointmentCreated, n.Doctor, EmailMessage{
			Subject: "New appointment booked",
			Body: fmt.Sprintf("Hi Dr. %s,\n\n%s booked a %s for %s.\n",
				n.Doctor.Name, displayName(n.Patient), kind, when),
		}),
	)
	return err
}

// PrescriptionCreated emails the patient.
func (s *Service) PrescriptionCreated(ctx context.Context, n PrescriptionNotice) error {
	meds := "see your dashboard for details"
	if len(n.Medications) > 0 {
		meds = strings.Join(n.Medications, ", ")
	}
	return s.send(ctx, KindPrescriptionCreated, n.Patient, EmailMessage{
		Subject: "New prescription from Dr. " + n.Doctor.Name,
		Body: fmt.Sprintf("Hi %s,\n\nDr. %s issued a new prescription: %s.\n",
			displayName(n.Patient), n.Doctor.Name, meds),
	})
}

// VideoCallReady tells the patient the consultation room is open.
func (s *Service) VideoCallReady(ctx context.Context, n VideoCallNotice) error {
	body := fmt.Sprintf("Hi %s,\n\nDr. %s is ready for your video consultation.", displayName(n.Patient), n.Doctor.Name)
	if n.RoomURL != "" {
		body += "\nJoin the waiting room from your appointment page."
	}
	return s.send(ctx, KindVideoCallReady, n.Patient, EmailMessage{
		Subject: "Your video consultation is ready",
		Body:    body + "\n",
	})
}

func (s *Service) send(ctx context.Context, kind string, to Party, msg EmailMessage) error {
	msg.To = to.Email
	msg.ToName = to.Name

	if err := s.email.Send(ctx, msg); err != nil {
		s.metrics.ObserveNotification(kind, "error")
		return fmt.Errorf("%s to %s: %w", kind, to.Email, err)
	}
	s.metrics.ObserveNotification(kind, "sent")
	return nil
}

func displayName(p Party) string {
	if p.Name != "" {
		return p.Name
	}
	return "there"
}
