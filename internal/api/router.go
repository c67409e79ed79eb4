package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/appointment"
	"github.com/hackgods/telehealth-consult/internal/chat"
	"github.com/hackgods/telehealth-consult/internal/notify"
	"github.com/hackgods/telehealth-consult/internal/payments"
	"github.com/hackgods/telehealth-consult/internal/prescription"
	"github.com/hackgods/telehealth-consult/internal/profile"
	"github.com/hackgods/telehealth-consult/internal/realtime"
	"github.com/hackgods/telehealth-consult/internal/videocall"
)

type AppointmentService interface {
	ListDoctors(ctx context.Context, specialty string, limit, offset int) ([]appointment.Doctor, error)
	ListOpenSlots(ctx context.Context, doctorID uuid.UUID, limit int) ([]appointment.AppointmentSlot, error)
	CreateAppointment(ctx context.Context, slotID, patientID uuid.UUID, typ appointment.AppointmentType, reason *string) (*appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id, userID uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, userID uuid.UUID, asDoctor bool, limit, offset int) ([]appointment.Appointment, error)
	AppointmentNotice(ctx context.Context, id uuid.UUID) (*notify.AppointmentNotice, error)
}

type CallService interface {
	Get(ctx context.Context, callID, userID uuid.UUID) (*videocall.VideoCall, error)
	GetByAppointment(ctx context.Context, appointmentID, userID uuid.UUID) (*videocall.VideoCall, error)
	JoinAsPatient(ctx context.Context, callID, userID uuid.UUID) (*videocall.VideoCall, error)
	Admit(ctx context.Context, callID, userID uuid.UUID) (*videocall.VideoCall, error)
	End(ctx context.Context, callID, userID uuid.UUID) (*videocall.VideoCall, error)
	Token(ctx context.Context, callID, userID uuid.UUID) (*videocall.TokenGrant, error)
}

// CallWatcher opens per-screen snapshot streams of a call.
type CallWatcher interface {
	Open(ctx context.Context, screenID string, callID uuid.UUID) (*videocall.Watch, error)
	Close(screenID string)
}

type PaymentService interface {
	CreateOrder(ctx context.Context, appointmentID, patientID uuid.UUID) (*payments.CheckoutOrder, error)
	Verify(ctx context.Context, patientID uuid.UUID, req payments.VerifyRequest) (*payments.Order, error)
}

type ChatService interface {
	Send(ctx context.Context, senderID, recipientID uuid.UUID, body string, appointmentID *uuid.UUID) (*chat.Message, error)
	List(ctx context.Context, userID, peerID uuid.UUID, before time.Time, limit int) ([]chat.Message, error)
	MarkRead(ctx context.Context, userID, peerID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	Conversations(ctx context.Context, userID uuid.UUID) ([]chat.Conversation, error)
	Track(ctx context.Context, userID uuid.UUID) error
}

type PrescriptionService interface {
	Create(ctx context.Context, doctorID uuid.UUID, in prescription.NewPrescription) (*prescription.Prescription, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*prescription.Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]prescription.Prescription, error)
	PDF(ctx context.Context, id, userID uuid.UUID) ([]byte, error)
	Notice(ctx context.Context, id, userID uuid.UUID) (*notify.PrescriptionNotice, error)
}

type ProfileService interface {
	EnsureProfile(ctx context.Context, in profile.SignUp) (profile.Result, error)
}

type RouterConfig struct {
	Appointments  AppointmentService
	Calls         CallService
	CallWatcher   CallWatcher
	Payments      PaymentService
	Chat          ChatService
	Prescriptions PrescriptionService
	Profiles      ProfileService
	Notifier      notify.Notifier
	Feed          realtime.Subscriber

	JWTSecret []byte
	Gatherer  prometheus.Gatherer
	Postgres  Pinger
	Redis     Pinger
	Logger    zerolog.Logger
	Env       string
	Version   string
}

// Server holds the handlers' collaborators.
type Server struct {
	appointments  AppointmentService
	calls         CallService
	watcher       CallWatcher
	payments      PaymentService
	chat          ChatService
	prescriptions PrescriptionService
	profiles      ProfileService
	notifier      notify.Notifier
	feed          realtime.Subscriber
	logger        zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	s := &Server{
		appointments:  cfg.Appointments,
		calls:         cfg.Calls,
		watcher:       cfg.CallWatcher,
		payments:      cfg.Payments,
		chat:          cfg.Chat,
		prescriptions: cfg.Prescriptions,
		profiles:      cfg.Profiles,
		notifier:      cfg.Notifier,
		feed:          cfg.Feed,
		logger:        cfg.Logger,
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Get("/doctors", s.listDoctors)
		r.Get("/doctors/{id}/slots", s.listSlots)

		r.Get("/appointments", s.listAppointments)
		r.With(RequireRole(RolePatient)).Post("/appointments", s.createAppointment)
		r.Get("/appointments/{id}", s.getAppointment)
		r.With(RequireRole(RoleDoctor)).Post("/appointments/{id}/confirm", s.confirmAppointment)
		r.Get("/appointments/{id}/call", s.getCallForAppointment)

		r.Route("/calls/{id}", func(r chi.Router) {
			r.Get("/", s.getCall)
			r.Get("/ws", s.watchCall)
			r.With(RequireRole(RolePatient)).Post("/join", s.joinCall)
			r.With(RequireRole(RoleDoctor)).Post("/admit", s.admitCall)
			r.Post("/end", s.endCall)
			r.Post("/token", s.callToken)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Use(RequireRole(RolePatient))
			r.Post("/orders", s.createOrder)
			r.Post("/verify", s.verifyPayment)
		})

		r.Post("/messages", s.sendMessage)
		r.Get("/messages", s.listMessages)
		r.Post("/messages/read", s.markRead)
		r.Get("/messages/unread", s.unreadCount)
		r.Get("/messages/ws", s.watchMessages)
		r.Get("/conversations", s.conversations)

		r.With(RequireRole(RoleDoctor)).Post("/prescriptions", s.createPrescription)
		r.Get("/prescriptions", s.listPrescriptions)
		r.Get("/prescriptions/{id}", s.getPrescription)
		r.Get("/prescriptions/{id}/pdf", s.prescriptionPDF)

		r.Post("/profiles/signup", s.signUp)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/appointment-created", s.notifyAppointmentCreated)
			r.Post("/prescription-created", s.notifyPrescriptionCreated)
			r.Post("/video-call-ready", s.notifyVideoCallReady)
		})
	})

	return r
}

func identity(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}
