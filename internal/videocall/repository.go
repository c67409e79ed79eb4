package videocall

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-consult/internal/db"
)

var (
	ErrCallNotFound      = errors.New("video call not found")
	ErrNoPatientWaiting  = errors.New("no one waiting")
	ErrCallEnded         = errors.New("video call has ended")
	ErrInvalidTransition = errors.New("invalid call status transition")
	ErrNotParticipant    = errors.New("not a participant of this call")
	ErrDoctorOnly        = errors.New("only the doctor can perform this action")
	ErrNotAdmitted       = errors.New("patient has not been admitted yet")
	ErrCallBusy          = errors.New("call is being updated, please retry")

	// ErrConditionFailed means a guarded update matched no row: the record
	// moved on since it was read.
	ErrConditionFailed = errors.New("call record changed concurrently")
)

// Repository contains all store interactions for call records. Every
// transition is a conditional update so the store stays authoritative.
type Repository interface {
	Create(ctx context.Context, c VideoCall) (*VideoCall, error)
	GetByID(ctx context.Context, id uuid.UUID) (*VideoCall, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*VideoCall, error)
	SetRoom(ctx context.Context, id uuid.UUID, roomURL string) (*VideoCall, error)

	// MarkPatientJoined stamps patient_joined_at and moves scheduled or
	// waiting calls to waiting. Active calls stay active.
	MarkPatientJoined(ctx context.Context, id uuid.UUID, at time.Time) (*VideoCall, error)
	// Admit moves waiting -> active only while the patient is present.
	Admit(ctx context.Context, id uuid.UUID, at time.Time) (*VideoCall, error)
	// End moves a call in one of from to ended.
	End(ctx context.Context, id uuid.UUID, from []Status, at time.Time) (*VideoCall, error)

	// FindStale lists unfinished calls whose appointment slot ended before cutoff.
	FindStale(ctx context.Context, cutoff time.Time) ([]VideoCall, error)

	InsertEvent(ctx context.Context, ev db.EventLog) error
}
