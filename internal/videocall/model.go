package videocall

import (
	"time"

	"github.com/google/uuid"
)

// Table is the change-feed table name for call records.
const Table = "video_calls"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

// VideoCall is the persisted state of one video consultation.
type VideoCall struct {
	ID              uuid.UUID  `json:"id"`
	AppointmentID   uuid.UUID  `json:"appointment_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	RoomName        string     `json:"room_name"`
	RoomURL         string     `json:"room_url,omitempty"`
	Status          Status     `json:"status"`
	PatientJoinedAt *time.Time `json:"patient_joined_at"`
	DoctorJoinedAt  *time.Time `json:"doctor_joined_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Role is the caller's side of the call.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// RoleOf returns which participant userID is, or false for outsiders.
func (c VideoCall) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case c.DoctorID:
		return RoleDoctor, true
	case c.PatientID:
		return RolePatient, true
	default:
		return "", false
	}
}

// Clone returns a copy that shares no pointers with c.
func (c VideoCall) Clone() VideoCall {
	out := c
	out.PatientJoinedAt = cloneTime(c.PatientJoinedAt)
	out.DoctorJoinedAt = cloneTime(c.DoctorJoinedAt)
	out.StartedAt = cloneTime(c.StartedAt)
	out.EndedAt = cloneTime(c.EndedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
