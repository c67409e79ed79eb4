package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusExpired   AppointmentStatus = "expired"
)

type AppointmentType string

const (
	TypeVideo    AppointmentType = "video"
	TypeInClinic AppointmentType = "in_clinic"
)

func (t AppointmentType) Valid() bool {
	return t == TypeVideo || t == TypeInClinic
}

type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotBlocked SlotStatus = "blocked"
	SlotDeleted SlotStatus = "deleted"
)

type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Doctor struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Email           *string   `json:"email,omitempty"`
	Specialty       *string   `json:"specialty,omitempty"`
	ConsultFeePaise int64     `json:"consult_fee_paise"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type AppointmentSlot struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Status    SlotStatus `json:"status"`
	Capacity  int        `json:"capacity"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Appointment struct {
	ID        uuid.UUID         `json:"id"`
	SlotID    uuid.UUID         `json:"slot_id"`
	PatientID uuid.UUID         `json:"patient_id"`
	DoctorID  uuid.UUID         `json:"doctor_id"`
	Type      AppointmentType   `json:"type"`
	Status    AppointmentStatus `json:"status"`
	Paid      bool              `json:"paid"`
	Reason    *string           `json:"reason,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

type AppointmentDetail struct {
	Appointment
	Slot    *AppointmentSlot `json:"slot"`
	Patient *Patient         `json:"patient"`
	Doctor  *Doctor          `json:"doctor"`
}

// NewAppointment is the input for a pending reservation.
type NewAppointment struct {
	SlotID    uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Type      AppointmentType
	Reason    *string
	ExpiresAt time.Time
}
