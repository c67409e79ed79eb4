package videocall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/metrics"
	"github.com/hackgods/telehealth-consult/internal/realtime"
	redisclient "github.com/hackgods/telehealth-consult/internal/redis"
	"github.com/hackgods/telehealth-consult/internal/rooms"
)

const (
	EventCallScheduled = "CALL_SCHEDULED"
	EventPatientJoined = "CALL_PATIENT_JOINED"
	EventCallAdmitted  = "CALL_ADMITTED"
	EventCallEnded     = "CALL_ENDED"
)

var ErrPatientOnly = errors.New("only the patient can join the waiting room")

// RoomProvisioner is the part of the video provider the service needs.
// *rooms.Client satisfies it.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, name string, expiresAt *int64) (*rooms.Room, error)
	GetRoom(ctx context.Context, name string) (*rooms.Room, error)
	DeleteRoom(ctx context.Context, name string) error
	GetToken(ctx context.Context, roomName, userID string, isOwner bool) (string, error)
}

type Deps struct {
	Repo      Repository
	Locker    redisclient.Locker
	Publisher realtime.Publisher
	Rooms     RoomProvisioner
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	RoomTTL   time.Duration
	Now       func() time.Time
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	publisher realtime.Publisher
	rooms     RoomProvisioner
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	roomTTL   time.Duration
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:      d.Repo,
		locker:    d.Locker,
		publisher: d.Publisher,
		rooms:     d.Rooms,
		metrics:   d.Metrics,
		logger:    d.Logger.With().Str("component", "videocall").Logger(),
		roomTTL:   d.RoomTTL,
		now:       d.Now,
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.roomTTL <= 0 {
		s.roomTTL = 2 * time.Hour
	}
	return s
}

// ScheduleParams identifies the appointment a call belongs to.
type ScheduleParams struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
}

// RoomName is the provider room name used for an appointment.
func RoomName(appointmentID uuid.UUID) string {
	return "consult-" + appointmentID.String()
}

// Schedule creates the call record for a confirmed video appointment. It is
// idempotent per appointment. The provider room is created lazily on the
// first token request.
func (s *Service) Schedule(ctx context.Context, p ScheduleParams) (*VideoCall, error) {
	call, err := s.repo.Create(ctx, VideoCall{
		AppointmentID: p.AppointmentID,
		DoctorID:      p.DoctorID,
		PatientID:     p.PatientID,
		RoomName:      RoomName(p.AppointmentID),
		Status:        StatusScheduled,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule call: %w", err)
	}

	s.publish(ctx, realtime.Insert, call)
	s.logEvent(ctx, call.ID, EventCallScheduled, map[string]any{
		"appointment_id": p.AppointmentID.String(),
	})
	return call, nil
}

// Get returns the current record to one of its participants.
func (s *Service) Get(ctx context.Context, callID, userID uuid.UUID) (*VideoCall, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, ok := call.RoleOf(userID); !ok {
		return nil, ErrNotParticipant
	}
	return call, nil
}

// GetByAppointment returns the call scheduled for an appointment.
func (s *Service) GetByAppointment(ctx context.Context, appointmentID, userID uuid.UUID) (*VideoCall, error) {
	call, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if _, ok := call.RoleOf(userID); !ok {
		return nil, ErrNotParticipant
	}
	return call, nil
}

// Snapshot reads the record without a participant check. Used by the
// observer, which authorizes at open time.
func (s *Service) Snapshot(ctx context.Context, callID uuid.UUID) (*VideoCall, error) {
	return s.repo.GetByID(ctx, callID)
}

// JoinAsPatient stamps patient presence. Scheduled and waiting calls become
// waiting; an active call stays active so a reconnecting patient rejoins.
func (s *Service) JoinAsPatient(ctx context.Context, callID, userID uuid.UUID) (*VideoCall, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	role, ok := call.RoleOf(userID)
	if !ok {
		return nil, ErrNotParticipant
	}
	if role != RolePatient {
		return nil, ErrPatientOnly
	}
	if err := checkJoin(*call); err != nil {
		s.metrics.ObserveTransition("join", "rejected")
		return nil, err
	}

	var updated *VideoCall
	err = s.locker.WithLock(ctx, redisclient.CallKey(callID), func(lockCtx context.Context) error {
		joined, err := s.repo.MarkPatientJoined(lockCtx, callID, s.now().UTC())
		if errors.Is(err, ErrConditionFailed) {
			return ErrCallEnded
		}
		if err != nil {
			return err
		}
		updated = joined
		return nil
	})
	if err != nil {
		return nil, s.transitionFailed("join", callID, err)
	}

	s.metrics.ObserveTransition("join", "ok")
	s.publish(ctx, realtime.Update, updated)
	s.logEvent(ctx, callID, EventPatientJoined, map[string]any{
		"status": string(updated.Status),
	})
	return updated, nil
}

// Admit moves a waiting patient into the active call. Only the doctor may
// admit, and only while the stored record shows the patient waiting. The
// update is conditional, so of two racing admits exactly one succeeds and
// the other sees ErrNoPatientWaiting.
func (s *Service) Admit(ctx context.Context, callID, userID uuid.UUID) (*VideoCall, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	role, ok := call.RoleOf(userID)
	if !ok {
		return nil, ErrNotParticipant
	}
	if role != RoleDoctor {
		return nil, ErrDoctorOnly
	}
	if err := checkAdmit(*call); err != nil {
		s.metrics.ObserveTransition("admit", "rejected")
		return nil, err
	}

	var updated *VideoCall
	err = s.locker.WithLock(ctx, redisclient.CallKey(callID), func(lockCtx context.Context) error {
		admitted, err := s.repo.Admit(lockCtx, callID, s.now().UTC())
		if errors.Is(err, ErrConditionFailed) {
			return s.rejectionReason(lockCtx, callID, ErrNoPatientWaiting)
		}
		if err != nil {
			return err
		}
		updated = admitted
		return nil
	})
	if err != nil {
		return nil, s.transitionFailed("admit", callID, err)
	}

	s.metrics.ObserveTransition("admit", "ok")
	s.publish(ctx, realtime.Update, updated)
	s.logEvent(ctx, callID, EventCallAdmitted, map[string]any{
		"doctor_id": userID.String(),
	})
	return updated, nil
}

// End closes an active call. Either participant may end it.
func (s *Service) End(ctx context.Context, callID, userID uuid.UUID) (*VideoCall, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, ok := call.RoleOf(userID); !ok {
		return nil, ErrNotParticipant
	}
	if err := checkEnd(*call); err != nil {
		s.metrics.ObserveTransition("end", "rejected")
		return nil, err
	}

	var updated *VideoCall
	err = s.locker.WithLock(ctx, redisclient.CallKey(callID), func(lockCtx context.Context) error {
		ended, err := s.repo.End(lockCtx, callID, []Status{StatusActive}, s.now().UTC())
		if errors.Is(err, ErrConditionFailed) {
			return s.rejectionReason(lockCtx, callID, ErrInvalidTransition)
		}
		if err != nil {
			return err
		}
		updated = ended
		return nil
	})
	if err != nil {
		return nil, s.transitionFailed("end", callID, err)
	}

	s.metrics.ObserveTransition("end", "ok")
	s.publish(ctx, realtime.Update, updated)
	s.logEvent(ctx, callID, EventCallEnded, map[string]any{
		"ended_by": userID.String(),
	})
	s.releaseRoom(ctx, updated)
	return updated, nil
}

// TokenGrant is what a participant needs to enter the provider room.
type TokenGrant struct {
	RoomName string `json:"room_name"`
	RoomURL  string `json:"room_url"`
	Token    string `json:"token"`
	IsOwner  bool   `json:"is_owner"`
}

// Token mints a room token. The doctor gets an owner token any time before
// the call ends; the patient only once admitted.
func (s *Service) Token(ctx context.Context, callID, userID uuid.UUID) (*TokenGrant, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	role, ok := call.RoleOf(userID)
	if !ok {
		return nil, ErrNotParticipant
	}
	if call.Status == StatusEnded {
		return nil, ErrCallEnded
	}
	if role == RolePatient && call.Status != StatusActive {
		return nil, ErrNotAdmitted
	}
	if s.rooms == nil {
		return nil, rooms.ErrNotConfigured
	}

	call, err = s.ensureRoom(ctx, call)
	if err != nil {
		return nil, err
	}

	isOwner := role == RoleDoctor
	token, err := s.rooms.GetToken(ctx, call.RoomName, userID.String(), isOwner)
	if err != nil {
		return nil, fmt.Errorf("mint room token: %w", err)
	}

	return &TokenGrant{
		RoomName: call.RoomName,
		RoomURL:  call.RoomURL,
		Token:    token,
		IsOwner:  isOwner,
	}, nil
}

func (s *Service) ensureRoom(ctx context.Context, call *VideoCall) (*VideoCall, error) {
	if call.RoomURL != "" {
		return call, nil
	}

	var out *VideoCall
	err := s.locker.WithLock(ctx, redisclient.CallKey(call.ID), func(lockCtx context.Context) error {
		fresh, err := s.repo.GetByID(lockCtx, call.ID)
		if err != nil {
			return err
		}
		if fresh.RoomURL != "" {
			out = fresh
			return nil
		}

		exp := s.now().Add(s.roomTTL).Unix()
		room, err := s.rooms.CreateRoom(lockCtx, fresh.RoomName, &exp)
		if err != nil {
			room, err = s.adoptRoom(lockCtx, fresh.RoomName, err)
			if err != nil {
				return err
			}
		}
		out, err = s.repo.SetRoom(lockCtx, fresh.ID, room.URL)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, ErrCallBusy
	}
	if err != nil {
		return nil, fmt.Errorf("provision room: %w", err)
	}
	return out, nil
}

// adoptRoom recovers a room the provider created on an earlier attempt whose
// response never arrived. Room names are deterministic, so a create retry
// would be rejected as a duplicate forever.
func (s *Service) adoptRoom(ctx context.Context, name string, createErr error) (*rooms.Room, error) {
	if errors.Is(createErr, rooms.ErrNotConfigured) {
		return nil, createErr
	}
	room, err := s.rooms.GetRoom(ctx, name)
	if err != nil || room.URL == "" {
		return nil, createErr
	}
	s.logger.Warn().Err(createErr).Str("room", name).Msg("room create failed, using existing provider room")
	return room, nil
}

// ReapStale ends scheduled or waiting calls whose slot finished before
// cutoff and releases their rooms. It returns how many calls were ended.
func (s *Service) ReapStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.repo.FindStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale calls: %w", err)
	}

	reaped := 0
	for _, c := range stale {
		if checkReap(c) != nil {
			continue
		}
		ended, err := s.repo.End(ctx, c.ID, []Status{StatusScheduled, StatusWaiting}, s.now().UTC())
		if err != nil {
			if !errors.Is(err, ErrConditionFailed) {
				s.logger.Error().Err(err).Str("call_id", c.ID.String()).Msg("failed to reap call")
			}
			continue
		}
		reaped++
		s.metrics.ObserveTransition("reap", "ok")
		s.publish(ctx, realtime.Update, ended)
		s.logEvent(ctx, c.ID, EventCallEnded, map[string]any{
			"reason":      "worker",
			"from_status": string(c.Status),
		})
		s.releaseRoom(ctx, ended)
	}
	return reaped, nil
}

// rejectionReason re-reads the record after a failed conditional update so
// the caller learns why. An ended call wins over the operation's own reason.
func (s *Service) rejectionReason(ctx context.Context, callID uuid.UUID, fallback error) error {
	current, err := s.repo.GetByID(ctx, callID)
	if err == nil && current.Status == StatusEnded {
		return ErrCallEnded
	}
	return fallback
}

func (s *Service) transitionFailed(op string, callID uuid.UUID, err error) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.metrics.ObserveTransition(op, "busy")
		return ErrCallBusy
	}
	switch {
	case errors.Is(err, ErrNoPatientWaiting), errors.Is(err, ErrCallEnded), errors.Is(err, ErrInvalidTransition):
		s.metrics.ObserveTransition(op, "rejected")
		return err
	}
	s.metrics.ObserveTransition(op, "error")
	s.logger.Error().Err(err).Str("call_id", callID.String()).Str("op", op).Msg("call transition failed")
	return fmt.Errorf("%s call: %w", op, err)
}

func (s *Service) releaseRoom(ctx context.Context, call *VideoCall) {
	if s.rooms == nil || call.RoomURL == "" {
		return
	}
	if err := s.rooms.DeleteRoom(ctx, call.RoomName); err != nil && !errors.Is(err, rooms.ErrNotConfigured) {
		s.logger.Warn().Err(err).Str("room", call.RoomName).Msg("failed to delete room")
	}
}

// publish pushes the confirmed row to the change feed. Delivery is best
// effort; subscribers re-fetch on open.
func (s *Service) publish(ctx context.Context, typ realtime.ChangeType, call *VideoCall) {
	if s.publisher == nil {
		return
	}
	change, err := realtime.NewChange(Table, typ, call.ID.String(), call)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build call change")
		return
	}
	if err := s.publisher.Publish(ctx, change); err != nil {
		s.logger.Warn().Err(err).Str("call_id", call.ID.String()).Msg("failed to publish call change")
	}
}

func (s *Service) logEvent(ctx context.Context, callID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := callID
	ev := db.EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("call_id", callID.String()).Msg("failed to insert event log")
	}
}
