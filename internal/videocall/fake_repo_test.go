package videocall

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-consult/internal/db"
)

func newID() uuid.UUID { return uuid.New() }

// memRepo is an in-memory Repository with the same conditional semantics
// as the SQL implementation.
type memRepo struct {
	mu     sync.Mutex
	calls  map[uuid.UUID]VideoCall
	stale  map[uuid.UUID]bool
	events []db.EventLog
	tick   time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		calls: make(map[uuid.UUID]VideoCall),
		stale: make(map[uuid.UUID]bool),
		tick:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// touch must be called with mu held.
func (r *memRepo) touch(c *VideoCall) {
	r.tick = r.tick.Add(time.Millisecond)
	c.UpdatedAt = r.tick
}

func (r *memRepo) put(c VideoCall) VideoCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(&c)
	r.calls[c.ID] = c
	return c.Clone()
}

func (r *memRepo) Create(_ context.Context, c VideoCall) (*VideoCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.calls {
		if existing.AppointmentID == c.AppointmentID {
			out := existing.Clone()
			return &out, nil
		}
	}
	c.ID = uuid.New()
	c.Status = StatusScheduled
	c.CreatedAt = r.tick
	r.touch(&c)
	r.calls[c.ID] = c
	out := c.Clone()
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*VideoCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	out := c.Clone()
	return &out, nil
}

func (r *memRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*VideoCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.AppointmentID == appointmentID {
			out := c.Clone()
			return &out, nil
		}
	}
	return nil, ErrCallNotFound
}

func (r *memRepo) update(id uuid.UUID, guard func(VideoCall) bool, apply func(*VideoCall)) (*VideoCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	if !guard(c) {
		return nil, ErrConditionFailed
	}
	apply(&c)
	r.touch(&c)
	r.calls[id] = c
	out := c.Clone()
	return &out, nil
}

func (r *memRepo) SetRoom(_ context.Context, id uuid.UUID, roomURL string) (*VideoCall, error) {
	return r.update(id, func(VideoCall) bool { return true }, func(c *VideoCall) { c.RoomURL = roomURL })
}

func (r *memRepo) MarkPatientJoined(_ context.Context, id uuid.UUID, at time.Time) (*VideoCall, error) {
	return r.update(id,
		func(c VideoCall) bool { return c.Status != StatusEnded },
		func(c *VideoCall) {
			c.PatientJoinedAt = &at
			if c.Status != StatusActive {
				c.Status = StatusWaiting
			}
		})
}

func (r *memRepo) Admit(_ context.Context, id uuid.UUID, at time.Time) (*VideoCall, error) {
	return r.update(id, IsPatientWaiting, func(c *VideoCall) {
		c.Status = StatusActive
		c.StartedAt = &at
		if c.DoctorJoinedAt == nil {
			c.DoctorJoinedAt = &at
		}
	})
}

func (r *memRepo) End(_ context.Context, id uuid.UUID, from []Status, at time.Time) (*VideoCall, error) {
	return r.update(id,
		func(c VideoCall) bool {
			for _, s := range from {
				if c.Status == s {
					return true
				}
			}
			return false
		},
		func(c *VideoCall) {
			c.Status = StatusEnded
			c.EndedAt = &at
		})
}

func (r *memRepo) FindStale(_ context.Context, _ time.Time) ([]VideoCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []VideoCall
	for id := range r.stale {
		c := r.calls[id]
		if c.Status == StatusScheduled || c.Status == StatusWaiting {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev db.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}
