package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-consult/internal/realtime"
	"github.com/hackgods/telehealth-consult/internal/videocall"
)

// CallResponse pairs the record with the state the caller's screen derives
// from it.
type CallResponse struct {
	Call  *videocall.VideoCall `json:"call"`
	State videocall.State      `json:"state"`
}

// CallFrame is pushed over /calls/{id}/ws for every confirmed snapshot.
type CallFrame struct {
	Type  string              `json:"type"`
	Call  videocall.VideoCall `json:"call"`
	State videocall.State     `json:"state"`
}

func (s *Server) respondCall(w http.ResponseWriter, r *http.Request, status int, call *videocall.VideoCall) {
	writeJSON(w, status, CallResponse{
		Call:  call,
		State: videocall.Derive(*call, call.DoctorID == identity(r).UserID),
	})
}

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	call, err := s.calls.Get(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondCall(w, r, http.StatusOK, call)
}

func (s *Server) getCallForAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	call, err := s.calls.GetByAppointment(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondCall(w, r, http.StatusOK, call)
}

func (s *Server) joinCall(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.calls.JoinAsPatient)
}

func (s *Server) admitCall(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.calls.Admit)
}

func (s *Server) endCall(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.calls.End)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, callID, userID uuid.UUID) (*videocall.VideoCall, error)) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	call, err := op(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondCall(w, r, http.StatusOK, call)
}

func (s *Server) callToken(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	grant, err := s.calls.Token(r.Context(), id, identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// watchCall streams snapshots of one call to one screen. Each connection is
// its own screen, so reconnecting replaces nothing and starts with a fresh
// read.
func (s *Server) watchCall(w http.ResponseWriter, r *http.Request) {
	callID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	caller := identity(r).UserID

	call, err := s.calls.Get(r.Context(), callID, caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	isDoctor := call.DoctorID == caller
	screenID := caller.String() + ":" + uuid.NewString()

	realtime.Stream(w, r, func(ctx context.Context) (<-chan any, error) {
		watch, err := s.watcher.Open(ctx, screenID, callID)
		if err != nil {
			return nil, err
		}
		frames := make(chan any)
		go func() {
			defer close(frames)
			defer s.watcher.Close(screenID)
			for snap := range watch.C {
				frame := CallFrame{Type: "snapshot", Call: snap, State: videocall.Derive(snap, isDoctor)}
				select {
				case frames <- frame:
				case <-ctx.Done():
					return
				}
			}
		}()
		return frames, nil
	}, s.logger)
}
