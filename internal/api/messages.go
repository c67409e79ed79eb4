package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-consult/internal/chat"
	"github.com/hackgods/telehealth-consult/internal/realtime"
)

type SendMessageRequest struct {
	RecipientID   string  `json:"recipient_id"`
	Body          string  `json:"body"`
	AppointmentID *string `json:"appointment_id,omitempty"`
}

type MarkReadRequest struct {
	PeerID string `json:"peer_id"`
}

type MessageFrame struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipient, ok := parseUUID(w, req.RecipientID, "recipient_id")
	if !ok {
		return
	}
	var apptID *uuid.UUID
	if req.AppointmentID != nil {
		id, ok := parseUUID(w, *req.AppointmentID, "appointment_id")
		if !ok {
			return
		}
		apptID = &id
	}

	msg, err := s.chat.Send(r.Context(), identity(r).UserID, recipient, req.Body, apptID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	peer, ok := parseUUID(w, r.URL.Query().Get("peer_id"), "peer_id")
	if !ok {
		return
	}
	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_before", "before must be RFC 3339")
			return
		}
		before = t
	}

	msgs, err := s.chat.List(r.Context(), identity(r).UserID, peer, before, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	peer, ok := parseUUID(w, req.PeerID, "peer_id")
	if !ok {
		return
	}
	n, err := s.chat.MarkRead(r.Context(), identity(r).UserID, peer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.chat.UnreadCount(r.Context(), identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) conversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.chat.Conversations(r.Context(), identity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// watchMessages pushes every message sent to or by the caller. While the
// socket is open the caller's unread summary is kept fresh from the feed.
func (s *Server) watchMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity(r).UserID

	realtime.Stream(w, r, func(ctx context.Context) (<-chan any, error) {
		sub, err := s.feed.Subscribe(ctx, realtime.Topic(chat.Table, userID.String()))
		if err != nil {
			return nil, err
		}
		go func() {
			if err := s.chat.Track(ctx, userID); err != nil {
				s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("unread tracking stopped")
			}
		}()

		frames := make(chan any)
		go func() {
			defer close(frames)
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case change, ok := <-sub.C:
					if !ok {
						return
					}
					var msg chat.Message
					if err := change.Decode(&msg); err != nil {
						s.logger.Warn().Err(err).Msg("dropping undecodable message change")
						continue
					}
					select {
					case frames <- MessageFrame{Type: string(change.Type), Message: msg}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return frames, nil
	}, s.logger)
}
