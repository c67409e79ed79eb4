// Package chat stores patient/doctor messages and keeps per-user unread and
// conversation summaries fresh through the change feed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/realtime"
)

// Table is the change-feed table for messages. The feed key is the user id
// of either participant.
const Table = "messages"

const maxBodyLen = 4000

var (
	ErrEmptyMessage   = errors.New("message body is empty")
	ErrMessageTooLong = errors.New("message body is too long")
	ErrSelfMessage    = errors.New("cannot message yourself")
)

type Message struct {
	ID            uuid.UUID  `json:"id"`
	SenderID      uuid.UUID  `json:"sender_id"`
	RecipientID   uuid.UUID  `json:"recipient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Body          string     `json:"body"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Conversation struct {
	PeerID      uuid.UUID `json:"peer_id"`
	LastMessage string    `json:"last_message"`
	LastAt      time.Time `json:"last_at"`
	Unread      int       `json:"unread"`
}

type Repository interface {
	Insert(ctx context.Context, m Message) (*Message, error)
	ListBetween(ctx context.Context, userID, peerID uuid.UUID, before time.Time, limit int) ([]Message, error)
	MarkRead(ctx context.Context, recipientID, senderID uuid.UUID, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	Conversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error)
}

type summary struct {
	unread        int
	conversations []Conversation
	loadedAt      time.Time
}

// Service sends and lists messages. Unread counts and conversation lists are
// served from a per-user cache that a single Reconciler refreshes.
type Service struct {
	repo   Repository
	feed   realtime.Feed
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	reconciler *realtime.Reconciler

	mu    sync.RWMutex
	cache map[uuid.UUID]summary
}

func NewService(repo Repository, feed realtime.Feed, logger zerolog.Logger) *Service {
	s := &Service{
		repo:   repo,
		feed:   feed,
		logger: logger.With().Str("component", "chat").Logger(),
		ttl:    30 * time.Second,
		now:    time.Now,
		cache:  make(map[uuid.UUID]summary),
	}
	s.reconciler = realtime.NewReconciler(s.refresh, s.logger)
	return s
}

// Run drives cache refreshes until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	return s.reconciler.Run(ctx)
}

// Track keeps userID's summary fresh from the change feed, including writes
// made by other instances, until ctx ends. Call it while the user has a
// live connection.
func (s *Service) Track(ctx context.Context, userID uuid.UUID) error {
	sub, err := s.feed.Subscribe(ctx, realtime.Topic(Table, userID.String()))
	if err != nil {
		return fmt.Errorf("subscribe to messages: %w", err)
	}
	s.reconciler.Watch(ctx, sub, func(realtime.Change) []string {
		return []string{userID.String()}
	})
	return nil
}

func (s *Service) Send(ctx context.Context, senderID, recipientID uuid.UUID, body string, appointmentID *uuid.UUID) (*Message, error) {
	body = strings.TrimSpace(body)
	switch {
	case body == "":
		return nil, ErrEmptyMessage
	case len(body) > maxBodyLen:
		return nil, ErrMessageTooLong
	case senderID == recipientID:
		return nil, ErrSelfMessage
	}

	msg, err := s.repo.Insert(ctx, Message{
		SenderID:      senderID,
		RecipientID:   recipientID,
		AppointmentID: appointmentID,
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.publish(ctx, realtime.Insert, msg, recipientID, senderID)
	return msg, nil
}

// List returns the conversation with peerID, newest first.
func (s *Service) List(ctx context.Context, userID, peerID uuid.UUID, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if before.IsZero() {
		before = s.now()
	}
	msgs, err := s.repo.ListBetween(ctx, userID, peerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks everything peerID sent to userID as read.
func (s *Service) MarkRead(ctx context.Context, userID, peerID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkRead(ctx, userID, peerID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		s.reconciler.Invalidate(userID.String())
		s.reconciler.Invalidate(peerID.String())
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	sum, err := s.summary(ctx, userID)
	if err != nil {
		return 0, err
	}
	return sum.unread, nil
}

func (s *Service) Conversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	sum, err := s.summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]Conversation(nil), sum.conversations...), nil
}

func (s *Service) summary(ctx context.Context, userID uuid.UUID) (summary, error) {
	s.mu.RLock()
	sum, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok && s.now().Sub(sum.loadedAt) < s.ttl {
		return sum, nil
	}
	return s.load(ctx, userID)
}

func (s *Service) load(ctx context.Context, userID uuid.UUID) (summary, error) {
	unread, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return summary{}, fmt.Errorf("count unread: %w", err)
	}
	convs, err := s.repo.Conversations(ctx, userID)
	if err != nil {
		return summary{}, fmt.Errorf("list conversations: %w", err)
	}
	sum := summary{unread: unread, conversations: convs, loadedAt: s.now()}

	s.mu.Lock()
	s.cache[userID] = sum
	s.mu.Unlock()
	return sum, nil
}

// refresh reloads a cached summary. Users nobody has asked about stay
// uncached.
func (s *Service) refresh(ctx context.Context, key string) error {
	userID, err := uuid.Parse(key)
	if err != nil {
		return err
	}
	s.mu.RLock()
	_, cached := s.cache[userID]
	s.mu.RUnlock()
	if !cached {
		return nil
	}
	_, err = s.load(ctx, userID)
	return err
}

func (s *Service) publish(ctx context.Context, typ realtime.ChangeType, msg *Message, keys ...uuid.UUID) {
	for _, k := range keys {
		s.reconciler.Invalidate(k.String())
		if s.feed == nil {
			continue
		}
		change, err := realtime.NewChange(Table, typ, k.String(), msg)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to build message change")
			return
		}
		if err := s.feed.Publish(ctx, change); err != nil {
			s.logger.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("failed to publish message change")
		}
	}
}
