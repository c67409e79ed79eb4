package chat

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-consult/internal/realtime"
)

type memRepo struct {
	mu    sync.Mutex
	msgs  []Message
	clock time.Time
	reads int
}

func newMemRepo() *memRepo {
	return &memRepo{clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (r *memRepo) Insert(_ context.Context, m Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = r.clock.Add(time.Second)
	m.ID = uuid.New()
	m.CreatedAt = r.clock
	r.msgs = append(r.msgs, m)
	return &m, nil
}

func (r *memRepo) ListBetween(_ context.Context, userID, peerID uuid.UUID, before time.Time, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for i := len(r.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.msgs[i]
		between := (m.SenderID == userID && m.RecipientID == peerID) || (m.SenderID == peerID && m.RecipientID == userID)
		if between && m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) MarkRead(_ context.Context, recipientID, senderID uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.msgs {
		m := &r.msgs[i]
		if m.RecipientID == recipientID && m.SenderID == senderID && m.ReadAt == nil {
			m.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (r *memRepo) UnreadCount(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	n := 0
	for _, m := range r.msgs {
		if m.RecipientID == userID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Conversations(_ context.Context, userID uuid.UUID) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPeer := map[uuid.UUID]*Conversation{}
	for _, m := range r.msgs {
		var peer uuid.UUID
		switch userID {
		case m.SenderID:
			peer = m.RecipientID
		case m.RecipientID:
			peer = m.SenderID
		default:
			continue
		}
		c, ok := byPeer[peer]
		if !ok {
			c = &Conversation{PeerID: peer}
			byPeer[peer] = c
		}
		c.LastMessage, c.LastAt = m.Body, m.CreatedAt
		if m.RecipientID == userID && m.ReadAt == nil {
			c.Unread++
		}
	}
	out := make([]Conversation, 0, len(byPeer))
	for _, c := range byPeer {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAt.After(out[j].LastAt) })
	return out, nil
}

func (r *memRepo) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func runService(t *testing.T, repo Repository, feed realtime.Feed) *Service {
	t.Helper()
	svc := NewService(repo, feed, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Run(ctx) }()
	return svc
}

func TestSendValidates(t *testing.T) {
	svc := NewService(newMemRepo(), nil, zerolog.Nop())
	a, b := uuid.New(), uuid.New()

	_, err := svc.Send(context.Background(), a, b, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Send(context.Background(), a, a, "hi", nil)
	assert.ErrorIs(t, err, ErrSelfMessage)

	long := make([]byte, maxBodyLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = svc.Send(context.Background(), a, b, string(long), nil)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestSendPublishesToBothParticipants(t *testing.T) {
	hub := realtime.NewHub(nil)
	svc := NewService(newMemRepo(), hub, zerolog.Nop())
	ctx := context.Background()
	patient, doctor := uuid.New(), uuid.New()

	toDoctor, err := hub.Subscribe(ctx, realtime.Topic(Table, doctor.String()))
	require.NoError(t, err)
	defer toDoctor.Close()
	toPatient, err := hub.Subscribe(ctx, realtime.Topic(Table, patient.String()))
	require.NoError(t, err)
	defer toPatient.Close()

	msg, err := svc.Send(ctx, patient, doctor, " my rash is worse ", nil)
	require.NoError(t, err)
	assert.Equal(t, "my rash is worse", msg.Body)

	for _, sub := range []*realtime.Subscription{toDoctor, toPatient} {
		select {
		case change := <-sub.C:
			assert.Equal(t, realtime.Insert, change.Type)
			var got Message
			require.NoError(t, change.Decode(&got))
			assert.Equal(t, msg.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatal("no change delivered")
		}
	}
}

func TestUnreadCountRefreshesAfterWrites(t *testing.T) {
	repo := newMemRepo()
	svc := runService(t, repo, nil)
	ctx := context.Background()
	patient, doctor := uuid.New(), uuid.New()

	n, err := svc.UnreadCount(ctx, doctor)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.Send(ctx, patient, doctor, "hello", nil)
	require.NoError(t, err)
	_, err = svc.Send(ctx, patient, doctor, "are you there?", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, _ := svc.UnreadCount(ctx, doctor)
		return n == 2
	}, time.Second, 5*time.Millisecond)

	convs, err := svc.Conversations(ctx, doctor)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, patient, convs[0].PeerID)
	assert.Equal(t, "are you there?", convs[0].LastMessage)

	marked, err := svc.MarkRead(ctx, doctor, patient)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	require.Eventually(t, func() bool {
		n, _ := svc.UnreadCount(ctx, doctor)
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSummaryServedFromCache(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, zerolog.Nop())
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := svc.UnreadCount(ctx, user)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, repo.readCount())
}

func TestTrackPicksUpRemoteWrites(t *testing.T) {
	repo := newMemRepo()
	hub := realtime.NewHub(nil)
	svc := runService(t, repo, hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	patient, doctor := uuid.New(), uuid.New()

	_, err := svc.UnreadCount(ctx, doctor)
	require.NoError(t, err)

	go func() { _ = svc.Track(ctx, doctor) }()
	require.Eventually(t, func() bool {
		return hub.TopicCount(realtime.Topic(Table, doctor.String())) == 1
	}, time.Second, 5*time.Millisecond)

	// Another instance writes straight to the store and announces it.
	other := NewService(repo, hub, zerolog.Nop())
	_, err = other.Send(ctx, patient, doctor, "sent elsewhere", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, _ := svc.UnreadCount(ctx, doctor)
		return n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestListDefaultsAndOrder(t *testing.T) {
	svc := NewService(newMemRepo(), nil, zerolog.Nop())
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	svc.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	for _, body := range []string{"one", "two", "three"} {
		_, err := svc.Send(ctx, a, b, body, nil)
		require.NoError(t, err)
	}

	msgs, err := svc.List(ctx, b, a, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Body)
}

func TestPgMarkRead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	recipient, sender := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE messages").
		WithArgs(recipient, sender, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.MarkRead(context.Background(), recipient, sender, at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUnreadCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	user := uuid.New()

	mock.ExpectQuery("SELECT count").
		WithArgs(user).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := repo.UnreadCount(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
