package videocall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-consult/internal/realtime"
)

func TestObserverKeepsOneSubscriptionPerScreen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Deps{})
	observer := NewObserver(f.hub, f.svc.Snapshot, zerolog.Nop())
	topic := realtime.Topic(Table, f.call.ID.String())

	first, err := observer.Open(ctx, "screen-1", f.call.ID)
	require.NoError(t, err)
	second, err := observer.Open(ctx, "screen-1", f.call.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, observer.Active())
	assert.Equal(t, 1, f.hub.TopicCount(topic))

	next(t, first)
	_, open := <-first.C
	assert.False(t, open, "replaced watch must be closed")

	assert.Equal(t, f.call.ID, next(t, second).ID)

	observer.Close("screen-1")
	observer.Close("screen-1")
	assert.Zero(t, observer.Active())
	assert.Zero(t, f.hub.TopicCount(topic))
}

func TestObserverReopenRefetchesCurrentRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Deps{})
	observer := NewObserver(f.hub, f.svc.Snapshot, zerolog.Nop())

	w, err := observer.Open(ctx, "doctor", f.call.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, next(t, w).Status)
	observer.Close("doctor")

	// Missed while disconnected.
	_, err = f.svc.JoinAsPatient(ctx, f.call.ID, f.patient)
	require.NoError(t, err)

	w, err = observer.Open(ctx, "doctor", f.call.ID)
	require.NoError(t, err)
	defer observer.Close("doctor")

	snap := next(t, w)
	assert.True(t, IsPatientWaiting(snap))
}

func TestObserverSkipsOlderSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Deps{})
	observer := NewObserver(f.hub, f.svc.Snapshot, zerolog.Nop())

	w, err := observer.Open(ctx, "doctor", f.call.ID)
	require.NoError(t, err)
	defer observer.Close("doctor")
	current := next(t, w)

	older := current
	older.Status = StatusScheduled
	older.UpdatedAt = current.UpdatedAt.Add(-time.Second)
	change, err := realtime.NewChange(Table, realtime.Update, f.call.ID.String(), older)
	require.NoError(t, err)
	require.NoError(t, f.hub.Publish(ctx, change))

	newer := current
	newer.Status = StatusWaiting
	newer.PatientJoinedAt = &t1
	newer.UpdatedAt = current.UpdatedAt.Add(time.Second)
	change, err = realtime.NewChange(Table, realtime.Update, f.call.ID.String(), newer)
	require.NoError(t, err)
	require.NoError(t, f.hub.Publish(ctx, change))

	assert.Equal(t, StatusWaiting, next(t, w).Status)
}

func TestObserverRefetchesAfterFallingBehind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Deps{})
	observer := NewObserver(f.hub, f.svc.Snapshot, zerolog.Nop())
	topic := realtime.Topic(Table, f.call.ID.String())

	w, err := observer.Open(ctx, "doctor", f.call.ID)
	require.NoError(t, err)
	defer observer.Close("doctor")

	// Nobody reads the screen, so the forwarder stalls and the hub gives up
	// on its subscription.
	change, err := realtime.NewChange(Table, realtime.Update, f.call.ID.String(), f.call)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, f.hub.Publish(ctx, change))
	}

	// Committed while the screen had no subscription.
	_, err = f.svc.JoinAsPatient(ctx, f.call.ID, f.patient)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-w.C:
			require.True(t, ok, "watch closed instead of recovering")
			if IsPatientWaiting(snap) {
				assert.Eventually(t, func() bool { return f.hub.TopicCount(topic) == 1 }, time.Second, 10*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("no fresh snapshot after the subscription was dropped")
		}
	}
}

func TestObserverOpenFailsForUnknownCall(t *testing.T) {
	f := newFixture(t, Deps{})
	observer := NewObserver(f.hub, f.svc.Snapshot, zerolog.Nop())

	_, err := observer.Open(context.Background(), "x", uuid.New())
	require.True(t, errors.Is(err, ErrCallNotFound))
	assert.Zero(t, observer.Active())
}
