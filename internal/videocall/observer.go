package videocall

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/realtime"
)

const snapshotBuffer = 16

// SnapshotFunc loads the current record for a call.
type SnapshotFunc func(ctx context.Context, callID uuid.UUID) (*VideoCall, error)

// Observer keeps one change subscription per open call screen.
type Observer struct {
	feed   realtime.Subscriber
	load   SnapshotFunc
	logger zerolog.Logger

	mu      sync.Mutex
	screens map[string]*Watch
}

func NewObserver(feed realtime.Subscriber, load SnapshotFunc, logger zerolog.Logger) *Observer {
	return &Observer{
		feed:    feed,
		load:    load,
		logger:  logger.With().Str("component", "call_observer").Logger(),
		screens: make(map[string]*Watch),
	}
}

// Watch delivers snapshots of one call record to one screen. C is closed
// after Close or when the underlying feed ends.
type Watch struct {
	C <-chan VideoCall

	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops delivery and waits for the forwarder to exit.
func (w *Watch) Close() {
	w.cancel()
	<-w.done
}

// Open subscribes screenID to callID. A screen already open is closed first,
// so a screen never holds two subscriptions. The subscription is registered
// before the record is read and the read is sent as the first snapshot, so
// nothing committed after Open returns can be missed.
func (o *Observer) Open(ctx context.Context, screenID string, callID uuid.UUID) (*Watch, error) {
	o.Close(screenID)

	watchCtx, cancel := context.WithCancel(ctx)
	sub, err := o.feed.Subscribe(watchCtx, realtime.Topic(Table, callID.String()))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to call %s: %w", callID, err)
	}

	current, err := o.load(watchCtx, callID)
	if err != nil {
		sub.Close()
		cancel()
		return nil, err
	}

	out := make(chan VideoCall, snapshotBuffer)
	w := &Watch{C: out, cancel: cancel, done: make(chan struct{})}

	out <- current.Clone()
	go o.forward(watchCtx, callID, sub, out, w.done, *current)

	o.mu.Lock()
	prev, raced := o.screens[screenID]
	o.screens[screenID] = w
	o.mu.Unlock()

	if raced {
		prev.Close()
	}

	return w, nil
}

// Close unsubscribes screenID. Closing an unknown screen is a no-op.
func (o *Observer) Close(screenID string) {
	o.mu.Lock()
	w, ok := o.screens[screenID]
	delete(o.screens, screenID)
	o.mu.Unlock()

	if ok {
		w.Close()
	}
}

// Active reports how many screens hold a subscription.
func (o *Observer) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.screens)
}

func (o *Observer) forward(ctx context.Context, callID uuid.UUID, sub *realtime.Subscription, out chan<- VideoCall, done chan<- struct{}, last VideoCall) {
	defer close(done)
	defer close(out)
	defer func() { sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				// The feed ended or evicted us after a missed change. Start
				// over from a fresh read; give up only if that fails.
				next, current, err := o.resubscribe(ctx, callID)
				if err != nil {
					if ctx.Err() == nil {
						o.logger.Warn().Err(err).Str("call_id", callID.String()).Msg("call feed lost")
					}
					return
				}
				sub = next
				// The fresh read replaces whatever was sent before.
				last = VideoCall{}
				if !o.emit(ctx, out, &last, *current) {
					return
				}
				continue
			}
			var call VideoCall
			if err := change.Decode(&call); err != nil {
				o.logger.Warn().Err(err).Msg("dropping undecodable call change")
				continue
			}
			if !o.emit(ctx, out, &last, call) {
				return
			}
		}
	}
}

func (o *Observer) resubscribe(ctx context.Context, callID uuid.UUID) (*realtime.Subscription, *VideoCall, error) {
	sub, err := o.feed.Subscribe(ctx, realtime.Topic(Table, callID.String()))
	if err != nil {
		return nil, nil, fmt.Errorf("resubscribe to call %s: %w", callID, err)
	}
	current, err := o.load(ctx, callID)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return sub, current, nil
}

// emit forwards call unless it is older than the last snapshot sent. It
// reports false once ctx is done.
func (o *Observer) emit(ctx context.Context, out chan<- VideoCall, last *VideoCall, call VideoCall) bool {
	// A change committed before the initial read can arrive after it.
	if call.UpdatedAt.Before(last.UpdatedAt) {
		return true
	}
	*last = call
	select {
	case out <- call.Clone():
		return true
	case <-ctx.Done():
		return false
	}
}
