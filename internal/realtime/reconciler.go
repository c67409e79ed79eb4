package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// RefreshFunc rebuilds whatever is cached under key.
type RefreshFunc func(ctx context.Context, key string) error

// Reconciler turns invalidation signals into refreshes. Signals for the same
// key that arrive before the reader gets to it collapse into one refresh,
// and only the single Run loop ever calls refresh.
type Reconciler struct {
	refresh RefreshFunc
	logger  zerolog.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
	wake  chan struct{}
}

func NewReconciler(refresh RefreshFunc, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		refresh: refresh,
		logger:  logger,
		dirty:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Invalidate marks key stale. It never blocks.
func (r *Reconciler) Invalidate(key string) {
	r.mu.Lock()
	r.dirty[key] = struct{}{}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many keys wait for a refresh.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dirty)
}

// Run refreshes invalidated keys until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
			r.drain(ctx)
		}
	}
}

func (r *Reconciler) drain(ctx context.Context) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.dirty))
	for k := range r.dirty {
		keys = append(keys, k)
	}
	r.dirty = make(map[string]struct{})
	r.mu.Unlock()

	sort.Strings(keys)
	for _, key := range keys {
		if err := r.refresh(ctx, key); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("realtime: refresh failed")
		}
	}
}

// Watch invalidates the keys returned by keys for every change on sub until
// the subscription closes or ctx ends.
func (r *Reconciler) Watch(ctx context.Context, sub *Subscription, keys func(Change) []string) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			for _, k := range keys(change) {
				r.Invalidate(k)
			}
		}
	}
}
