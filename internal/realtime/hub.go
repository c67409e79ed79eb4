package realtime

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// DropObserver is told about deliveries skipped because a subscriber lagged.
type DropObserver interface {
	ObserveChange(table, result string)
}

// Hub fans changes out to in-process subscribers. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the change and its
// subscription is closed, so the consumer knows to re-fetch and subscribe
// again instead of silently running on stale state.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan Change]struct{}
	drops  DropObserver
}

func NewHub(drops DropObserver) *Hub {
	return &Hub{
		topics: make(map[string]map[chan Change]struct{}),
		drops:  drops,
	}
}

func (h *Hub) Publish(_ context.Context, change Change) error {
	topic := change.Topic()

	var lagging []chan Change
	h.mu.RLock()
	for ch := range h.topics[topic] {
		select {
		case ch <- change:
			h.observe(change.Table, "delivered")
		default:
			h.observe(change.Table, "dropped")
			lagging = append(lagging, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range lagging {
		h.remove(topic, ch)
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[chan Change]struct{})
	}
	h.topics[topic][ch] = struct{}{}
	h.mu.Unlock()

	return newSubscription(ch, func() { h.remove(topic, ch) }), nil
}

// remove unregisters ch and closes it. Only the call that finds ch still
// registered closes it.
func (h *Hub) remove(topic string, ch chan Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	close(ch)
}

// TopicCount returns the number of live subscriptions on topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) observe(table, result string) {
	if h.drops != nil {
		h.drops.ObserveChange(table, result)
	}
}
