// Package realtime carries row-level change events from writers to
// subscribed readers, keyed by table and record filter.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
)

// Change is one committed row change. Record holds the full row after the
// change, never a delta.
type Change struct {
	Table       string          `json:"table"`
	Type        ChangeType      `json:"type"`
	Key         string          `json:"key"`
	Record      json.RawMessage `json:"record"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Topic is the subscription key for a table and record filter.
func Topic(table, key string) string {
	return table + ":" + key
}

func (c Change) Topic() string {
	return Topic(c.Table, c.Key)
}

// NewChange marshals record into a change for table/key.
func NewChange(table string, typ ChangeType, key string, record any) (Change, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return Change{}, fmt.Errorf("marshal %s record: %w", table, err)
	}
	return Change{
		Table:       table,
		Type:        typ,
		Key:         key,
		Record:      data,
		CommittedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the row carried by c into dst.
func (c Change) Decode(dst any) error {
	if err := json.Unmarshal(c.Record, dst); err != nil {
		return fmt.Errorf("decode %s change: %w", c.Table, err)
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
}

// Feed publishes and subscribes to changes.
type Feed interface {
	Publisher
	Subscriber
}

// Subscription delivers changes for one topic until Close.
type Subscription struct {
	C <-chan Change

	once  sync.Once
	close func()
}

func newSubscription(c <-chan Change, closeFn func()) *Subscription {
	return &Subscription{C: c, close: closeFn}
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}
