package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "realtime:"

// RedisFeed relays changes over Redis Pub/Sub so every API instance sees
// writes made by the others.
type RedisFeed struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisFeed(client *redis.Client, logger zerolog.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: logger}
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := f.client.Publish(ctx, channelPrefix+change.Topic(), data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, channelPrefix+topic)
	// Wait for the subscribe confirmation so nothing published after we
	// return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan Change, subscriberBuffer)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					f.logger.Warn().Err(err).Str("topic", topic).Msg("realtime: malformed change dropped")
					continue
				}
				select {
				case out <- change:
				case <-done:
					return
				}
			}
		}
	}()

	return newSubscription(out, func() {
		close(done)
		_ = ps.Close()
		<-finished
	}), nil
}
