package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix prefixes the per-session channels.
const DefaultChannelPrefix = "parley:events:"

// RedisPublisher publishes events as JSON on a Redis channel per session,
// so observers on other nodes can follow a session.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel carrying a session's events.
func (p *RedisPublisher) Channel(sessionID string) string {
	return p.prefix + sessionID
}

// Notify implements ports.Notifier.
func (p *RedisPublisher) Notify(ctx context.Context, ev *domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(ev.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe relays a session's events from Redis until ctx is done.
// The returned channel is closed when the subscription ends.
func (p *RedisPublisher) Subscribe(ctx context.Context, sessionID string) (<-chan *domain.Event, error) {
	sub := p.client.Subscribe(ctx, p.Channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *domain.Event, DefaultBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
