// Package notify fans committed session events out to observers.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Broadcaster delivers events to in-process subscribers of a session.
// Slow subscribers lose events instead of blocking the engine.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *domain.Event]struct{} // SessionID -> set of channels
	buffer      int
	logger      *slog.Logger
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

func WithBuffer(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = l }
}

func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		subscribers: make(map[string]map[chan *domain.Event]struct{}),
		buffer:      DefaultBuffer,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for one session. The returned func
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan *domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *domain.Event, b.buffer)
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[chan *domain.Event]struct{})
	}
	b.subscribers[sessionID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[sessionID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(b.subscribers, sessionID)
				}
			}
		})
	}
}

// Subscribers returns the number of listeners of a session.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Notify implements ports.Notifier.
func (b *Broadcaster) Notify(_ context.Context, ev *domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("Subscriber buffer full, dropping event",
				logging.SessionID(ev.SessionID),
				slog.String("event", string(ev.Type)),
			)
		}
	}
	return nil
}
