// Package events fans out session-created notifications to live dashboards,
// either in-process or across instances through Redis pub/sub.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TypeSessionCreated is the wire type of SessionCreated.
const TypeSessionCreated = "session_created"

const subscriberBuffer = 16

// SessionCreated announces a newly stored session record.
type SessionCreated struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Engagement int       `json:"engagement"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewSessionCreated builds the event for a stored record.
func NewSessionCreated(id string, engagement int, ts time.Time) SessionCreated {
	return SessionCreated{
		Type:       TypeSessionCreated,
		ID:         id,
		Engagement: engagement,
		Timestamp:  ts.UTC(),
	}
}

// Bus publishes and delivers session events.
type Bus interface {
	Publish(ctx context.Context, ev SessionCreated) error
	// Subscribe returns a channel that receives events until ctx is done,
	// after which the channel is closed.
	Subscribe(ctx context.Context) (<-chan SessionCreated, error)
	Close() error
}

// LocalBus delivers events to subscribers in the same process. Slow
// subscribers miss events rather than block publishers.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[int]chan SessionCreated
	nextID int
	closed bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan SessionCreated)}
}

// Publish delivers ev to every current subscriber.
func (b *LocalBus) Publish(_ context.Context, ev SessionCreated) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping session event for slow subscriber", "subscriber", id, "record_id", ev.ID)
		}
	}
	return nil
}

// Subscribe registers a subscriber for the lifetime of ctx.
func (b *LocalBus) Subscribe(ctx context.Context) (<-chan SessionCreated, error) {
	b.mu.Lock()
	ch := make(chan SessionCreated, subscriberBuffer)
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(id)
	}()
	return ch, nil
}

func (b *LocalBus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *LocalBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
