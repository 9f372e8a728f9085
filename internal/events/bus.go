// Package events provides a simple publish-subscribe bus for zone state
// changes. The D-Bus signal emitter and the SSE endpoint both consume it.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const subBufferSize = 8

// Kind identifies what changed.
type Kind string

const (
	KindAction   Kind = "action"   // a corner action was set over D-Bus or HTTP
	KindDetected Kind = "detected" // the zone detection flag flipped
	KindReload   Kind = "reload"   // another process changed a stored action
)

// Event describes a single state change.
type Event struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Key      string    `json:"key,omitempty"`
	Action   string    `json:"action,omitempty"`
	Detected bool      `json:"detected"`
	Time     time.Time `json:"time"`
}

// Bus is a non-blocking publish-subscribe event bus.
// Subscribers that are slow to consume events will have events dropped rather
// than blocking publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends ev to all subscribers, filling in ID and Time if unset.
// If a subscriber's channel is full, the event is dropped (non-blocking).
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
