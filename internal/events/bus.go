package events

import (
	"sync"
	"time"
)

// Bus is a lightweight pub/sub broker using channels. Delivery is at-most-once
// with no backpressure: a slow subscriber loses events instead of stalling the
// trading loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[Type][]chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]chan Event)}
}

// Subscribe registers a listener for an event type and returns the channel and
// an unsubscribe function.
func (b *Bus) Subscribe(t Type, buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(t Type, sessionID string, payload any) {
	ev := Event{
		Type:    t,
		Time:    time.Now().UTC(),
		Session: sessionID,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- ev:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
