// Package bus fans committed edit events out to live connection sessions.
//
// Delivery is deliberately lossy: each subscription has a bounded buffer, and
// when a slow session falls behind its oldest unread events are dropped so
// that publishing never blocks and other sessions are unaffected.
package bus

import (
	"sync"

	"collabrelay/event"
)

// DefaultCapacity is the per-subscription buffer size.
const DefaultCapacity = 100

// Bus is an in-process multi-subscriber broadcast channel for EditEvents.
type Bus struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	capacity int
}

// Subscription is one subscriber's independent cursor into the bus. It sees
// only events published after Subscribe.
type Subscription struct {
	ch      chan event.EditEvent
	dropped uint64
	bus     *Bus
}

// New returns a Bus whose subscriptions buffer up to capacity events; a
// capacity below one falls back to DefaultCapacity.
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bus{subs: make(map[*Subscription]struct{}), capacity: capacity}
}

// Subscribe registers a new subscriber. The caller must Unsubscribe when done
// or the subscription leaks.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan event.EditEvent, b.capacity), bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Publish delivers ev to every current subscription without blocking. A full
// subscription has its oldest buffered event evicted to make room.
func (b *Bus) Publish(ev event.EditEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			// Buffer full: evict the oldest unread event. The lock
			// serializes publishers, so the freed slot is ours.
			select {
			case <-s.ch:
				s.dropped++
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// C is the receive side of the subscription. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan event.EditEvent {
	return s.ch
}

// Dropped reports how many events were evicted from this subscription's
// buffer because the subscriber lagged.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}
