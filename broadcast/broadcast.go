// Package broadcast fans out state snapshots to any number of subscribers.
//
// Each subscriber owns a single-slot mailbox. Publishing never blocks: when a
// subscriber has not consumed the previous snapshot it is overwritten, so a
// slow reader always sees the latest state and never a backlog. Dropping a
// subscription is done with Close.
package broadcast

import "sync"

type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	last   T
	hasVal bool
	drops  uint64
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new receiver. If a value was already published the
// receiver starts with it.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{ch: make(chan T, 1), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	if h.hasVal {
		s.ch <- h.last
	}
	return s
}

// SubscribeWith registers a receiver that starts with v instead of the last
// published value. Other subscribers are not affected.
func (h *Hub[T]) SubscribeWith(v T) *Subscription[T] {
	s := &Subscription[T]{ch: make(chan T, 1), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	s.ch <- v
	return s
}

// Publish delivers v to every subscriber, replacing any unread value.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = v
	h.hasVal = true
	for s := range h.subs {
		select {
		case s.ch <- v:
			continue
		default:
		}
		// Mailbox full: drop the stale value and retry. Only the hub sends, and
		// it holds mu, so the second send cannot race with another publish.
		select {
		case <-s.ch:
			h.drops++
		default:
		}
		select {
		case s.ch <- v:
		default:
		}
	}
}

// Last returns the most recently published value.
func (h *Hub[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasVal
}

// Len returns the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Drops returns how many unread snapshots were overwritten.
func (h *Hub[T]) Drops() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drops
}

func (h *Hub[T]) remove(s *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

type Subscription[T any] struct {
	ch   chan T
	hub  *Hub[T]
	once sync.Once
}

// C returns the receive side of the mailbox. It is never closed; select on a
// context or done channel alongside it.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}
