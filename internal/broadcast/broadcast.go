// Package broadcast fans ingested updates out to subscribed sessions.
// Delivery is at-most-once and best-effort: Publish enqueues into each
// subscriber's bounded outbound buffer and never blocks, so one slow
// session cannot stall the rest.
package broadcast

import (
	"sync"

	"marketpulse/internal/model"
)

// Subscriber receives updates for instruments it is subscribed to.
// Enqueue must be non-blocking; it reports whether the update displaced
// an older buffered entry.
type Subscriber interface {
	ID() string
	Enqueue(u model.Update) (evicted bool)
}

// DropFunc is invoked when an enqueue evicts a buffered update.
type DropFunc func(symbol, subscriberID string)

// Broadcaster routes updates by instrument to subscriber sets.
// Safe for concurrent use. Callers publish a given instrument's updates
// from a single goroutine; ordering per subscriber then follows from
// enqueue order.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[string]Subscriber // symbol -> subscriber ID -> subscriber
	onDrop DropFunc
}

// New creates a Broadcaster. onDrop may be nil.
func New(onDrop DropFunc) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[string]Subscriber),
		onDrop: onDrop,
	}
}

// Subscribe registers sub for the instrument. Subscribing an already
// subscribed session is a no-op.
func (b *Broadcaster) Subscribe(symbol string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[symbol]
	if !ok {
		set = make(map[string]Subscriber)
		b.subs[symbol] = set
	}
	set[sub.ID()] = sub
}

// Unsubscribe removes sub from the instrument. Unsubscribing a session
// that is not subscribed is a no-op.
func (b *Broadcaster) Unsubscribe(symbol string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[symbol]
	if !ok {
		return
	}
	delete(set, sub.ID())
	if len(set) == 0 {
		delete(b.subs, symbol)
	}
}

// UnsubscribeAll removes sub from every instrument. Used on session teardown.
func (b *Broadcaster) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := sub.ID()
	for symbol, set := range b.subs {
		delete(set, id)
		if len(set) == 0 {
			delete(b.subs, symbol)
		}
	}
}

// Publish delivers u to every subscriber of u.Symbol. Enqueue only; no
// retries, no backlog.
func (b *Broadcaster) Publish(u model.Update) {
	b.mu.RLock()
	set := b.subs[u.Symbol]
	targets := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.Enqueue(u) && b.onDrop != nil {
			b.onDrop(u.Symbol, sub.ID())
		}
	}
}

// Subscribers returns the number of subscribers for an instrument.
func (b *Broadcaster) Subscribers(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[symbol])
}
