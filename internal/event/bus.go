// Package event implements the daemon's synchronous named-topic event bus
// (spec.md §4.A): ordered subscribers dispatched under a single lock, with
// per-subscriber panic isolation so a misbehaving extension point cannot
// take down the publisher or its siblings.
package event

import (
	"sync"

	"github.com/jlulug/shined/internal/logging"
)

// Handle identifies a registered subscriber for later Unsubscribe calls.
type Handle struct {
	topic string
	id    uint64
}

type subscriber struct {
	id uint64
	fn func(any)
}

// Bus is a mapping from topic to an ordered list of subscriber callbacks.
// The zero value is not usable; construct with New.
type Bus struct {
	log *logging.Logger

	mu       sync.Mutex
	handlers map[string][]subscriber
	nextID   uint64
}

// New builds an empty Bus. log receives one Warn entry per subscriber panic.
func New(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.New(logging.Options{})
	}
	return &Bus{log: log, handlers: make(map[string][]subscriber)}
}

// Subscribe appends fn to topic's subscriber list, run last among current
// subscribers on future publishes.
func (b *Bus) Subscribe(topic string, fn func(any)) Handle {
	return b.register(topic, fn, false)
}

// SubscribePrepend inserts fn ahead of topic's existing subscribers.
func (b *Bus) SubscribePrepend(topic string, fn func(any)) Handle {
	return b.register(topic, fn, true)
}

func (b *Bus) register(topic string, fn func(any), prepend bool) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscriber{id: b.nextID, fn: fn}
	if prepend {
		b.handlers[topic] = append([]subscriber{sub}, b.handlers[topic]...)
	} else {
		b.handlers[topic] = append(b.handlers[topic], sub)
	}
	return Handle{topic: topic, id: sub.id}
}

// Unsubscribe removes a previously registered subscriber. It is a no-op if
// the handle is stale (already removed, or Clear was called since).
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[h.topic]
	for i, s := range subs {
		if s.id == h.id {
			b.handlers[h.topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish invokes topic's subscribers, in registration order, while holding
// the bus's lock — matching spec.md's "publish(topic, arg) invokes
// subscribers in registration order while holding the global mutex." A
// panicking subscriber is recovered, logged, and does not abort the
// remaining subscribers nor the caller.
func (b *Bus) Publish(topic string, arg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.handlers[topic] {
		b.dispatchOne(topic, s, arg)
	}
}

func (b *Bus) dispatchOne(topic string, s subscriber, arg any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event subscriber panicked", "topic", topic, "recover", r)
		}
	}()
	s.fn(arg)
}

// Clear empties the entire registry. Used on configuration reload, when
// plugins are about to be re-registered from scratch (spec.md §4.H).
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]subscriber)
}

// LimitVote is the mutable argument passed to the sched:limit topic;
// subscribers set Skip to veto the current scheduler tick.
type LimitVote struct {
	Skip bool
}
