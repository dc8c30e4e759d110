package hsp

import (
	"context"
	"fmt"
	"sync"

	"angela/internal/logging"
)

const memoryBusBuffer = 100

type memorySubscription struct {
	pattern string
	ch      chan Delivery
}

// MemoryBus is an in-process Bus used for single-process deployments and
// tests. Topic matching follows the same wildcard rules as the AMQP bus so
// code exercised against it behaves identically against a broker.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish delivers body to every matching subscription. A full subscriber
// buffer drops the message for that subscriber only.
func (b *MemoryBus) Publish(ctx context.Context, topic string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, sub := range b.subs {
		if !MatchTopic(sub.pattern, topic) {
			continue
		}
		// Copy so subscribers can't observe later mutations of body.
		msg := Delivery{Topic: topic, Body: append([]byte(nil), body...)}
		select {
		case sub.ch <- msg:
		default:
			logging.Get(logging.CategoryBus).Warn(
				"Dropping message on %s: subscriber %q buffer full", topic, sub.pattern)
		}
	}
	return nil
}

// Subscribe registers a wildcard pattern.
func (b *MemoryBus) Subscribe(pattern string) (<-chan Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &memorySubscription{
		pattern: pattern,
		ch:      make(chan Delivery, memoryBusBuffer),
	}
	b.subs = append(b.subs, sub)
	logging.BusDebug("Memory bus subscription added: %s", pattern)
	return sub.ch, nil
}

// Close shuts the bus down and closes every subscription channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	return nil
}
