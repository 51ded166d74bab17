/**
 * @description
 * A typed in-process publish/subscribe hub keyed by topic. Each realtime viewer
 * owns exactly one Subscription for the lifetime of its connection; the ledger
 * publishes into the hub after every successful write.
 *
 * @notes
 * - Delivery is non-blocking. A subscriber whose buffer is full is dropped and
 *   its channel closed, so it can resubscribe and start from a fresh snapshot
 *   instead of silently missing events.
 * - Unsubscribe is idempotent and closes the subscription channel.
 */
package pubsub

import (
	"context"
	"log"
	"sync"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
	"github.com/shlawgathon/wishlist-sub000/internal/metrics"
)

const defaultBuffer = 32

// Subscription is a handle to one topic registration.
type Subscription struct {
	id     uint64
	topic  string
	events chan domain.LedgerEvent
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events returns the delivery channel. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan domain.LedgerEvent {
	return s.events
}

// Hub fans ledger events out to topic subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]*Subscription
	buffer int
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		topics: make(map[string]map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscription on topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		topic:  topic,
		events: make(chan domain.LedgerEvent, h.buffer),
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub from the hub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// removeLocked drops sub and closes its channel unless that already happened.
func (h *Hub) removeLocked(sub *Subscription) bool {
	subs, ok := h.topics[sub.topic]
	if !ok {
		return false
	}
	if _, ok := subs[sub.id]; !ok {
		return false
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
	close(sub.events)
	return true
}

// Publish delivers event to every subscriber of event.Topic and returns the
// number of subscribers that received it. Subscribers that cannot keep up are
// closed.
func (h *Hub) Publish(event domain.LedgerEvent) int {
	h.mu.RLock()
	delivered := 0
	var overflowed []*Subscription
	for _, sub := range h.topics[event.Topic] {
		select {
		case sub.events <- event:
			delivered++
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	if len(overflowed) == 0 {
		return delivered
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range overflowed {
		metrics.Payments().RecordDropped(string(event.Type))
		if h.removeLocked(sub) {
			log.Printf("level=warn component=pubsub topic=%s subscription=%d msg=\"subscriber buffer full; closing subscription\"", sub.topic, sub.id)
		}
	}
	return delivered
}

// Notify publishes event; it satisfies the ledger's notifier contract.
func (h *Hub) Notify(_ context.Context, event domain.LedgerEvent) {
	h.Publish(event)
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
