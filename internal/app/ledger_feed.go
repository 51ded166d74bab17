package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
	"github.com/shlawgathon/wishlist-sub000/internal/metrics"
	"github.com/shlawgathon/wishlist-sub000/pkg/rabbitmq"
)

// Routing keys of the cross-instance ledger feed.
const (
	RoutingKeyListingUpdated = "ledger.listing.updated"
	RoutingKeyCommentCreated = "ledger.comment.created"
)

const (
	relayPublishTimeout = 5 * time.Second
	relayQueueSize      = 256
)

type relayItem struct {
	ctx   context.Context
	event domain.LedgerEvent
}

// LedgerRelay publishes local ledger events to the broker so other instances
// can push them to their viewers. Publishing happens on a single background
// worker, so a slow broker never holds up the ledger write that produced the
// event; events that do not fit in the queue are dropped.
type LedgerRelay struct {
	producer rabbitmq.Publisher
	exchange string

	mu     sync.RWMutex
	closed bool
	queue  chan relayItem
	done   chan struct{}
}

func NewLedgerRelay(producer rabbitmq.Publisher, exchange string) *LedgerRelay {
	return newLedgerRelay(producer, exchange, relayQueueSize)
}

func newLedgerRelay(producer rabbitmq.Publisher, exchange string, queueSize int) *LedgerRelay {
	r := &LedgerRelay{
		producer: producer,
		exchange: exchange,
		queue:    make(chan relayItem, queueSize),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Notify implements ledger.Notifier. It never blocks.
func (r *LedgerRelay) Notify(ctx context.Context, event domain.LedgerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- relayItem{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		log.Printf("level=warn component=ledger_relay listing_id=%s type=%s msg=\"relay queue full; dropping ledger event\"", event.ListingID, event.Type)
		metrics.Payments().RecordFeedEvent("out", "dropped")
	}
}

// Close stops accepting events and waits for the queued ones to be published.
func (r *LedgerRelay) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *LedgerRelay) run() {
	defer close(r.done)
	for item := range r.queue {
		r.publish(item)
	}
}

func (r *LedgerRelay) publish(item relayItem) {
	ctx, cancel := context.WithTimeout(item.ctx, relayPublishTimeout)
	defer cancel()

	event := item.event
	if err := r.producer.Publish(ctx, r.exchange, routingKeyFor(event), event); err != nil {
		log.Printf("level=warn component=ledger_relay listing_id=%s type=%s msg=\"failed to publish ledger event\" err=%v", event.ListingID, event.Type, err)
		metrics.Payments().RecordFeedEvent("out", "error")
		return
	}
	metrics.Payments().RecordFeedEvent("out", "published")
}

func routingKeyFor(event domain.LedgerEvent) string {
	if event.Type == domain.EventNewComment {
		return RoutingKeyCommentCreated
	}
	return RoutingKeyListingUpdated
}

// EventPublisher fans an event out to local subscribers.
type EventPublisher interface {
	Publish(event domain.LedgerEvent) int
}

// LedgerFeedConsumer feeds ledger events written by other instances into the
// local pubsub hub.
type LedgerFeedConsumer struct {
	hub    EventPublisher
	origin string
}

func NewLedgerFeedConsumer(hub EventPublisher, origin string) *LedgerFeedConsumer {
	return &LedgerFeedConsumer{hub: hub, origin: origin}
}

// Bindings maps the feed routing keys to HandleMessage.
func (c *LedgerFeedConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		RoutingKeyListingUpdated: c.HandleMessage,
		RoutingKeyCommentCreated: c.HandleMessage,
	}
}

// HandleMessage always acknowledges: a malformed or stale event is dropped
// rather than re-queued.
func (c *LedgerFeedConsumer) HandleMessage(body []byte) bool {
	var event domain.LedgerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=ledger_feed msg=\"failed to unmarshal ledger event\" err=%v", err)
		metrics.Payments().RecordFeedEvent("in", "malformed")
		return true
	}
	if event.Origin != "" && event.Origin == c.origin {
		metrics.Payments().RecordFeedEvent("in", "own")
		return true
	}
	if strings.TrimSpace(event.ListingID) == "" {
		log.Printf("level=warn component=ledger_feed type=%s msg=\"ledger event without listing id\"", event.Type)
		metrics.Payments().RecordFeedEvent("in", "malformed")
		return true
	}
	if event.Topic == "" {
		if event.Type == domain.EventNewComment {
			event.Topic = domain.CommentsTopic(event.ListingID)
		} else {
			event.Topic = domain.ListingTopic(event.ListingID)
		}
	}

	delivered := c.hub.Publish(event)
	log.Printf("level=info component=ledger_feed listing_id=%s type=%s origin=%s delivered=%d", event.ListingID, event.Type, event.Origin, delivered)
	metrics.Payments().RecordFeedEvent("in", "delivered")
	return true
}
