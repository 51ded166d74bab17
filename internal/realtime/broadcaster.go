/**
 * @description
 * Server side of the realtime push protocol. Each viewer connection gets one
 * pubsub subscription, an initial snapshot, every later ledger event for its
 * topic, and a heartbeat frame on a fixed cadence.
 *
 * @notes
 * - Teardown always unsubscribes, stops the heartbeat ticker and returns from
 *   the handler, whichever side ends the connection.
 * - The subscription is taken before the snapshot is read so no write can fall
 *   between the two.
 */
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
	"github.com/shlawgathon/wishlist-sub000/internal/metrics"
	"github.com/shlawgathon/wishlist-sub000/internal/pubsub"
	"github.com/shlawgathon/wishlist-sub000/internal/store"
)

// Named SSE events.
const (
	EventListingUpdate = "listing-update"
	EventCommentUpdate = "comment-update"
)

const defaultHeartbeat = 30 * time.Second

// Snapshotter reads the current state a new viewer starts from.
type Snapshotter interface {
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
	ListComments(ctx context.Context, listingID string) ([]domain.Comment, error)
}

// Payload is the JSON body of a named SSE event.
type Payload struct {
	Type domain.EventType `json:"type"`
	Data any              `json:"data,omitempty"`
}

// Broadcaster serves listing and comment streams.
type Broadcaster struct {
	hub       *pubsub.Hub
	snapshots Snapshotter
	heartbeat time.Duration
}

// NewBroadcaster creates a broadcaster emitting a heartbeat every heartbeat.
func NewBroadcaster(hub *pubsub.Hub, snapshots Snapshotter, heartbeat time.Duration) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Broadcaster{hub: hub, snapshots: snapshots, heartbeat: heartbeat}
}

type stream struct {
	name     string
	topic    string
	snapshot func(ctx context.Context) (any, error)
	payload  func(event domain.LedgerEvent) (Payload, bool)
}

// ServeListing streams funding updates for one listing.
func (b *Broadcaster) ServeListing(w http.ResponseWriter, r *http.Request, listingID string) {
	b.serve(w, r, stream{
		name:  EventListingUpdate,
		topic: domain.ListingTopic(listingID),
		snapshot: func(ctx context.Context) (any, error) {
			return b.snapshots.GetListing(ctx, listingID)
		},
		payload: func(event domain.LedgerEvent) (Payload, bool) {
			if event.Listing == nil {
				return Payload{}, false
			}
			return Payload{Type: domain.EventUpdate, Data: event.Listing}, true
		},
	})
}

// ServeComments streams new comments for one listing.
func (b *Broadcaster) ServeComments(w http.ResponseWriter, r *http.Request, listingID string) {
	b.serve(w, r, stream{
		name:  EventCommentUpdate,
		topic: domain.CommentsTopic(listingID),
		snapshot: func(ctx context.Context) (any, error) {
			comments, err := b.snapshots.ListComments(ctx, listingID)
			if err != nil {
				return nil, err
			}
			if comments == nil {
				comments = []domain.Comment{}
			}
			return comments, nil
		},
		payload: func(event domain.LedgerEvent) (Payload, bool) {
			if event.Comment == nil {
				return Payload{}, false
			}
			return Payload{Type: domain.EventNewComment, Data: event.Comment}, true
		},
	})
}

func (b *Broadcaster) serve(w http.ResponseWriter, r *http.Request, s stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	sub := b.hub.Subscribe(s.topic)
	defer b.hub.Unsubscribe(sub)

	snapshot, err := s.snapshot(ctx)
	if err != nil {
		if errors.Is(err, store.ErrListingNotFound) {
			http.Error(w, "listing not found", http.StatusNotFound)
			return
		}
		log.Printf("level=error component=realtime topic=%s msg=\"failed to load snapshot\" err=%v", s.topic, err)
		http.Error(w, "failed to load snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	done := metrics.Payments().StreamOpened(s.name)
	defer done()

	if err := writeEvent(w, s.name, Payload{Type: domain.EventInitial, Data: snapshot}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeHeartbeat(w); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events():
			if !open {
				return
			}
			payload, ok := s.payload(event)
			if !ok {
				continue
			}
			if err := writeEvent(w, s.name, payload); err != nil {
				log.Printf("level=warn component=realtime topic=%s msg=\"viewer write failed\" err=%v", s.topic, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload Payload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, encoded)
	return err
}

func writeHeartbeat(w http.ResponseWriter) error {
	_, err := fmt.Fprintf(w, "data: {\"type\":%q}\n\n", domain.EventHeartbeat)
	return err
}
