/**
 * @description
 * Ledger change events and the topics they are published on.
 */

package domain

import (
	"time"
)

// EventType is the payload type pushed to realtime viewers.
type EventType string

const (
	EventInitial    EventType = "initial"
	EventUpdate     EventType = "update"
	EventNewComment EventType = "new_comment"
	EventHeartbeat  EventType = "heartbeat"
)

// LedgerEvent is emitted after every successful ledger write.
type LedgerEvent struct {
	Topic     string    `json:"topic"`
	Type      EventType `json:"type"`
	ListingID string    `json:"listingId"`
	Listing   *Listing  `json:"listing,omitempty"`
	Comment   *Comment  `json:"comment,omitempty"`
	// Origin is the id of the service instance that performed the write.
	Origin     string    `json:"origin,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ListingTopic is the pubsub topic for a listing's funding state.
func ListingTopic(listingID string) string {
	return "listing:" + listingID
}

// CommentsTopic is the pubsub topic for a listing's comment thread.
func CommentsTopic(listingID string) string {
	return "comments:" + listingID
}
