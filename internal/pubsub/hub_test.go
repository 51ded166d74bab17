package pubsub

import (
	"testing"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

func TestHub_PublishReachesOnlyTopicSubscribers(t *testing.T) {
	hub := NewHub(4)
	listingSub := hub.Subscribe(domain.ListingTopic("a"))
	otherSub := hub.Subscribe(domain.ListingTopic("b"))
	defer hub.Unsubscribe(listingSub)
	defer hub.Unsubscribe(otherSub)

	delivered := hub.Publish(domain.LedgerEvent{Topic: domain.ListingTopic("a"), Type: domain.EventUpdate, ListingID: "a"})
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}

	select {
	case event := <-listingSub.Events():
		if event.ListingID != "a" {
			t.Fatalf("unexpected event %+v", event)
		}
	default:
		t.Fatal("expected event on subscribed topic")
	}
	select {
	case event := <-otherSub.Events():
		t.Fatalf("unexpected delivery to other topic: %+v", event)
	default:
	}
}

func TestHub_UnsubscribeClosesAndIsIdempotent(t *testing.T) {
	hub := NewHub(1)
	topic := domain.CommentsTopic("a")
	sub := hub.Subscribe(topic)
	if hub.Subscribers(topic) != 1 {
		t.Fatalf("expected one subscriber, got %d", hub.Subscribers(topic))
	}

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if hub.Subscribers(topic) != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Subscribers(topic))
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	if delivered := hub.Publish(domain.LedgerEvent{Topic: topic}); delivered != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", delivered)
	}
}

func TestHub_FullBufferClosesSlowSubscriber(t *testing.T) {
	hub := NewHub(32)
	topic := domain.CommentsTopic("slow")
	slow := hub.Subscribe(topic)
	defer hub.Unsubscribe(slow)

	delivered := 0
	for i := 0; i < 40; i++ {
		delivered += hub.Publish(domain.LedgerEvent{Topic: topic, Type: domain.EventNewComment})
	}
	if delivered != 32 {
		t.Fatalf("expected 32 deliveries before overflow, got %d", delivered)
	}
	if got := hub.Subscribers(topic); got != 0 {
		t.Fatalf("expected overflowing subscriber removed, got %d subscribers", got)
	}

	buffered := 0
	for range slow.Events() {
		buffered++
	}
	if buffered != 32 {
		t.Fatalf("expected the 32 buffered events before close, got %d", buffered)
	}

	// A fresh subscription on the same topic is unaffected.
	fresh := hub.Subscribe(topic)
	defer hub.Unsubscribe(fresh)
	if n := hub.Publish(domain.LedgerEvent{Topic: topic, Type: domain.EventNewComment}); n != 1 {
		t.Fatalf("expected delivery to the fresh subscriber, got %d", n)
	}
}
