package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

type scriptedTransport struct {
	dials int
	// deliverOn lists the dial numbers that deliver one message before failing.
	deliverOn map[int]bool
}

func (s *scriptedTransport) Stream(_ context.Context, deliver func(Message)) error {
	s.dials++
	if s.deliverOn[s.dials] {
		deliver(Message{Type: domain.EventUpdate})
	}
	return errors.New("connection reset")
}

func newTestWatcher(transport Transport) (*Watcher, *[]time.Duration) {
	watcher := NewWatcher(transport)
	var sleeps []time.Duration
	watcher.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return watcher, &sleeps
}

func TestWatcher_GivesUpAfterFiveFailures(t *testing.T) {
	transport := &scriptedTransport{}
	watcher, sleeps := newTestWatcher(transport)

	err := watcher.Run(context.Background(), func(Message) {})
	if !errors.Is(err, ErrReconnectLimit) {
		t.Fatalf("expected ErrReconnectLimit, got %v", err)
	}
	if transport.dials != 5 {
		t.Fatalf("expected 5 connection attempts, got %d", transport.dials)
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Fatalf("expected linear backoff %v, got %v", want, *sleeps)
	}
}

func TestWatcher_DeliveryResetsFailureCount(t *testing.T) {
	transport := &scriptedTransport{deliverOn: map[int]bool{3: true}}
	watcher, sleeps := newTestWatcher(transport)

	delivered := 0
	err := watcher.Run(context.Background(), func(Message) { delivered++ })
	if !errors.Is(err, ErrReconnectLimit) {
		t.Fatalf("expected ErrReconnectLimit, got %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected one delivered message, got %d", delivered)
	}
	// Dials 1-2 fail, dial 3 delivers then fails and restarts the count, dials 4-7 fail.
	if transport.dials != 7 {
		t.Fatalf("expected 7 connection attempts, got %d", transport.dials)
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second, 3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Fatalf("expected backoff %v, got %v", want, *sleeps)
	}
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := &scriptedTransport{}
	watcher, _ := newTestWatcher(transport)
	watcher.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	if err := watcher.Run(ctx, func(Message) {}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if transport.dials != 1 {
		t.Fatalf("expected no reconnect after cancel, got %d dials", transport.dials)
	}
}

func TestPollingTransport_DeliversChanges(t *testing.T) {
	var (
		mu    sync.Mutex
		body  = `{"id":"listing-1","amountRaised":"40"}`
		polls atomic.Int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := make(chan Message, 16)
	go func() {
		_ = (&PollingTransport{URL: server.URL, Interval: 10 * time.Millisecond}).Stream(ctx, func(m Message) { msgs <- m })
	}()

	initial := receive(t, msgs)
	if initial.Type != domain.EventInitial || initial.Event != EventListingUpdate {
		t.Fatalf("unexpected initial message %+v", initial)
	}

	waitFor(t, func() bool { return polls.Load() >= 3 })
	mu.Lock()
	body = `{"id":"listing-1","amountRaised":"70"}`
	mu.Unlock()

	update := receive(t, msgs)
	if update.Type != domain.EventUpdate || string(update.Data) != `{"id":"listing-1","amountRaised":"70"}` {
		t.Fatalf("unexpected update %+v (%s)", update, update.Data)
	}
}

func TestPollingTransport_FailsOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := (&PollingTransport{URL: server.URL}).Stream(context.Background(), func(Message) {
		t.Fatal("no message expected")
	})
	if err == nil {
		t.Fatal("expected an error for a 503 poll")
	}
}
