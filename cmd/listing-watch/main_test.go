package main

import (
	"testing"
	"time"

	"github.com/shlawgathon/wishlist-sub000/internal/realtime"
)

func TestNewTransport(t *testing.T) {
	sse, ok := newTransport("http://svc", "listing 1", false, 0).(*realtime.SSETransport)
	if !ok {
		t.Fatal("expected an SSE transport without polling")
	}
	if sse.URL != "http://svc/listings/listing%201/stream" {
		t.Fatalf("unexpected stream url %q", sse.URL)
	}

	poll, ok := newTransport("http://svc", "abc", true, 2*time.Second).(*realtime.PollingTransport)
	if !ok {
		t.Fatal("expected a polling transport")
	}
	if poll.URL != "http://svc/listings/abc/comments" || poll.Event != realtime.EventCommentUpdate || poll.Interval != 2*time.Second {
		t.Fatalf("unexpected polling transport %+v", poll)
	}
}

func TestRootCmdRequiresListing(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error without a listing id")
	}
}
