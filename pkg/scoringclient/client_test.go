package scoringclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/score" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req ScoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Intent != "solar lamps" || len(req.Listings) != 1 || req.Listings[0].ListingID != "listing-1" {
			t.Errorf("unexpected request body %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"listingId":"listing-1","score":0.92,"matchReason":"off-grid lighting","suggestedAmount":"25"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	scores, err := client.Score(context.Background(), ScoreRequest{
		Intent:   "solar lamps",
		Listings: []Candidate{{ListingID: "listing-1", Title: "Lamps", FundingGoal: decimal.NewFromInt(100)}},
	})
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if len(scores) != 1 || scores[0].Score != 0.92 || scores[0].MatchReason != "off-grid lighting" {
		t.Fatalf("unexpected scores %+v", scores)
	}
	if !scores[0].SuggestedAmount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected suggested amount %s", scores[0].SuggestedAmount)
	}
}

func TestScore_Errors(t *testing.T) {
	if _, err := NewClient("", time.Second).Score(context.Background(), ScoreRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, time.Second).Score(context.Background(), ScoreRequest{Intent: "x"}); err == nil {
		t.Fatal("expected error for 503")
	}
}
