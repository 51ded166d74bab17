package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

func TestCallTool_SendsJSONRPCEnvelope(t *testing.T) {
	var captured ToolCallRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer buyer-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json, text/event-stream" {
			t.Errorf("unexpected accept header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"transactionId":"tx-1","status":"success"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	result, err := client.CallTool(context.Background(), "buyer-token", ToolSendPayment, map[string]any{
		"to":     "0x1111111111111111111111111111111111111111",
		"amount": "2500000",
	})
	if err != nil {
		t.Fatalf("CallTool returned error: %v", err)
	}
	if result.TransactionID != "tx-1" {
		t.Fatalf("expected tx-1, got %q", result.TransactionID)
	}
	if captured.JSONRPC != "2.0" || captured.Method != "tools/call" {
		t.Fatalf("unexpected envelope %+v", captured)
	}
	if captured.Params.Name != ToolSendPayment {
		t.Fatalf("expected tool %s, got %s", ToolSendPayment, captured.Params.Name)
	}
	if captured.Params.Arguments["amount"] != "2500000" {
		t.Fatalf("unexpected arguments %+v", captured.Params.Arguments)
	}
}

func TestCallTool_ParsesEventStreamByContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"✅ Sent to agent. Transaction ID: agent-42\"}]}}\n\n"))
	}))
	defer server.Close()

	result, err := NewClient(server.URL, time.Second).CallTool(context.Background(), "token", ToolSendToAgent, nil)
	if err != nil {
		t.Fatalf("CallTool returned error: %v", err)
	}
	if result.TransactionID != "agent-42" {
		t.Fatalf("expected agent-42, got %q", result.TransactionID)
	}
}

func TestCallTool_MissingCredential(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).CallTool(context.Background(), "  ", ToolSendPayment, nil)
	if domain.KindOf(err) != domain.KindMissingCredential {
		t.Fatalf("expected MissingCredential, got %v", err)
	}
	if called {
		t.Fatal("expected no request without a credential")
	}
}

func TestCallTool_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind domain.ErrorKind
	}{
		{name: "server error", status: http.StatusBadGateway, wantKind: domain.KindTransport},
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: domain.KindTransport},
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: domain.KindRateLimited},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("upstream says no"))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, time.Second).CallTool(context.Background(), "token", ToolSendPayment, nil)
			pe := domain.AsPaymentError(err)
			if pe == nil || pe.Kind != tc.wantKind {
				t.Fatalf("expected %s, got %v", tc.wantKind, err)
			}
			if pe.Status != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, pe.Status)
			}
			if pe.Body != "upstream says no" {
				t.Fatalf("expected body to be carried, got %q", pe.Body)
			}
			if calls != 1 {
				t.Fatalf("expected exactly one call, got %d", calls)
			}
		})
	}
}
