package agentclient

import (
	"reflect"
	"testing"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

func TestNormalize_ReplyShapes(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  Status
		wantID      string
		wantAmount  string
		wantErrKind domain.ErrorKind
	}{
		{
			name:        "structured json result",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"transactionHash":"0xabc123","status":"success","amount":"1500000","to":"0x1111111111111111111111111111111111111111"}}`,
			wantStatus:  StatusSuccess,
			wantID:      "0xabc123",
			wantAmount:  "1500000",
		},
		{
			name:        "text part with success glyph and id",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"✅ Payment sent successfully! Transaction ID: tx_98765"}]}}`,
			wantStatus:  StatusSuccess,
			wantID:      "tx_98765",
		},
		{
			name:        "text part with failure marker",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"❌ Transfer failed: insufficient balance"}]}}`,
			wantStatus:  StatusError,
			wantErrKind: domain.KindSettlementFailed,
		},
		{
			name:        "success marker wins tie with failure marker",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"Retry completed after earlier error. Transaction hash: 0xfeed"}]}}`,
			wantStatus:  StatusSuccess,
			wantID:      "0xfeed",
		},
		{
			name:        "unsuccessful is not a success marker",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"Transfer unsuccessful"}]}}`,
			wantStatus:  StatusError,
			wantErrKind: domain.KindSettlementFailed,
		},
		{
			name:        "negated confirmation with id is a failure",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"❌ Transfer failed: Transaction ID: 0xabc123 could not be confirmed"}]}}`,
			wantStatus:  StatusError,
			wantErrKind: domain.KindSettlementFailed,
		},
		{
			name:        "success without id fails closed",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"✅ Payment sent"}]}}`,
			wantStatus:  StatusSuccess,
			wantErrKind: domain.KindUnparsableResponse,
		},
		{
			name:        "queued with id",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"Payment queued. Transaction ID: q-17"}]}}`,
			wantStatus:  StatusQueued,
			wantID:      "q-17",
		},
		{
			name:        "json object inside text part",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{\"txHash\":\"0xbeef\",\"status\":\"completed\"}"}]}}`,
			wantStatus:  StatusSuccess,
			wantID:      "0xbeef",
		},
		{
			name:        "isError flag",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"Agent wallet not found"}]}}`,
			wantStatus:  StatusError,
			wantErrKind: domain.KindSettlementFailed,
		},
		{
			name:        "explicit rpc error",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"invalid recipient"}}`,
			wantStatus:  StatusError,
			wantErrKind: domain.KindSettlementFailed,
		},
		{
			name:        "sse framed reply with noise lines",
			contentType: "text/event-stream",
			body:        "event: message\ndata: not json at all\n\nevent: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"✅ Sent. Transaction ID: sse-1\"}]}}\n\n",
			wantStatus:  StatusSuccess,
			wantID:      "sse-1",
		},
		{
			name:        "sse framing detected without header",
			contentType: "application/json",
			body:        "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"transactionId\":\"detected\"}}\n\n",
			wantStatus:  StatusSuccess,
			wantID:      "detected",
		},
		{
			name:        "no classifiable text",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"hello there"}]}}`,
			wantErrKind: domain.KindUnparsableResponse,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Normalize(tc.contentType, []byte(tc.body))
			if err != nil {
				t.Fatalf("Normalize returned error: %v", err)
			}
			if result.Status != tc.wantStatus {
				t.Fatalf("expected status %q, got %q", tc.wantStatus, result.Status)
			}
			if tc.wantID != "" && result.TransactionID != tc.wantID {
				t.Fatalf("expected transaction id %q, got %q", tc.wantID, result.TransactionID)
			}
			if tc.wantAmount != "" && result.Amount != tc.wantAmount {
				t.Fatalf("expected amount %q, got %q", tc.wantAmount, result.Amount)
			}
			gotErr := result.Err()
			if tc.wantErrKind == "" {
				if gotErr != nil {
					t.Fatalf("expected no error, got %v", gotErr)
				}
				return
			}
			if gotErr == nil {
				t.Fatalf("expected %s, got nil", tc.wantErrKind)
			}
			if kind := domain.KindOf(gotErr); kind != tc.wantErrKind {
				t.Fatalf("expected %s, got %s", tc.wantErrKind, kind)
			}
		})
	}
}

func TestNormalize_MalformedEnvelope(t *testing.T) {
	bodies := map[string]string{
		"neither result nor error": `{"jsonrpc":"2.0","id":1}`,
		"not json":                 `<html>bad gateway</html>`,
		"sse without frames":       "event: ping\n\n",
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize("application/json", []byte(body))
			if domain.KindOf(err) != domain.KindUnparsableResponse {
				t.Fatalf("expected UnparsableResponse, got %v", err)
			}
		})
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	body := []byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"✅ done. Transaction ID: same-1\"}]}}\n\n")

	first, err := Normalize("text/event-stream", body)
	if err != nil {
		t.Fatalf("first Normalize failed: %v", err)
	}
	second, err := Normalize("text/event-stream", body)
	if err != nil {
		t.Fatalf("second Normalize failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical records, got %+v and %+v", first, second)
	}
}

func TestClassifyText(t *testing.T) {
	cases := map[string]Status{
		"✅ sent":                          StatusSuccess,
		"Payment completed":               StatusSuccess,
		"❌ nope":                          StatusError,
		"Error: agent offline":            StatusError,
		"Submitted to the network":        StatusQueued,
		"pending confirmation":            StatusQueued,
		"the weather is nice":             "",
		"success despite a failed retry":  StatusSuccess,
		"INSUFFICIENT FUNDS for transfer": StatusError,
		"❌ Transfer failed: Transaction ID: 0xabc123 could not be confirmed": StatusError,
		"Transfer was not completed: rejected":                               StatusError,
		"payment has not been confirmed, error 42":                           StatusError,
		"Transfer unsuccessfully attempted, rejected":                        StatusError,
		"not yet confirmed, still pending":                                   StatusQueued,
		"Transfer confirmed after earlier error":                             StatusSuccess,
	}
	for text, want := range cases {
		if got := ClassifyText(text); got != want {
			t.Errorf("ClassifyText(%q) = %q, want %q", text, got, want)
		}
	}
}
