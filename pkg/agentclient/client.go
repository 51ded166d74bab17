/**
 * @description
 * This package provides a client for the external settlement agent. The agent
 * exposes its payment operations as tools behind a JSON-RPC 2.0 "tools/call"
 * endpoint, authenticated with the buyer's bearer credential.
 *
 * @dependencies
 * - bytes, context, encoding/json, io, net/http, time: Standard Go libraries.
 *
 * @notes
 * - The client performs exactly one request per call. Retry policy belongs to
 *   the caller.
 */
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// Tool names exposed by the settlement agent.
const (
	ToolSendPayment = "send_payment"
	ToolSendToAgent = "send_to_agent"
	ToolSendToEmail = "send_to_email"
)

const maxReplyBytes = 4 << 20

// Client is a client for the settlement agent's tool endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a new settlement agent client. The timeout bounds a whole
// tool call, including reading an SSE-framed reply.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ToolCallRequest is the JSON-RPC envelope for a tools/call invocation.
type ToolCallRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  ToolCallParams `json:"params"`
}

// ToolCallParams names the tool and carries its arguments.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallTool invokes one settlement tool and returns the normalized reply. The
// returned error is a *domain.PaymentError: MissingCredential, RateLimited,
// TransportError, UnparsableResponse or SettlementFailed. When the agent replied
// parseably the Result is returned alongside any error.
func (c *Client) CallTool(ctx context.Context, credential, toolName string, arguments map[string]any) (*Result, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, domain.NewPaymentError(domain.KindMissingCredential, "sender credential is required", nil)
	}
	if c.BaseURL == "" {
		return nil, domain.NewPaymentError(domain.KindTransport, "settlement agent url is not configured", nil)
	}

	payload := ToolCallRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "tools/call",
		Params: ToolCallParams{
			Name:      toolName,
			Arguments: arguments,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewPaymentError(domain.KindValidation, "failed to marshal tool call", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPaymentError(domain.KindTransport, "failed to create tool call request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, domain.NewPaymentError(domain.KindTransport, "failed to reach settlement agent", err)
	}
	defer resp.Body.Close()

	replyBody, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, domain.NewPaymentError(domain.KindTransport, "failed to read settlement agent reply", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.PaymentError{
			Kind:    domain.KindRateLimited,
			Message: "settlement agent rate limited the call",
			Status:  resp.StatusCode,
			Body:    string(replyBody),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=agentclient tool=%s status=%d msg=\"settlement agent returned non-2xx\"", toolName, resp.StatusCode)
		return nil, domain.TransportError(resp.StatusCode, string(replyBody))
	}

	result, err := Normalize(resp.Header.Get("Content-Type"), replyBody)
	if err != nil {
		log.Printf("level=warn component=agentclient tool=%s msg=\"unparsable settlement agent reply\" err=%v", toolName, err)
		return nil, err
	}
	if err := result.Err(); err != nil {
		return result, err
	}
	return result, nil
}
