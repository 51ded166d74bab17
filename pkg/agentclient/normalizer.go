/**
 * @description
 * Normalization of settlement-agent replies. The agent answers tool calls in one of
 * three shapes: a plain JSON-RPC envelope, the same envelope framed as a
 * server-sent-event stream, or an envelope whose result is a list of content parts
 * carrying a human-readable status line. Every shape is reduced to one Result.
 *
 * @notes
 * - Normalize is a pure function of its input: the same reply always yields the
 *   same Result.
 * - Free-text classification is heuristic and kept in this file only.
 */
package agentclient

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// Status is the normalized outcome reported by the settlement agent.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusQueued  Status = "queued"
)

// Result is the uniform record produced from any agent reply shape.
type Result struct {
	TransactionID string `json:"transactionId,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	Status        Status `json:"status"`
	Message       string `json:"message,omitempty"`
	Raw           string `json:"raw"`
}

// Err converts the result into the error a caller should surface, or nil when the
// reply proves settlement. Success and queued replies without a transaction id
// are unparsable: a payment is never reported without proof.
func (r *Result) Err() error {
	switch r.Status {
	case StatusError:
		msg := r.Message
		if msg == "" {
			msg = "settlement agent reported an error"
		}
		return &domain.PaymentError{Kind: domain.KindSettlementFailed, Message: msg}
	case StatusSuccess, StatusQueued:
		if r.TransactionID == "" {
			return &domain.PaymentError{
				Kind:    domain.KindUnparsableResponse,
				Message: fmt.Sprintf("%s reply carried no transaction id", r.Status),
				Body:    r.Raw,
			}
		}
		return nil
	default:
		return &domain.PaymentError{Kind: domain.KindUnparsableResponse, Message: "unknown reply status", Body: r.Raw}
	}
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	transactionIDPattern = regexp.MustCompile(`(?i)\b(?:transaction|tx)\s*[-_ ]?(?:id|hash)\s*[:=]\s*["'` + "`" + `]?([A-Za-z0-9_\-]+)`)

	successMarkers = []string{"✅", "success", "completed", "confirmed"}
	failureMarkers = []string{"❌", "error", "failed", "failure", "insufficient", "unsuccessful", "rejected", "denied"}
	queuedMarkers  = []string{"queued", "pending", "submitted", "processing"}

	// negatedPattern matches a success marker under a negation, which reads as a failure.
	negatedPattern = regexp.MustCompile(`\bunsuccessful(?:ly)?\b|\b(?:not|never|cannot|could not(?: be)?|couldn't(?: be)?|was not|wasn't|has not been|hasn't been|not yet)\s+(?:been\s+|be\s+)?(?:successful(?:ly)?|success|completed?|confirmed?)\b`)

	transactionIDKeys = []string{"transactionId", "transaction_id", "transactionHash", "txHash", "tx_hash", "hash"}
	recipientKeys     = []string{"recipient", "to"}
)

// IsEventStream reports whether a content type denotes SSE framing.
func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

// Normalize parses a raw agent reply into a Result. The content type selects the
// parser; a body that looks SSE-framed is scanned as SSE regardless of the header.
func Normalize(contentType string, body []byte) (*Result, error) {
	raw := strings.TrimSpace(string(body))
	var (
		env *rpcEnvelope
		err error
	)
	if IsEventStream(contentType) || looksLikeEventStream(raw) {
		env, err = envelopeFromEventStream(raw)
	} else {
		env, err = envelopeFromJSON([]byte(raw))
	}
	if err != nil {
		return nil, &domain.PaymentError{Kind: domain.KindUnparsableResponse, Message: err.Error(), Body: raw, Err: err}
	}

	result := &Result{Raw: raw}
	if env.Error != nil {
		result.Status = StatusError
		result.Message = strings.TrimSpace(env.Error.Message)
		if result.Message == "" {
			result.Message = fmt.Sprintf("agent error code %d", env.Error.Code)
		}
		return result, nil
	}

	if err := fillFromResult(result, env.Result); err != nil {
		return nil, &domain.PaymentError{Kind: domain.KindUnparsableResponse, Message: err.Error(), Body: raw, Err: err}
	}
	return result, nil
}

func looksLikeEventStream(raw string) bool {
	return strings.HasPrefix(raw, "event:") || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "id:")
}

func envelopeFromJSON(body []byte) (*rpcEnvelope, error) {
	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed reply envelope: %w", err)
	}
	if !hasPayload(&env) {
		return nil, fmt.Errorf("reply envelope has neither result nor error")
	}
	return &env, nil
}

// envelopeFromEventStream scans SSE frames and returns the last frame whose data
// decodes to an envelope carrying a result or an error. Non-JSON data is skipped.
func envelopeFromEventStream(raw string) (*rpcEnvelope, error) {
	var (
		found *rpcEnvelope
		data  []string
	)
	flush := func() {
		if len(data) == 0 {
			return
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		var env rpcEnvelope
		if json.Unmarshal([]byte(payload), &env) == nil && hasPayload(&env) {
			found = &env
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event stream: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("event stream carried no result or error frame")
	}
	return found, nil
}

func hasPayload(env *rpcEnvelope) bool {
	if env.Error != nil {
		return true
	}
	trimmed := bytes.TrimSpace(env.Result)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func fillFromResult(result *Result, payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("malformed result string: %w", err)
		}
		applyText(result, text, nil)
		return nil
	}

	fields, err := decodeObject(trimmed)
	if err != nil {
		return fmt.Errorf("malformed result object: %w", err)
	}

	applyFields(result, fields)
	if structured, ok := fields["structuredContent"].(map[string]any); ok {
		applyFields(result, structured)
	}

	var texts []string
	if rawParts, ok := fields["content"]; ok {
		encoded, _ := json.Marshal(rawParts)
		var parts []contentPart
		if json.Unmarshal(encoded, &parts) == nil {
			for _, part := range parts {
				if part.Type != "text" {
					continue
				}
				text := strings.TrimSpace(part.Text)
				if text == "" {
					continue
				}
				if strings.HasPrefix(text, "{") {
					if obj, err := decodeObject([]byte(text)); err == nil {
						applyFields(result, obj)
						continue
					}
				}
				texts = append(texts, text)
			}
		}
	}
	if msg, ok := fields["message"].(string); ok && strings.TrimSpace(msg) != "" {
		texts = append(texts, strings.TrimSpace(msg))
	}

	isError, _ := fields["isError"].(bool)
	applyText(result, strings.Join(texts, "\n"), &isError)
	return nil
}

// applyText settles the status and message once every structured field is known.
func applyText(result *Result, text string, isError *bool) {
	if text != "" && result.Message == "" {
		result.Message = text
	}
	if result.TransactionID == "" && text != "" {
		if m := transactionIDPattern.FindStringSubmatch(text); len(m) == 2 {
			result.TransactionID = m[1]
		}
	}

	switch {
	case isError != nil && *isError:
		result.Status = StatusError
	case result.Status != "":
	case text != "":
		result.Status = ClassifyText(text)
	case result.TransactionID != "":
		result.Status = StatusSuccess
	}
}

func applyFields(result *Result, fields map[string]any) {
	if result.TransactionID == "" {
		result.TransactionID = firstString(fields, transactionIDKeys)
	}
	if result.Recipient == "" {
		result.Recipient = firstString(fields, recipientKeys)
	}
	if result.Amount == "" {
		result.Amount = firstString(fields, []string{"amount"})
	}
	if result.Status == "" {
		if s, ok := fields["status"].(string); ok {
			result.Status = statusFromField(s)
		}
	}
	if result.Message == "" {
		if e, ok := fields["error"].(string); ok && strings.TrimSpace(e) != "" {
			result.Message = strings.TrimSpace(e)
			result.Status = StatusError
		}
	}
}

func statusFromField(value string) Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "success", "succeeded", "completed", "complete", "confirmed", "settled", "ok":
		return StatusSuccess
	case "error", "failed", "failure", "rejected", "cancelled", "canceled":
		return StatusError
	case "queued", "pending", "submitted", "processing":
		return StatusQueued
	}
	return ""
}

// ClassifyText applies the free-text heuristic. Success markers win over failure
// markers, but only once negated phrases such as "could not be confirmed" are
// removed; a text with neither but a queued marker is queued. Anything else has
// no status.
func ClassifyText(text string) Status {
	lower := strings.ToLower(text)
	if containsAny(negatedPattern.ReplaceAllString(lower, ""), successMarkers) {
		return StatusSuccess
	}
	if containsAny(lower, failureMarkers) {
		return StatusError
	}
	if containsAny(lower, queuedMarkers) {
		return StatusQueued
	}
	return ""
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func decodeObject(data []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return fields, nil
}

func firstString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
