/**
 * @description
 * This package implements the caller side of the pay-per-request challenge flow.
 * A protected resource rejects an unpaid request with a payment challenge; the
 * client settles out-of-band through a Settler and retries the request carrying
 * a proof-of-settlement header.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Payment amounts.
 *
 * @notes
 * - The amount settled is always the caller's amount. The amount advertised in a
 *   challenge is only logged.
 */
package paywall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// Challenge and proof headers.
const (
	HeaderPaymentRequired  = "X-Payment-Required"
	HeaderPaymentAmount    = "X-Payment-Amount"
	HeaderPaymentCurrency  = "X-Payment-Currency"
	HeaderPaymentRecipient = "X-Payment-Recipient"
	HeaderPaymentScheme    = "X-Payment-Scheme"
	HeaderPaymentProof     = "X-Payment"
)

// SchemeDirect marks a settlement made without a challenge.
const SchemeDirect = "direct"

// State is a step of the challenge flow.
type State string

const (
	StateProbing           State = "probing"
	StateChallengeReceived State = "challenge_received"
	StateSettling          State = "settling"
	StateRetrying          State = "retrying"
	StateVerified          State = "verified"
	StateFailed            State = "failed"
)

// Settler moves funds to a recipient and returns the transaction id proving it.
type Settler interface {
	Settle(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)
}

// SettlerFunc adapts a function to the Settler interface.
type SettlerFunc func(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)

// Settle calls f.
func (f SettlerFunc) Settle(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	return f(ctx, recipient, amount)
}

// Request describes one paid access attempt.
type Request struct {
	Endpoint string
	Amount   decimal.Decimal
	// FallbackRecipient is settled to directly when the endpoint does not exist.
	FallbackRecipient string
}

// Outcome reports how a challenge flow ended.
type Outcome struct {
	State         State
	TransactionID string
	Requirements  *Requirements
	// Settled is true when a settlement call succeeded.
	Settled bool
	// Trail lists every state entered, in order.
	Trail []State
}

// Proof is the proof-of-settlement token carried on the retry.
type Proof struct {
	Scheme          string `json:"scheme"`
	TransactionHash string `json:"transactionHash"`
	Timestamp       int64  `json:"timestamp"`
}

// Client runs the challenge flow against protected resources.
type Client struct {
	HTTPClient *http.Client
	// Now is the clock used for proof timestamps.
	Now func() time.Time
}

// NewClient creates a new challenge client.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		Now:        time.Now,
	}
}

// Pay drives a request through probe, challenge, settlement and proof retry,
// settling through settler. On failure the returned Outcome is in StateFailed and
// the error is a *domain.PaymentError.
func (c *Client) Pay(ctx context.Context, req Request, settler Settler) (*Outcome, error) {
	outcome := &Outcome{}
	enter := func(s State) { outcome.State = s; outcome.Trail = append(outcome.Trail, s) }
	fail := func(err *domain.PaymentError) (*Outcome, error) {
		enter(StateFailed)
		log.Printf("level=warn component=paywall endpoint=%q outcome=failed kind=%s msg=%q", req.Endpoint, err.Kind, err.Message)
		return outcome, err
	}

	if strings.TrimSpace(req.Endpoint) == "" {
		return fail(domain.NewPaymentError(domain.KindValidation, "resource endpoint is required", nil))
	}
	if !req.Amount.IsPositive() {
		return fail(domain.NewPaymentError(domain.KindValidation, "amount must be positive", nil))
	}

	enter(StateProbing)
	resp, err := c.send(ctx, req.Endpoint, "")
	if err != nil {
		return fail(domain.NewPaymentError(domain.KindTransport, "failed to probe resource", err))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		enter(StateVerified)
		return outcome, nil

	case resp.StatusCode == http.StatusNotFound:
		recipient := strings.TrimSpace(req.FallbackRecipient)
		log.Printf("level=info component=paywall endpoint=%q msg=\"resource not found; settling directly\" recipient=%s", req.Endpoint, recipient)
		enter(StateSettling)
		txID, perr := settle(ctx, settler, recipient, req.Amount)
		if perr != nil {
			return fail(perr)
		}
		outcome.TransactionID = txID
		outcome.Settled = true
		outcome.Requirements = &Requirements{Amount: req.Amount.String(), Recipient: recipient, Scheme: SchemeDirect}
		enter(StateVerified)
		return outcome, nil

	case resp.StatusCode == http.StatusPaymentRequired || strings.EqualFold(resp.Header.Get(HeaderPaymentRequired), "true"):
		enter(StateChallengeReceived)
		requirements, err := ParseRequirements(resp.Header, body)
		if err != nil {
			return fail(domain.AsPaymentError(err))
		}
		outcome.Requirements = requirements
		if advertised, err := decimal.NewFromString(requirements.Amount); err == nil && !advertised.Equal(req.Amount) {
			log.Printf("level=info component=paywall endpoint=%q msg=\"settling caller amount instead of advertised amount\" advertised=%s amount=%s", req.Endpoint, advertised, req.Amount)
		}

		enter(StateSettling)
		txID, perr := settle(ctx, settler, requirements.Recipient, req.Amount)
		if perr != nil {
			return fail(perr)
		}
		outcome.TransactionID = txID
		outcome.Settled = true

		enter(StateRetrying)
		proof, err := c.buildProof(requirements.Scheme, txID)
		if err != nil {
			return fail(domain.NewPaymentError(domain.KindValidation, "failed to encode settlement proof", err))
		}
		retry, err := c.send(ctx, req.Endpoint, proof)
		if err != nil {
			return fail(domain.NewPaymentError(domain.KindTransport, "failed to retry resource with proof", err))
		}
		retryBody, _ := io.ReadAll(io.LimitReader(retry.Body, 1<<20))
		retry.Body.Close()
		if retry.StatusCode < 200 || retry.StatusCode >= 300 {
			return fail(&domain.PaymentError{
				Kind:    domain.KindProofRejected,
				Message: "resource rejected settlement proof",
				Status:  retry.StatusCode,
				Body:    string(retryBody),
			})
		}
		enter(StateVerified)
		return outcome, nil

	default:
		return fail(&domain.PaymentError{
			Kind:    domain.KindUnexpectedStatus,
			Message: fmt.Sprintf("unexpected probe status %d", resp.StatusCode),
			Status:  resp.StatusCode,
			Body:    string(body),
		})
	}
}

func settle(ctx context.Context, settler Settler, recipient string, amount decimal.Decimal) (string, *domain.PaymentError) {
	if !domain.IsAddress(recipient) {
		return "", domain.NewPaymentError(domain.KindInvalidRecipient, fmt.Sprintf("recipient %q is not a valid address", recipient), nil)
	}
	if settler == nil {
		return "", domain.NewPaymentError(domain.KindSettlementFailed, "no settler configured", nil)
	}
	txID, err := settler.Settle(ctx, recipient, amount)
	if err != nil {
		return "", domain.AsPaymentError(err)
	}
	if strings.TrimSpace(txID) == "" {
		return "", domain.NewPaymentError(domain.KindUnparsableResponse, "settlement returned no transaction id", nil)
	}
	return txID, nil
}

func (c *Client) buildProof(scheme, txID string) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	encoded, err := json.Marshal(Proof{
		Scheme:          scheme,
		TransactionHash: txID,
		Timestamp:       now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (c *Client) send(ctx context.Context, endpoint, proof string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if proof != "" {
		req.Header.Set(HeaderPaymentProof, proof)
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return httpClient.Do(req)
}
