/**
 * @description
 * Client for the external scoring service, which ranks listings against a
 * buyer's free-text intent. The service is a black box: it receives the intent
 * and candidate listings and returns a score, a match reason and a suggested
 * pledge amount per listing.
 *
 * @dependencies
 * - github.com/go-resty/resty/v2: HTTP client.
 * - github.com/shopspring/decimal: Suggested amounts.
 */
package scoringclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var ErrNotConfigured = errors.New("scoring service is not configured")

// Candidate is one listing offered to the scorer.
type Candidate struct {
	ListingID   string          `json:"listingId"`
	Title       string          `json:"title"`
	FundingGoal decimal.Decimal `json:"fundingGoal"`
	Raised      decimal.Decimal `json:"amountRaised"`
}

// ScoreRequest is the body sent to the scoring service.
type ScoreRequest struct {
	Intent   string      `json:"intent"`
	Listings []Candidate `json:"listings"`
}

// Score is the scorer's verdict on one listing.
type Score struct {
	ListingID       string          `json:"listingId"`
	Score           float64         `json:"score"`
	MatchReason     string          `json:"matchReason"`
	SuggestedAmount decimal.Decimal `json:"suggestedAmount"`
}

type scoreResponse struct {
	Results []Score `json:"results"`
}

// Client talks to the scoring service.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a scoring client. An empty baseURL yields a client whose
// calls fail with ErrNotConfigured.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := resty.New()
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("Accept", "application/json")
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
	}
}

// Score ranks candidates against intent.
func (c *Client) Score(ctx context.Context, req ScoreRequest) ([]Score, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var out scoreResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(c.baseURL + "/score")
	if err != nil {
		return nil, fmt.Errorf("failed to call scoring service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.Results == nil {
		return []Score{}, nil
	}
	return out.Results, nil
}
