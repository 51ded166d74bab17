package paywall

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// Requirements are the settlement terms extracted from a challenge. All four
// fields are required before settlement proceeds.
type Requirements struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Recipient string `json:"recipient"`
	Scheme    string `json:"scheme"`
}

func (r *Requirements) complete() bool {
	return r.Amount != "" && r.Currency != "" && r.Recipient != "" && r.Scheme != ""
}

func (r *Requirements) missing() []string {
	var fields []string
	if r.Amount == "" {
		fields = append(fields, "amount")
	}
	if r.Currency == "" {
		fields = append(fields, "currency")
	}
	if r.Recipient == "" {
		fields = append(fields, "recipient")
	}
	if r.Scheme == "" {
		fields = append(fields, "scheme")
	}
	return fields
}

// challengeBody is the JSON form of a challenge, as served by x402-style paywalls.
type challengeBody struct {
	Accepts []struct {
		Scheme            string `json:"scheme"`
		Network           string `json:"network"`
		Amount            string `json:"amount"`
		MaxAmountRequired string `json:"maxAmountRequired"`
		Asset             string `json:"asset"`
		Currency          string `json:"currency"`
		PayTo             string `json:"payTo"`
	} `json:"accepts"`
}

// ParseRequirements reads challenge terms from the X-Payment-* headers, filling
// gaps from the first entry of an x402-style JSON body.
func ParseRequirements(header http.Header, body []byte) (*Requirements, error) {
	req := &Requirements{
		Amount:    strings.TrimSpace(header.Get(HeaderPaymentAmount)),
		Currency:  strings.TrimSpace(header.Get(HeaderPaymentCurrency)),
		Recipient: strings.TrimSpace(header.Get(HeaderPaymentRecipient)),
		Scheme:    strings.TrimSpace(header.Get(HeaderPaymentScheme)),
	}

	if !req.complete() && len(body) > 0 {
		var parsed challengeBody
		if json.Unmarshal(body, &parsed) == nil && len(parsed.Accepts) > 0 {
			first := parsed.Accepts[0]
			if req.Amount == "" {
				req.Amount = firstNonEmpty(first.Amount, first.MaxAmountRequired)
			}
			if req.Currency == "" {
				req.Currency = firstNonEmpty(first.Currency, first.Asset)
			}
			if req.Recipient == "" {
				req.Recipient = strings.TrimSpace(first.PayTo)
			}
			if req.Scheme == "" {
				req.Scheme = strings.TrimSpace(first.Scheme)
			}
		}
	}

	if !req.complete() {
		return nil, domain.NewPaymentError(
			domain.KindMissingRequirements,
			"challenge is missing "+strings.Join(req.missing(), ", "),
			nil,
		)
	}
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
