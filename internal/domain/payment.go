/**
 * @description
 * Payment requests and results as seen by the executor and the batch
 * coordinator, plus the settlement routes a listing can resolve to.
 *
 * @notes
 * - A successful PaymentResult always carries a transaction id.
 * - SenderCredential is never serialized.
 */

package domain

import (
	"github.com/shopspring/decimal"
)

// PaymentMethod selects how a payment is settled.
type PaymentMethod string

const (
	// MethodAddress is a direct ledger-address transfer.
	MethodAddress PaymentMethod = "address"
	// MethodContact is an agent-to-agent transfer addressed by contact key.
	MethodContact PaymentMethod = "contact"
	// MethodEmail is an escrow transfer addressed by email.
	MethodEmail PaymentMethod = "email"
	// MethodChallenge is the pay-per-request challenge/response flow.
	MethodChallenge PaymentMethod = "challenge"
)

// Valid reports whether m is one of the known methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodAddress, MethodContact, MethodEmail, MethodChallenge:
		return true
	}
	return false
}

// PaymentRequest is the input to the payment executor.
type PaymentRequest struct {
	ListingID string          `json:"listingId"`
	TierID    string          `json:"tierId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	// Endpoint is the pay-per-request resource, used only by the challenge method.
	Endpoint         string `json:"endpoint,omitempty"`
	SenderCredential string `json:"-"`
}

// PaymentResult is the per-item outcome of a payment.
// Success implies a non-empty TransactionID.
type PaymentResult struct {
	ListingID     string          `json:"listingId"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method,omitempty"`
	Success       bool            `json:"success"`
	TransactionID string          `json:"transactionId,omitempty"`
	Error         *PaymentError   `json:"error,omitempty"`
}

// BatchReport aggregates the results of an ordered list of payments.
type BatchReport struct {
	Results      []PaymentResult `json:"results"`
	TotalSettled decimal.Decimal `json:"totalSettled"`
	SuccessCount int             `json:"successCount"`
	FailureCount int             `json:"failureCount"`
}

// TransactionIDs returns the ids of the successful results, in input order.
func (r *BatchReport) TransactionIDs() []string {
	ids := make([]string, 0, r.SuccessCount)
	for _, result := range r.Results {
		if result.Success {
			ids = append(ids, result.TransactionID)
		}
	}
	return ids
}

// ResolvedMethod is the settlement route chosen for a payment.
type ResolvedMethod struct {
	Method    PaymentMethod
	Recipient string
	Endpoint  string
}

// BatchPaymentItem mirrors one entry of the batch payment request body.
type BatchPaymentItem struct {
	ProjectID       string          `json:"projectId"`
	TierID          string          `json:"tierId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	ProjectEndpoint string          `json:"projectEndpoint,omitempty"`
	Recipient       string          `json:"recipient,omitempty"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod,omitempty"`
}

// BatchPaymentRequest is the body of POST /payments/batch.
type BatchPaymentRequest struct {
	Investments      []BatchPaymentItem `json:"investments"`
	SenderCredential string             `json:"senderCredential"`
}

// SinglePaymentRequest is the body of POST /payments.
type SinglePaymentRequest struct {
	BatchPaymentItem
	SenderCredential string `json:"senderCredential"`
}

// ToPaymentRequest converts a batch item into an executor request.
func (i BatchPaymentItem) ToPaymentRequest(credential string) PaymentRequest {
	return PaymentRequest{
		ListingID:        i.ProjectID,
		TierID:           i.TierID,
		Amount:           i.Amount,
		Method:           i.PaymentMethod,
		Recipient:        i.Recipient,
		Endpoint:         i.ProjectEndpoint,
		SenderCredential: credential,
	}
}
