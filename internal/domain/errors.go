/**
 * @description
 * The payment error taxonomy. Every failure surfaced by the executor is a
 * PaymentError whose Kind callers switch on; upstream HTTP failures also carry
 * the status and body that were received.
 */

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies payment failures for programmatic handling.
type ErrorKind string

const (
	KindValidation           ErrorKind = "ValidationError"
	KindAuth                 ErrorKind = "AuthError"
	KindMissingCredential    ErrorKind = "MissingCredential"
	KindNotFound             ErrorKind = "NotFound"
	KindNoReceivingIdentity  ErrorKind = "NoReceivingIdentity"
	KindInvalidRecipientKind ErrorKind = "InvalidRecipientKind"
	KindInvalidRecipient     ErrorKind = "InvalidRecipient"
	KindTransport            ErrorKind = "TransportError"
	KindUnparsableResponse   ErrorKind = "UnparsableResponse"
	KindSettlementFailed     ErrorKind = "SettlementFailed"
	KindMissingRequirements  ErrorKind = "MissingRequirements"
	KindUnexpectedStatus     ErrorKind = "UnexpectedStatus"
	KindProofRejected        ErrorKind = "ProofRejected"
	KindRateLimited          ErrorKind = "RateLimited"
	KindLedger               ErrorKind = "LedgerError"
	// KindNoPaymentRequired marks a challenge resource that granted access
	// without a settlement, so there is no transaction to report.
	KindNoPaymentRequired ErrorKind = "NoPaymentRequired"
)

// PaymentError provides structured error information for a failed payment.
type PaymentError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Status and Body are populated for upstream HTTP failures.
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Err    error  `json:"-"`
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is matches another *PaymentError by kind, so errors.Is(err, &PaymentError{Kind: k}) works.
func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Status == 0
}

// NewPaymentError creates a PaymentError of the given kind.
func NewPaymentError(kind ErrorKind, message string, err error) *PaymentError {
	return &PaymentError{Kind: kind, Message: message, Err: err}
}

// TransportError creates the error surfaced for a non-2xx upstream reply.
func TransportError(status int, body string) *PaymentError {
	return &PaymentError{
		Kind:    KindTransport,
		Message: "settlement agent returned non-2xx status",
		Status:  status,
		Body:    body,
	}
}

// KindOf extracts the ErrorKind of err, defaulting to SettlementFailed.
func KindOf(err error) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindSettlementFailed
}

// AsPaymentError converts any error into a *PaymentError.
func AsPaymentError(err error) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	return &PaymentError{Kind: KindSettlementFailed, Message: err.Error(), Err: err}
}
