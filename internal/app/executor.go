/**
 * @description
 * This file contains the payment executor, the single entry point for one
 * logical payment. It resolves the settlement route for a listing, settles
 * through the payment agent (directly, or through the challenge flow for
 * pay-per-request resources) and credits the ledger once money has moved.
 *
 * Key features:
 * - Never panics and never returns an error: every failure becomes a
 *   PaymentResult with a populated error.
 * - Converts amounts to the agent's smallest settlement unit.
 * - Retries exactly once, after a fixed backoff, when the agent rate-limits us.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Amount arithmetic.
 * - internal/store: Listing lookup errors.
 * - pkg/agentclient, pkg/paywall: Settlement transports.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
	"github.com/shlawgathon/wishlist-sub000/internal/metrics"
	"github.com/shlawgathon/wishlist-sub000/internal/store"
	"github.com/shlawgathon/wishlist-sub000/pkg/agentclient"
	"github.com/shlawgathon/wishlist-sub000/pkg/paywall"
)

const creditTimeout = 10 * time.Second

// ToolCaller invokes one settlement tool on the payment agent.
type ToolCaller interface {
	CallTool(ctx context.Context, credential, toolName string, args map[string]any) (*agentclient.Result, error)
}

// ChallengePayer runs the pay-per-request challenge flow.
type ChallengePayer interface {
	Pay(ctx context.Context, req paywall.Request, settler paywall.Settler) (*paywall.Outcome, error)
}

// Ledger is the part of the ledger store the executor needs.
type Ledger interface {
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
	AddFunding(ctx context.Context, listingID string, amount decimal.Decimal, tierID string) (*domain.Listing, error)
}

// ExecutorConfig carries the settlement parameters of an Executor.
type ExecutorConfig struct {
	// Decimals is the number of fractional digits of the settlement unit.
	Decimals int32
	Currency string
	// RateLimitBackoff is the wait before the single retry of a rate-limited call.
	RateLimitBackoff time.Duration
}

// Executor settles one payment at a time.
type Executor struct {
	ledger     Ledger
	resolver   *Resolver
	agent      ToolCaller
	challenges ChallengePayer
	cfg        ExecutorConfig

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a payment executor.
func NewExecutor(ledger Ledger, resolver *Resolver, agent ToolCaller, challenges ChallengePayer, cfg ExecutorConfig) *Executor {
	if cfg.Decimals < 0 {
		cfg.Decimals = 6
	}
	return &Executor{
		ledger:     ledger,
		resolver:   resolver,
		agent:      agent,
		challenges: challenges,
		cfg:        cfg,
		sleep:      sleepContext,
	}
}

// Execute settles req and reports the outcome. It never panics.
func (e *Executor) Execute(ctx context.Context, req domain.PaymentRequest) (result domain.PaymentResult) {
	result = domain.PaymentResult{
		ListingID: strings.TrimSpace(req.ListingID),
		Amount:    req.Amount,
		Method:    req.Method,
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("level=error component=executor listing_id=%s msg=\"payment panicked\" panic=%v", result.ListingID, r)
			result.Success = false
			result.TransactionID = ""
			result.Error = domain.NewPaymentError(domain.KindSettlementFailed, "internal error while settling payment", nil)
		}
		outcome := "success"
		if !result.Success {
			outcome = "failed"
			if result.Error != nil {
				outcome = string(result.Error.Kind)
			}
		}
		metrics.Payments().RecordPayment(string(result.Method), outcome)
	}()

	fail := func(err error) domain.PaymentResult {
		pe := domain.AsPaymentError(err)
		log.Printf("level=warn component=executor listing_id=%s method=%s amount=%s outcome=failed kind=%s msg=%q", result.ListingID, result.Method, req.Amount, pe.Kind, pe.Message)
		result.Success = false
		result.Error = pe
		return result
	}

	if result.ListingID == "" {
		return fail(domain.NewPaymentError(domain.KindValidation, "listing id is required", nil))
	}
	if !req.Amount.IsPositive() {
		return fail(domain.NewPaymentError(domain.KindValidation, "amount must be positive", nil))
	}
	if strings.TrimSpace(req.SenderCredential) == "" {
		return fail(domain.NewPaymentError(domain.KindAuth, "sender credential is required", nil))
	}

	listing, err := e.ledger.GetListing(ctx, result.ListingID)
	if err != nil {
		if errors.Is(err, store.ErrListingNotFound) {
			return fail(domain.NewPaymentError(domain.KindNotFound, fmt.Sprintf("listing %s not found", result.ListingID), err))
		}
		return fail(domain.NewPaymentError(domain.KindLedger, "failed to load listing", err))
	}

	if tierID := strings.TrimSpace(req.TierID); tierID != "" {
		tier, ok := listing.FindTier(tierID)
		if !ok {
			return fail(domain.NewPaymentError(domain.KindValidation, fmt.Sprintf("listing %s has no tier %q", listing.ID, tierID), nil))
		}
		if req.Amount.LessThan(tier.Amount) {
			return fail(domain.NewPaymentError(domain.KindValidation, fmt.Sprintf("amount %s is below the tier minimum %s", req.Amount, tier.Amount), nil))
		}
	}

	resolved, err := e.resolver.Resolve(listing, req)
	if err != nil {
		return fail(err)
	}
	result.Method = resolved.Method

	var txID string
	switch resolved.Method {
	case domain.MethodChallenge:
		txID, err = e.settleChallenge(ctx, req, resolved)
	default:
		txID, err = e.settleDirect(ctx, req.SenderCredential, resolved.Method, resolved.Recipient, req.Amount)
	}
	if err != nil {
		return fail(err)
	}
	if strings.TrimSpace(txID) == "" {
		return fail(domain.NewPaymentError(domain.KindUnparsableResponse, "settlement returned no transaction id", nil))
	}

	result.Success = true
	result.TransactionID = txID
	log.Printf("level=info component=executor listing_id=%s method=%s amount=%s transaction_id=%s outcome=settled", listing.ID, resolved.Method, req.Amount, txID)

	// Money has moved; the credit must outlive the caller's request.
	creditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), creditTimeout)
	defer cancel()
	if _, err := e.ledger.AddFunding(creditCtx, listing.ID, req.Amount, req.TierID); err != nil {
		log.Printf("level=error component=executor listing_id=%s transaction_id=%s amount=%s msg=\"settled payment was not credited to the ledger\" err=%v", listing.ID, txID, req.Amount, err)
	}
	return result
}

func (e *Executor) settleChallenge(ctx context.Context, req domain.PaymentRequest, resolved domain.ResolvedMethod) (string, error) {
	if e.challenges == nil {
		return "", domain.NewPaymentError(domain.KindSettlementFailed, "challenge payments are not configured", nil)
	}
	settler := paywall.SettlerFunc(func(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
		return e.settleDirect(ctx, req.SenderCredential, domain.MethodAddress, recipient, amount)
	})
	outcome, err := e.challenges.Pay(ctx, paywall.Request{
		Endpoint:          resolved.Endpoint,
		Amount:            req.Amount,
		FallbackRecipient: resolved.Recipient,
	}, settler)
	if err != nil {
		return "", err
	}
	if outcome == nil || !outcome.Settled {
		return "", domain.NewPaymentError(domain.KindNoPaymentRequired, "resource granted access without a settlement", nil)
	}
	return outcome.TransactionID, nil
}

// settleDirect converts amount to the settlement unit and calls the tool for
// method, retrying once after a backoff when rate-limited.
func (e *Executor) settleDirect(ctx context.Context, credential string, method domain.PaymentMethod, recipient string, amount decimal.Decimal) (string, error) {
	if e.agent == nil {
		return "", domain.NewPaymentError(domain.KindSettlementFailed, "payment agent is not configured", nil)
	}
	units, err := ToSmallestUnit(amount, e.cfg.Decimals)
	if err != nil {
		return "", err
	}
	tool, args, err := SettlementArguments(method, recipient, units)
	if err != nil {
		return "", err
	}
	if e.cfg.Currency != "" {
		args["currency"] = e.cfg.Currency
	}

	res, err := e.agent.CallTool(ctx, credential, tool, args)
	if domain.KindOf(err) == domain.KindRateLimited {
		log.Printf("level=warn component=executor tool=%s recipient=%s msg=\"payment agent rate limited; retrying once\" backoff=%s", tool, recipient, e.cfg.RateLimitBackoff)
		if serr := e.sleep(ctx, e.cfg.RateLimitBackoff); serr != nil {
			return "", domain.NewPaymentError(domain.KindRateLimited, "cancelled while waiting to retry", serr)
		}
		res, err = e.agent.CallTool(ctx, credential, tool, args)
	}
	if err != nil {
		return "", err
	}
	if res == nil || strings.TrimSpace(res.TransactionID) == "" {
		return "", domain.NewPaymentError(domain.KindUnparsableResponse, "settlement returned no transaction id", nil)
	}
	return res.TransactionID, nil
}

// SettlementArguments builds the tool name and argument shape for a direct
// settlement. units is the amount in the smallest settlement unit.
func SettlementArguments(method domain.PaymentMethod, recipient, units string) (string, map[string]any, error) {
	recipient = strings.TrimSpace(recipient)
	switch method {
	case domain.MethodAddress:
		if !domain.IsAddress(recipient) {
			return "", nil, domain.NewPaymentError(domain.KindInvalidRecipient, fmt.Sprintf("recipient %q is not a valid address", recipient), nil)
		}
		return agentclient.ToolSendPayment, map[string]any{"to": recipient, "amount": units}, nil
	case domain.MethodContact:
		if recipient == "" {
			return "", nil, domain.NewPaymentError(domain.KindInvalidRecipient, "contact recipient is required", nil)
		}
		return agentclient.ToolSendToAgent, map[string]any{"agentId": recipient, "amount": units}, nil
	case domain.MethodEmail:
		if !domain.IsEmail(recipient) {
			return "", nil, domain.NewPaymentError(domain.KindInvalidRecipient, fmt.Sprintf("recipient %q is not a valid email", recipient), nil)
		}
		return agentclient.ToolSendToEmail, map[string]any{"email": recipient, "amount": units}, nil
	default:
		return "", nil, domain.NewPaymentError(domain.KindValidation, fmt.Sprintf("method %q cannot be settled directly", method), nil)
	}
}

// ToSmallestUnit renders amount as an integer count of settlement units.
func ToSmallestUnit(amount decimal.Decimal, decimals int32) (string, error) {
	units := amount.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return "", domain.NewPaymentError(domain.KindValidation, fmt.Sprintf("amount %s has more than %d decimal places", amount, decimals), nil)
	}
	if !units.IsPositive() {
		return "", domain.NewPaymentError(domain.KindValidation, "amount must be positive", nil)
	}
	return units.Truncate(0).String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
