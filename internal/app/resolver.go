package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// Resolver picks the settlement route for a payment. It is a pure function of
// the listing and the request.
type Resolver struct {
	// PaywallBaseURL is used to build a challenge endpoint when a request asks
	// for the challenge method without naming one.
	PaywallBaseURL string
}

// NewResolver creates a resolver.
func NewResolver(paywallBaseURL string) *Resolver {
	return &Resolver{PaywallBaseURL: strings.TrimRight(strings.TrimSpace(paywallBaseURL), "/")}
}

// Resolve chooses exactly one settlement method. Email identities never
// receive funds.
func (r *Resolver) Resolve(listing *domain.Listing, req domain.PaymentRequest) (domain.ResolvedMethod, error) {
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(req.Method))))
	recipient := strings.TrimSpace(req.Recipient)
	endpoint := strings.TrimSpace(req.Endpoint)

	if method == domain.MethodEmail || (method != domain.MethodChallenge && domain.IsEmail(recipient)) {
		return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindInvalidRecipientKind, "email identities cannot receive funds", nil)
	}

	switch method {
	case domain.MethodAddress:
		if recipient == "" {
			recipient = listing.Identities.Address
		}
		if recipient == "" {
			return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindNoReceivingIdentity, "listing has no address identity", nil)
		}
		if !domain.IsAddress(recipient) {
			return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindValidation, fmt.Sprintf("recipient %q is not a valid address", recipient), nil)
		}
		return domain.ResolvedMethod{Method: domain.MethodAddress, Recipient: domain.NormalizeAddress(recipient)}, nil

	case domain.MethodContact:
		if recipient == "" {
			recipient = listing.Identities.Contact
		}
		if recipient == "" {
			return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindNoReceivingIdentity, "listing has no contact identity", nil)
		}
		return domain.ResolvedMethod{Method: domain.MethodContact, Recipient: recipient}, nil

	case domain.MethodChallenge:
		return r.challenge(listing, recipient, endpoint)

	case "":
		// An explicit recipient without a method is routed by its shape.
		if recipient != "" {
			if domain.IsAddress(recipient) {
				return domain.ResolvedMethod{Method: domain.MethodAddress, Recipient: domain.NormalizeAddress(recipient)}, nil
			}
			if strings.HasPrefix(recipient, "0x") {
				return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindValidation, fmt.Sprintf("recipient %q is not a valid address", recipient), nil)
			}
			return domain.ResolvedMethod{Method: domain.MethodContact, Recipient: recipient}, nil
		}
		return r.auto(listing, endpoint)

	default:
		return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindValidation, fmt.Sprintf("unknown payment method %q", req.Method), nil)
	}
}

func (r *Resolver) auto(listing *domain.Listing, endpoint string) (domain.ResolvedMethod, error) {
	if listing.Identities.Address != "" && domain.IsAddress(listing.Identities.Address) {
		return domain.ResolvedMethod{Method: domain.MethodAddress, Recipient: domain.NormalizeAddress(listing.Identities.Address)}, nil
	}
	if listing.Identities.Contact != "" {
		return domain.ResolvedMethod{Method: domain.MethodContact, Recipient: listing.Identities.Contact}, nil
	}
	if endpoint != "" {
		return r.challenge(listing, "", endpoint)
	}
	return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindNoReceivingIdentity, fmt.Sprintf("listing %s has no identity that can receive funds", listing.ID), nil)
}

func (r *Resolver) challenge(listing *domain.Listing, recipient, endpoint string) (domain.ResolvedMethod, error) {
	if endpoint == "" {
		if r.PaywallBaseURL == "" {
			return domain.ResolvedMethod{}, domain.NewPaymentError(domain.KindValidation, "challenge payments need a resource endpoint", nil)
		}
		endpoint = r.PaywallBaseURL + "/listings/" + url.PathEscape(listing.ID) + "/access"
	}
	if recipient == "" {
		recipient = listing.Identities.Address
	}
	if recipient != "" && domain.IsAddress(recipient) {
		recipient = domain.NormalizeAddress(recipient)
	}
	return domain.ResolvedMethod{Method: domain.MethodChallenge, Recipient: recipient, Endpoint: endpoint}, nil
}
