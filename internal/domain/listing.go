/**
 * @description
 * This file defines the ledger-side domain models: listings, their reward tiers,
 * receiving identities, and comments. These are the records owned by the
 * LedgerStateStore and pushed to realtime viewers.
 *
 * @notes
 * - Monetary values use shopspring/decimal so that pledges such as "0.10" are
 *   carried exactly; conversion to the settlement agent's smallest unit happens
 *   only at the settlement boundary.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is a minimum-pledge reward bracket within a listing.
type Tier struct {
	ID      string          `json:"id"`
	Amount  decimal.Decimal `json:"amount"`
	Rewards []string        `json:"rewards"`
}

// ReceivingIdentities holds the identities a listing can be reached under.
// Only the address and contact identities can receive settlement; the email
// identity is a contact channel.
type ReceivingIdentities struct {
	Address string `json:"addressIdentity,omitempty"`
	Contact string `json:"contactIdentity,omitempty"`
	Email   string `json:"emailIdentity,omitempty"`
}

// Listing is a crowdfunding-style offer.
type Listing struct {
	ID           string              `json:"id"`
	CreatorID    string              `json:"creatorId"`
	Title        string              `json:"title"`
	FundingGoal  decimal.Decimal     `json:"fundingGoal"`
	AmountRaised decimal.Decimal     `json:"amountRaised"`
	Backers      int                 `json:"backers"`
	Tiers        []Tier              `json:"tiers"`
	Identities   ReceivingIdentities `json:"identities"`
	// SettledTierIDs lists tiers referenced by at least one settled payment.
	SettledTierIDs []string  `json:"settledTierIds,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FindTier returns the tier with the given id.
func (l *Listing) FindTier(tierID string) (*Tier, bool) {
	for i := range l.Tiers {
		if l.Tiers[i].ID == tierID {
			return &l.Tiers[i], true
		}
	}
	return nil, false
}

// TierSettled reports whether a settled payment references the tier.
func (l *Listing) TierSettled(tierID string) bool {
	for _, id := range l.SettledTierIDs {
		if id == tierID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so that subscribers never share slices with the store.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	cloned := *l
	cloned.Tiers = make([]Tier, len(l.Tiers))
	for i, tier := range l.Tiers {
		cloned.Tiers[i] = tier
		cloned.Tiers[i].Rewards = append([]string(nil), tier.Rewards...)
	}
	cloned.SettledTierIDs = append([]string(nil), l.SettledTierIDs...)
	return &cloned
}

// Comment is an append-only remark on a listing.
type Comment struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listingId"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateListingRequest is the DTO the listing-management collaborator pushes.
type CreateListingRequest struct {
	ID          string              `json:"id"`
	CreatorID   string              `json:"creatorId"`
	Title       string              `json:"title"`
	FundingGoal decimal.Decimal     `json:"fundingGoal"`
	Tiers       []Tier              `json:"tiers"`
	Identities  ReceivingIdentities `json:"identities"`
}

// UpdateListingRequest replaces the mutable listing fields.
// AmountRaised and Backers are only honoured when AdminCorrection is set.
type UpdateListingRequest struct {
	Title           *string              `json:"title,omitempty"`
	FundingGoal     *decimal.Decimal     `json:"fundingGoal,omitempty"`
	Tiers           []Tier               `json:"tiers,omitempty"`
	Identities      *ReceivingIdentities `json:"identities,omitempty"`
	AdminCorrection bool                 `json:"adminCorrection,omitempty"`
	AmountRaised    *decimal.Decimal     `json:"amountRaised,omitempty"`
	Backers         *int                 `json:"backers,omitempty"`
}

// AddCommentRequest is the DTO for posting a comment.
type AddCommentRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}
