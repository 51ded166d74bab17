/**
 * @description
 * The ledger state store is the single mutation point for listing funding
 * totals and comment threads. Every mutation is written first and announced
 * second: notifiers only ever see state that has been persisted.
 *
 * @dependencies
 * - github.com/google/uuid: Listing and comment ids.
 * - github.com/shopspring/decimal: Funding amounts.
 * - internal/store: Persistence behind the store.
 */
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
	"github.com/shlawgathon/wishlist-sub000/internal/store"
)

var (
	ErrInvalidListing          = errors.New("invalid listing")
	ErrInvalidAmount           = errors.New("funding amount must be positive")
	ErrInvalidComment          = errors.New("invalid comment")
	ErrTierLocked              = errors.New("tier is referenced by a settled payment")
	ErrAdminCorrectionRequired = errors.New("funding totals can only be changed by admin correction")
)

// Notifier receives ledger events after a successful write.
type Notifier interface {
	Notify(ctx context.Context, event domain.LedgerEvent)
}

// Store owns listing state and announces every change.
type Store struct {
	repo   store.Repository
	origin string
	now    func() time.Time

	mu        sync.RWMutex
	nextID    int
	notifiers map[int]Notifier
}

// NewStore creates a ledger store. origin tags every emitted event with the
// writing instance.
func NewStore(repo store.Repository, origin string) *Store {
	return &Store{
		repo:      repo,
		origin:    origin,
		now:       func() time.Time { return time.Now().UTC() },
		notifiers: make(map[int]Notifier),
	}
}

// Register adds a notifier and returns a function that removes it.
func (s *Store) Register(n Notifier) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.notifiers[id] = n
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.notifiers, id)
	}
}

func (s *Store) notify(ctx context.Context, event domain.LedgerEvent) {
	event.Origin = s.origin
	event.OccurredAt = s.now()

	s.mu.RLock()
	notifiers := make([]Notifier, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		notifiers = append(notifiers, n)
	}
	s.mu.RUnlock()

	for _, n := range notifiers {
		n.Notify(ctx, event)
	}
}

func (s *Store) notifyListing(ctx context.Context, listing *domain.Listing) {
	s.notify(ctx, domain.LedgerEvent{
		Topic:     domain.ListingTopic(listing.ID),
		Type:      domain.EventUpdate,
		ListingID: listing.ID,
		Listing:   listing.Clone(),
	})
}

// GetListing returns the current listing snapshot.
func (s *Store) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	return s.repo.GetListing(ctx, listingID)
}

// ListComments returns a listing's comments in insertion order.
func (s *Store) ListComments(ctx context.Context, listingID string) ([]domain.Comment, error) {
	return s.repo.ListComments(ctx, listingID)
}

// CreateListing validates and persists a new listing.
func (s *Store) CreateListing(ctx context.Context, req domain.CreateListingRequest) (*domain.Listing, error) {
	listingID := strings.TrimSpace(req.ID)
	if listingID == "" {
		listingID = uuid.NewString()
	}
	if !req.FundingGoal.IsPositive() {
		return nil, fmt.Errorf("%w: funding goal must be positive", ErrInvalidListing)
	}
	if err := validateTiers(req.Tiers); err != nil {
		return nil, err
	}
	identities, err := normalizeIdentities(req.Identities)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateListing(ctx, &domain.Listing{
		ID:           listingID,
		CreatorID:    strings.TrimSpace(req.CreatorID),
		Title:        strings.TrimSpace(req.Title),
		FundingGoal:  req.FundingGoal,
		AmountRaised: decimal.Zero,
		Tiers:        req.Tiers,
		Identities:   identities,
	})
	if err != nil {
		return nil, err
	}
	s.notifyListing(ctx, created)
	return created, nil
}

// UpdateListing applies an edit. Settled tiers may not change, and funding
// totals only move through an explicit admin correction.
func (s *Store) UpdateListing(ctx context.Context, listingID string, req domain.UpdateListingRequest) (*domain.Listing, error) {
	if (req.AmountRaised != nil || req.Backers != nil) && !req.AdminCorrection {
		return nil, ErrAdminCorrectionRequired
	}

	updated, err := s.repo.UpdateListing(ctx, listingID, func(listing *domain.Listing) error {
		if req.Title != nil {
			listing.Title = strings.TrimSpace(*req.Title)
		}
		if req.FundingGoal != nil {
			if !req.FundingGoal.IsPositive() {
				return fmt.Errorf("%w: funding goal must be positive", ErrInvalidListing)
			}
			listing.FundingGoal = *req.FundingGoal
		}
		if req.Tiers != nil {
			if err := validateTiers(req.Tiers); err != nil {
				return err
			}
			if err := checkSettledTiers(listing, req.Tiers); err != nil {
				return err
			}
			listing.Tiers = req.Tiers
		}
		if req.Identities != nil {
			identities, err := normalizeIdentities(*req.Identities)
			if err != nil {
				return err
			}
			listing.Identities = identities
		}
		if req.AdminCorrection {
			if req.AmountRaised != nil {
				if req.AmountRaised.IsNegative() {
					return fmt.Errorf("%w: amount raised cannot be negative", ErrInvalidListing)
				}
				log.Printf("level=warn component=ledger listing_id=%s msg=\"admin correction of amount raised\" from=%s to=%s", listing.ID, listing.AmountRaised, req.AmountRaised)
				listing.AmountRaised = *req.AmountRaised
			}
			if req.Backers != nil {
				if *req.Backers < 0 {
					return fmt.Errorf("%w: backers cannot be negative", ErrInvalidListing)
				}
				listing.Backers = *req.Backers
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyListing(ctx, updated)
	return updated, nil
}

// AddFunding credits one backer's payment to a listing.
func (s *Store) AddFunding(ctx context.Context, listingID string, amount decimal.Decimal, tierID string) (*domain.Listing, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	updated, err := s.repo.AddFunding(ctx, listingID, amount, strings.TrimSpace(tierID))
	if err != nil {
		return nil, err
	}
	s.notifyListing(ctx, updated)
	return updated, nil
}

// AddComment appends a comment to a listing's thread.
func (s *Store) AddComment(ctx context.Context, listingID string, req domain.AddCommentRequest) (*domain.Comment, error) {
	author := strings.TrimSpace(req.Author)
	content := strings.TrimSpace(req.Content)
	if author == "" || content == "" {
		return nil, fmt.Errorf("%w: author and content are required", ErrInvalidComment)
	}

	comment, err := s.repo.AddComment(ctx, &domain.Comment{
		ID:        uuid.NewString(),
		ListingID: listingID,
		Author:    author,
		Content:   content,
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, err
	}
	stored := *comment
	s.notify(ctx, domain.LedgerEvent{
		Topic:     domain.CommentsTopic(listingID),
		Type:      domain.EventNewComment,
		ListingID: listingID,
		Comment:   &stored,
	})
	return comment, nil
}

func validateTiers(tiers []domain.Tier) error {
	seen := make(map[string]struct{}, len(tiers))
	for _, tier := range tiers {
		if strings.TrimSpace(tier.ID) == "" {
			return fmt.Errorf("%w: tier id is required", ErrInvalidListing)
		}
		if _, dup := seen[tier.ID]; dup {
			return fmt.Errorf("%w: duplicate tier id %q", ErrInvalidListing, tier.ID)
		}
		seen[tier.ID] = struct{}{}
		if !tier.Amount.IsPositive() {
			return fmt.Errorf("%w: tier %q amount must be positive", ErrInvalidListing, tier.ID)
		}
	}
	return nil
}

func checkSettledTiers(current *domain.Listing, next []domain.Tier) error {
	for _, settledID := range current.SettledTierIDs {
		before, ok := current.FindTier(settledID)
		if !ok {
			continue
		}
		var after *domain.Tier
		for i := range next {
			if next[i].ID == settledID {
				after = &next[i]
				break
			}
		}
		if after == nil || !after.Amount.Equal(before.Amount) || !sameRewards(before.Rewards, after.Rewards) {
			return fmt.Errorf("%w: %s", ErrTierLocked, settledID)
		}
	}
	return nil
}

func sameRewards(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalizeIdentities(in domain.ReceivingIdentities) (domain.ReceivingIdentities, error) {
	out := domain.ReceivingIdentities{
		Address: strings.TrimSpace(in.Address),
		Contact: strings.TrimSpace(in.Contact),
		Email:   strings.TrimSpace(in.Email),
	}
	if out.Address != "" {
		if !domain.IsAddress(out.Address) {
			return out, fmt.Errorf("%w: address identity %q is not a valid address", ErrInvalidListing, out.Address)
		}
		out.Address = domain.NormalizeAddress(out.Address)
	}
	if out.Email != "" && !domain.IsEmail(out.Email) {
		return out, fmt.Errorf("%w: email identity %q is not a valid email", ErrInvalidListing, out.Email)
	}
	return out, nil
}
