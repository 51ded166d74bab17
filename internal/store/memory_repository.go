package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// MemoryRepository keeps listings and comments in process memory. It is safe
// for concurrent use within one process only.
type MemoryRepository struct {
	mu       sync.Mutex
	listings map[string]*domain.Listing
	comments map[string][]domain.Comment
	now      func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		listings: make(map[string]*domain.Listing),
		comments: make(map[string][]domain.Comment),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetListing(_ context.Context, listingID string) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listing, ok := r.listings[listingID]
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing.Clone(), nil
}

func (r *MemoryRepository) CreateListing(_ context.Context, listing *domain.Listing) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listings[listing.ID]; exists {
		return nil, ErrListingExists
	}
	stored := listing.Clone()
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.listings[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryRepository) UpdateListing(_ context.Context, listingID string, mutate MutateFunc) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.listings[listingID]
	if !ok {
		return nil, ErrListingNotFound
	}
	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = r.now()
	r.listings[listingID] = working
	return working.Clone(), nil
}

func (r *MemoryRepository) AddFunding(_ context.Context, listingID string, amount decimal.Decimal, tierID string) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listing, ok := r.listings[listingID]
	if !ok {
		return nil, ErrListingNotFound
	}
	listing.AmountRaised = listing.AmountRaised.Add(amount)
	listing.Backers++
	if tierID != "" && !listing.TierSettled(tierID) {
		listing.SettledTierIDs = append(listing.SettledTierIDs, tierID)
	}
	listing.UpdatedAt = r.now()
	return listing.Clone(), nil
}

func (r *MemoryRepository) AddComment(_ context.Context, comment *domain.Comment) (*domain.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listings[comment.ListingID]; !ok {
		return nil, ErrListingNotFound
	}
	stored := *comment
	if stored.Timestamp.IsZero() {
		stored.Timestamp = r.now()
	}
	r.comments[comment.ListingID] = append(r.comments[comment.ListingID], stored)
	return &stored, nil
}

func (r *MemoryRepository) ListComments(_ context.Context, listingID string) ([]domain.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listings[listingID]; !ok {
		return nil, ErrListingNotFound
	}
	comments := make([]domain.Comment, len(r.comments[listingID]))
	copy(comments, r.comments[listingID])
	return comments, nil
}
