/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations behind the ledger state store. By defining an interface,
 * we decouple the ledger's write-then-notify logic from the specific storage
 * implementation (in-memory or PostgreSQL), making the code easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/shopspring/decimal: Funding amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrListingExists   = errors.New("listing already exists")
)

// MutateFunc edits a listing inside a repository's read-modify-write. Returning
// an error aborts the write.
type MutateFunc func(listing *domain.Listing) error

// Repository defines the set of methods for interacting with listing storage.
type Repository interface {
	// Listing methods
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
	CreateListing(ctx context.Context, listing *domain.Listing) (*domain.Listing, error)
	// UpdateListing applies mutate to the current listing and persists the result
	// atomically with respect to concurrent writers.
	UpdateListing(ctx context.Context, listingID string, mutate MutateFunc) (*domain.Listing, error)
	// AddFunding increments amount raised and backers in one atomic step and,
	// when tierID is set, marks the tier as settled.
	AddFunding(ctx context.Context, listingID string, amount decimal.Decimal, tierID string) (*domain.Listing, error)

	// Comment methods
	AddComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error)
	ListComments(ctx context.Context, listingID string) ([]domain.Comment, error)
}
