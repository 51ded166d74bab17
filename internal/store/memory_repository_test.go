package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

func seedListing(t *testing.T, repo *MemoryRepository) *domain.Listing {
	t.Helper()
	listing, err := repo.CreateListing(context.Background(), &domain.Listing{
		ID:           "listing-1",
		FundingGoal:  decimal.NewFromInt(100),
		AmountRaised: decimal.NewFromInt(40),
		Tiers: []domain.Tier{
			{ID: "tier-25", Amount: decimal.NewFromInt(25), Rewards: []string{"sticker"}},
		},
	})
	if err != nil {
		t.Fatalf("CreateListing returned error: %v", err)
	}
	return listing
}

func TestMemoryRepository_AddFundingIsAtomicUnderConcurrency(t *testing.T) {
	repo := NewMemoryRepository()
	seedListing(t, repo)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.AddFunding(context.Background(), "listing-1", decimal.NewFromInt(2), ""); err != nil {
				t.Errorf("AddFunding returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	listing, err := repo.GetListing(context.Background(), "listing-1")
	if err != nil {
		t.Fatalf("GetListing returned error: %v", err)
	}
	if !listing.AmountRaised.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("expected amount raised 140, got %s", listing.AmountRaised)
	}
	if listing.Backers != 50 {
		t.Fatalf("expected 50 backers, got %d", listing.Backers)
	}
}

func TestMemoryRepository_AddFundingMarksTierSettledOnce(t *testing.T) {
	repo := NewMemoryRepository()
	seedListing(t, repo)

	for i := 0; i < 2; i++ {
		if _, err := repo.AddFunding(context.Background(), "listing-1", decimal.NewFromInt(25), "tier-25"); err != nil {
			t.Fatalf("AddFunding returned error: %v", err)
		}
	}
	listing, _ := repo.GetListing(context.Background(), "listing-1")
	if len(listing.SettledTierIDs) != 1 || listing.SettledTierIDs[0] != "tier-25" {
		t.Fatalf("unexpected settled tiers %v", listing.SettledTierIDs)
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	seedListing(t, repo)

	first, _ := repo.GetListing(context.Background(), "listing-1")
	first.Tiers[0].Rewards[0] = "mutated"
	first.AmountRaised = decimal.Zero

	second, _ := repo.GetListing(context.Background(), "listing-1")
	if second.Tiers[0].Rewards[0] != "sticker" {
		t.Fatal("expected stored rewards to be isolated from callers")
	}
	if !second.AmountRaised.Equal(decimal.NewFromInt(40)) {
		t.Fatal("expected stored amount to be isolated from callers")
	}
}

func TestMemoryRepository_UpdateListingAbortsOnMutateError(t *testing.T) {
	repo := NewMemoryRepository()
	seedListing(t, repo)
	errAbort := errors.New("abort")

	_, err := repo.UpdateListing(context.Background(), "listing-1", func(l *domain.Listing) error {
		l.Title = "changed"
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	listing, _ := repo.GetListing(context.Background(), "listing-1")
	if listing.Title != "" {
		t.Fatalf("expected no write after aborted mutate, got title %q", listing.Title)
	}
}

func TestMemoryRepository_CommentsKeepInsertionOrder(t *testing.T) {
	repo := NewMemoryRepository()
	seedListing(t, repo)

	for _, id := range []string{"c1", "c2", "c3"} {
		if _, err := repo.AddComment(context.Background(), &domain.Comment{ID: id, ListingID: "listing-1", Author: "a", Content: id}); err != nil {
			t.Fatalf("AddComment returned error: %v", err)
		}
	}
	comments, err := repo.ListComments(context.Background(), "listing-1")
	if err != nil {
		t.Fatalf("ListComments returned error: %v", err)
	}
	if len(comments) != 3 || comments[0].ID != "c1" || comments[2].ID != "c3" {
		t.Fatalf("unexpected comment order %+v", comments)
	}

	if _, err := repo.AddComment(context.Background(), &domain.Comment{ID: "x", ListingID: "missing"}); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}
