/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Funding is applied with a single conditional UPDATE so that concurrent payments
 * for the same listing from several service instances never lose an increment.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Numeric columns are exchanged as decimal text.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

// Schema creates the tables used by PostgresRepository.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
	id                TEXT PRIMARY KEY,
	creator_id        TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	funding_goal      NUMERIC NOT NULL CHECK (funding_goal > 0),
	amount_raised     NUMERIC NOT NULL DEFAULT 0 CHECK (amount_raised >= 0),
	backers           INTEGER NOT NULL DEFAULT 0 CHECK (backers >= 0),
	tiers             JSONB NOT NULL DEFAULT '[]'::jsonb,
	address_identity  TEXT NOT NULL DEFAULT '',
	contact_identity  TEXT NOT NULL DEFAULT '',
	email_identity    TEXT NOT NULL DEFAULT '',
	settled_tier_ids  TEXT[] NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listing_comments (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	listing_id  TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	author      TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_listing_comments_listing ON listing_comments (listing_id, seq);
`

const listingColumns = `id, creator_id, title, funding_goal::text, amount_raised::text, backers, tiers,
	address_identity, contact_identity, email_identity, settled_tier_ids, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the listing tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure listing schema: %w", err)
	}
	return nil
}

// GetListing retrieves a listing by id.
func (r *PostgresRepository) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	row := r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, listingID)
	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return listing, nil
}

// CreateListing inserts a new listing.
func (r *PostgresRepository) CreateListing(ctx context.Context, listing *domain.Listing) (*domain.Listing, error) {
	tiers, err := json.Marshal(listing.Tiers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tiers: %w", err)
	}
	settled := listing.SettledTierIDs
	if settled == nil {
		settled = []string{}
	}

	query := `
		INSERT INTO listings (id, creator_id, title, funding_goal, amount_raised, backers, tiers,
			address_identity, contact_identity, email_identity, settled_tier_ids)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::jsonb, $8, $9, $10, $11)
		RETURNING ` + listingColumns
	row := r.db.QueryRow(ctx, query,
		listing.ID,
		listing.CreatorID,
		listing.Title,
		listing.FundingGoal.String(),
		listing.AmountRaised.String(),
		listing.Backers,
		string(tiers),
		listing.Identities.Address,
		listing.Identities.Contact,
		listing.Identities.Email,
		settled,
	)
	created, err := scanListing(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrListingExists
		}
		return nil, err
	}
	return created, nil
}

// UpdateListing locks the listing row, applies mutate and writes the result back
// in one transaction.
func (r *PostgresRepository) UpdateListing(ctx context.Context, listingID string, mutate MutateFunc) (*domain.Listing, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Use FOR UPDATE to lock the row, preventing lost updates.
	row := tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, listingID)
	current, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	if err := mutate(current); err != nil {
		return nil, err
	}

	tiers, err := json.Marshal(current.Tiers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tiers: %w", err)
	}
	settled := current.SettledTierIDs
	if settled == nil {
		settled = []string{}
	}
	query := `
		UPDATE listings
		SET title = $2, funding_goal = $3::numeric, amount_raised = $4::numeric, backers = $5,
			tiers = $6::jsonb, address_identity = $7, contact_identity = $8, email_identity = $9,
			settled_tier_ids = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + listingColumns
	updated, err := scanListing(tx.QueryRow(ctx, query,
		listingID,
		current.Title,
		current.FundingGoal.String(),
		current.AmountRaised.String(),
		current.Backers,
		string(tiers),
		current.Identities.Address,
		current.Identities.Contact,
		current.Identities.Email,
		settled,
	))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit listing update: %w", err)
	}
	return updated, nil
}

// AddFunding credits a listing with one conditional UPDATE.
func (r *PostgresRepository) AddFunding(ctx context.Context, listingID string, amount decimal.Decimal, tierID string) (*domain.Listing, error) {
	query := `
		UPDATE listings
		SET amount_raised = amount_raised + $2::numeric,
			backers = backers + 1,
			settled_tier_ids = CASE
				WHEN $3::text = '' OR $3::text = ANY(settled_tier_ids) THEN settled_tier_ids
				ELSE array_append(settled_tier_ids, $3::text)
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + listingColumns
	listing, err := scanListing(r.db.QueryRow(ctx, query, listingID, amount.String(), tierID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return listing, nil
}

// AddComment appends a comment to a listing's thread.
func (r *PostgresRepository) AddComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	stored := *comment
	query := `
		INSERT INTO listing_comments (id, listing_id, author, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	err := r.db.QueryRow(ctx, query, comment.ID, comment.ListingID, comment.Author, comment.Content).Scan(&stored.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return &stored, nil
}

// ListComments returns a listing's comments in insertion order.
func (r *PostgresRepository) ListComments(ctx context.Context, listingID string) ([]domain.Comment, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrListingNotFound
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, listing_id, author, content, created_at
		FROM listing_comments
		WHERE listing_id = $1
		ORDER BY seq ASC`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]domain.Comment, 0)
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.ListingID, &c.Author, &c.Content, &c.Timestamp); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func scanListing(row pgx.Row) (*domain.Listing, error) {
	var (
		listing      domain.Listing
		fundingGoal  string
		amountRaised string
		tiers        []byte
		createdAt    time.Time
		updatedAt    time.Time
	)
	err := row.Scan(
		&listing.ID,
		&listing.CreatorID,
		&listing.Title,
		&fundingGoal,
		&amountRaised,
		&listing.Backers,
		&tiers,
		&listing.Identities.Address,
		&listing.Identities.Contact,
		&listing.Identities.Email,
		&listing.SettledTierIDs,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if listing.FundingGoal, err = decimal.NewFromString(fundingGoal); err != nil {
		return nil, fmt.Errorf("invalid funding_goal %q: %w", fundingGoal, err)
	}
	if listing.AmountRaised, err = decimal.NewFromString(amountRaised); err != nil {
		return nil, fmt.Errorf("invalid amount_raised %q: %w", amountRaised, err)
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &listing.Tiers); err != nil {
			return nil, fmt.Errorf("invalid tiers: %w", err)
		}
	}
	listing.CreatedAt = createdAt
	listing.UpdatedAt = updatedAt
	return &listing, nil
}
