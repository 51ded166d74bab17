/**
 * @description
 * This file contains the HTTP handlers for the backing service. Handlers parse
 * requests, call the ledger store, the payment executor or the batch
 * coordinator, and write JSON responses. Payment failures are reported in the
 * response body with an HTTP status derived from the failure kind.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain, internal/ledger, internal/store: Service
 *   logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/shlawgathon/wishlist-sub000/internal/app"
	"github.com/shlawgathon/wishlist-sub000/internal/domain"
	"github.com/shlawgathon/wishlist-sub000/internal/ledger"
	"github.com/shlawgathon/wishlist-sub000/internal/store"
	"github.com/shlawgathon/wishlist-sub000/pkg/scoringclient"
)

const maxBodyBytes = 1 << 20

// ListingService is the ledger surface used by the handlers.
type ListingService interface {
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
	ListComments(ctx context.Context, listingID string) ([]domain.Comment, error)
	CreateListing(ctx context.Context, req domain.CreateListingRequest) (*domain.Listing, error)
	UpdateListing(ctx context.Context, listingID string, req domain.UpdateListingRequest) (*domain.Listing, error)
	AddComment(ctx context.Context, listingID string, req domain.AddCommentRequest) (*domain.Comment, error)
}

// BatchExecutor settles an ordered list of payments.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, reqs []domain.PaymentRequest) domain.BatchReport
}

// StreamServer serves realtime listing and comment streams.
type StreamServer interface {
	ServeListing(w http.ResponseWriter, r *http.Request, listingID string)
	ServeComments(w http.ResponseWriter, r *http.Request, listingID string)
}

// Scorer ranks listings against a buyer's intent.
type Scorer interface {
	Score(ctx context.Context, req scoringclient.ScoreRequest) ([]scoringclient.Score, error)
}

// Handlers holds the services the HTTP handlers use.
type Handlers struct {
	listings     ListingService
	executor     app.PaymentExecutor
	batch        BatchExecutor
	gate         *app.PaymentGate
	streams      StreamServer
	scorer       Scorer
	maxBatchSize int
}

// HandlerDeps groups the dependencies of NewHandlers.
type HandlerDeps struct {
	Listings     ListingService
	Executor     app.PaymentExecutor
	Batch        BatchExecutor
	Gate         *app.PaymentGate
	Streams      StreamServer
	Scorer       Scorer
	MaxBatchSize int
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(deps HandlerDeps) *Handlers {
	maxBatch := deps.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 25
	}
	return &Handlers{
		listings:     deps.Listings,
		executor:     deps.Executor,
		batch:        deps.Batch,
		gate:         deps.Gate,
		streams:      deps.Streams,
		scorer:       deps.Scorer,
		maxBatchSize: maxBatch,
	}
}

type batchSummary struct {
	TotalInvested decimal.Decimal `json:"totalInvested"`
	Successful    int             `json:"successful"`
	Failed        int             `json:"failed"`
}

type batchPaymentResponse struct {
	Results           []domain.PaymentResult `json:"results"`
	Summary           batchSummary           `json:"summary"`
	TransactionHashes []string               `json:"transactionHashes"`
}

type recommendationRequest struct {
	Intent     string   `json:"intent"`
	ListingIDs []string `json:"listingIds"`
}

type recommendationResponse struct {
	Recommendations []scoringclient.Score `json:"recommendations"`
}

// GetListingHandler returns a listing snapshot.
func (h *Handlers) GetListingHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listings.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

// ListCommentsHandler returns a listing's comments in insertion order.
func (h *Handlers) ListCommentsHandler(w http.ResponseWriter, r *http.Request) {
	comments, err := h.listings.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	h.writeJSON(w, http.StatusOK, comments)
}

// ListingStreamHandler streams funding updates.
func (h *Handlers) ListingStreamHandler(w http.ResponseWriter, r *http.Request) {
	h.streams.ServeListing(w, r, chi.URLParam(r, "id"))
}

// CommentStreamHandler streams new comments.
func (h *Handlers) CommentStreamHandler(w http.ResponseWriter, r *http.Request) {
	h.streams.ServeComments(w, r, chi.URLParam(r, "id"))
}

// AddCommentHandler appends a comment. The author defaults to the caller.
func (h *Handlers) AddCommentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCommentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Author) == "" {
		req.Author, _ = GetClerkUserID(r.Context())
	}
	comment, err := h.listings.AddComment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, comment)
}

// PaymentHandler settles a single payment.
func (h *Handlers) PaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SinglePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.gate.Admit(r.Context(), rateLimitSubject(r, req.SenderCredential)); err != nil {
		h.writePaymentError(w, err)
		return
	}

	result := h.executor.Execute(r.Context(), req.BatchPaymentItem.ToPaymentRequest(req.SenderCredential))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
		if result.Error != nil {
			status = statusForKind(result.Error.Kind)
		}
	}
	h.writeJSON(w, status, result)
}

// BatchPaymentHandler settles an ordered list of payments and reports each one.
func (h *Handlers) BatchPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Investments) == 0 {
		h.writeError(w, http.StatusBadRequest, "investments must contain at least one payment")
		return
	}
	if len(req.Investments) > h.maxBatchSize {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("a batch may contain at most %d payments", h.maxBatchSize))
		return
	}
	if strings.TrimSpace(req.SenderCredential) == "" {
		h.writeError(w, http.StatusUnauthorized, "senderCredential is required")
		return
	}
	if err := h.gate.Admit(r.Context(), rateLimitSubject(r, req.SenderCredential)); err != nil {
		h.writePaymentError(w, err)
		return
	}

	reqs := make([]domain.PaymentRequest, 0, len(req.Investments))
	for _, item := range req.Investments {
		reqs = append(reqs, item.ToPaymentRequest(req.SenderCredential))
	}
	report := h.batch.ExecuteBatch(r.Context(), reqs)

	h.writeJSON(w, http.StatusOK, batchPaymentResponse{
		Results: report.Results,
		Summary: batchSummary{
			TotalInvested: report.TotalSettled,
			Successful:    report.SuccessCount,
			Failed:        report.FailureCount,
		},
		TransactionHashes: report.TransactionIDs(),
	})
}

// RecommendationsHandler scores listings against the caller's intent.
func (h *Handlers) RecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	var req recommendationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Intent) == "" || len(req.ListingIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "intent and listingIds are required")
		return
	}

	candidates := make([]scoringclient.Candidate, 0, len(req.ListingIDs))
	for _, id := range req.ListingIDs {
		listing, err := h.listings.GetListing(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrListingNotFound) {
				continue
			}
			h.writeLedgerError(w, err)
			return
		}
		candidates = append(candidates, scoringclient.Candidate{
			ListingID:   listing.ID,
			Title:       listing.Title,
			FundingGoal: listing.FundingGoal,
			Raised:      listing.AmountRaised,
		})
	}
	if len(candidates) == 0 {
		h.writeError(w, http.StatusNotFound, "none of the listings exist")
		return
	}

	scores, err := h.scorer.Score(r.Context(), scoringclient.ScoreRequest{Intent: req.Intent, Listings: candidates})
	if err != nil {
		if errors.Is(err, scoringclient.ErrNotConfigured) {
			h.writeError(w, http.StatusServiceUnavailable, "recommendations are not available")
			return
		}
		log.Printf("level=warn component=api msg=\"scoring failed\" err=%v", err)
		h.writeError(w, http.StatusBadGateway, "scoring service failed")
		return
	}
	h.writeJSON(w, http.StatusOK, recommendationResponse{Recommendations: scores})
}

// CreateListingHandler creates a listing on behalf of the listing manager.
func (h *Handlers) CreateListingHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateListingRequest
	if !h.decode(w, r, &req) {
		return
	}
	listing, err := h.listings.CreateListing(r.Context(), req)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, listing)
}

// UpdateListingHandler edits a listing on behalf of the listing manager.
func (h *Handlers) UpdateListingHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateListingRequest
	if !h.decode(w, r, &req) {
		return
	}
	listing, err := h.listings.UpdateListing(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

// rateLimitSubject keys the payment budget on the authenticated user, or on a
// digest of the sender credential when the route is unauthenticated.
func rateLimitSubject(r *http.Request, credential string) string {
	if userID, ok := GetClerkUserID(r.Context()); ok && userID != "" {
		return "user:" + userID
	}
	if strings.TrimSpace(credential) == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(credential))
	return "credential:" + hex.EncodeToString(sum[:16])
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuth, domain.KindMissingCredential:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNoReceivingIdentity, domain.KindInvalidRecipientKind, domain.KindInvalidRecipient:
		return http.StatusUnprocessableEntity
	case domain.KindNoPaymentRequired:
		return http.StatusConflict
	case domain.KindProofRejected:
		return http.StatusPaymentRequired
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindLedger:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handlers) writePaymentError(w http.ResponseWriter, err error) {
	pe := domain.AsPaymentError(err)
	h.writeJSON(w, statusForKind(pe.Kind), map[string]interface{}{"error": pe.Message, "kind": pe.Kind})
}

func (h *Handlers) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrListingNotFound):
		h.writeError(w, http.StatusNotFound, "Listing not found")
	case errors.Is(err, store.ErrListingExists):
		h.writeError(w, http.StatusConflict, "Listing already exists")
	case errors.Is(err, ledger.ErrTierLocked):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrAdminCorrectionRequired):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrInvalidListing), errors.Is(err, ledger.ErrInvalidComment), errors.Is(err, ledger.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api msg=\"ledger operation failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
