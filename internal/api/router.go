/**
 * @description
 * This file sets up the HTTP router for the backing service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * logging, CORS and authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for browser viewers of the realtime streams.
 * - github.com/prometheus/client_golang/prometheus/promhttp: Metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the authentication settings of the router.
type RouterConfig struct {
	JWKSURL        string
	InternalAPIKey string
}

// NewRouter creates and returns the service router.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Cache-Control", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Long-lived streams are registered outside the timeout middleware.
	r.Get("/listings/{id}/stream", h.ListingStreamHandler)
	r.Get("/listings/{id}/comments/stream", h.CommentStreamHandler)

	// Payments are bounded by the agent client's per-call timeout. A request
	// deadline here would cut a batch off between settled items.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(cfg.JWKSURL))
		r.Post("/payments", h.PaymentHandler)
		r.Post("/payments/batch", h.BatchPaymentHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/listings/{id}", h.GetListingHandler)
		r.Get("/listings/{id}/comments", h.ListCommentsHandler)

		r.Group(func(r chi.Router) {
			r.Use(ClerkAuthMiddleware(cfg.JWKSURL))

			r.Post("/listings/{id}/comments", h.AddCommentHandler)
			r.Post("/recommendations", h.RecommendationsHandler)
		})

		r.Route("/internal/listings", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
			r.Post("/", h.CreateListingHandler)
			r.Put("/{id}", h.UpdateListingHandler)
		})
	})

	return r
}
