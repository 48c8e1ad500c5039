/**
 * @description
 * This file sets up the HTTP router for the payment service using the
 * go-chi/chi router. It defines the webhook, member, and status routes and
 * applies middleware for logging, panic recovery, and CORS.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the payment service routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payment service is healthy"))
	})

	r.Post("/webhooks/payfast", h.handlePayFastWebhook)
	r.Post("/members", h.handleCreateMember)
	r.Get("/members/{memberID}/payment-state", h.handleGetPaymentState)

	return r
}
