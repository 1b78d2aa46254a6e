/**
 * @description
 * This file sets up the HTTP router for the payout-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/paydesk/payout-service/internal/app"
	"github.com/paydesk/payout-service/internal/domain"
)

// RouterConfig carries the router's middleware knobs.
type RouterConfig struct {
	JWTSecret         string
	RateLimiter       *app.RedisRateLimiter
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

// PayoutRoutes creates and returns the router for the payout service.
func PayoutRoutes(h *PayoutHandlers, wh *WebhookHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Adyen-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public auth endpoints.
	r.Post("/auth/login", h.LoginHandler)
	r.Post("/auth/register", h.RegisterHandler)

	// The webhook endpoint authenticates via HMAC signatures, not JWTs.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimiter, "webhook", cfg.WebhookRateLimit, cfg.WebhookRateWindow))
		r.Post("/webhooks/adyen", wh.AdyenWebhookHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret))
		r.Use(RequireRoles(domain.RoleAdmin, domain.RoleAccountant))

		r.Post("/payouts/submit", h.SubmitPayoutHandler)
		r.Get("/payouts/{payment_id}", h.GetPayoutDetailsHandler)

		r.Post("/bank-accounts/validate", h.ValidateBankAccountHandler)
		r.Put("/bank-accounts", h.UpsertBankAccountHandler)

		r.Post("/payments", h.CreatePaymentHandler)
		r.Get("/payments/pending", h.ListPendingPaymentsHandler)
	})

	return r
}
