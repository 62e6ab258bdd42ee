/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the member portal
  5. RequireAccount (authenticated groups only): bearer token -> account

ROUTE GROUPS:
  /api/accounts/*   Registration (public)
  /api/rewards      Catalog browsing (public); redemption (authenticated)
  /api/points/*     Ledger history, balance, earning (authenticated)
  /api/referrals/*  Codes, stats, settlement (authenticated)
  /api/members/*    Membership status and activation (authenticated)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/accounts/register", h.Register)
		r.Get("/rewards", h.ListRewards)
		r.Get("/rewards/{id}", h.GetReward)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAccount)

			r.Route("/points", func(r chi.Router) {
				r.Get("/", h.History)
				r.Get("/balance", h.Balance)
				r.Post("/earn", h.Earn)
			})

			r.Post("/rewards/{id}/redeem", h.Redeem)

			r.Route("/referrals", func(r chi.Router) {
				r.Get("/my-code", h.MyCode)
				r.Get("/stats", h.ReferralStats)
				r.Post("/verify", h.VerifyReferral)
				r.Post("/complete", h.CompleteReferral)
			})

			r.Route("/members", func(r chi.Router) {
				r.Get("/status", h.MemberStatus)
				r.Post("/join", h.Join)
			})
		})
	})

	return r
}
