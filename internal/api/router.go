/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, panic recovery, timeouts and
 * server-to-server authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SettlementRoutes creates and returns the router for the settlement service.
// Every route except the health check is guarded by the internal API key.
func SettlementRoutes(h *SettlementHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The chat front-ends are trusted server-side callers.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/commands/{platform}", h.CommandHandler)
		r.Get("/accounts/{externalID}/balance", h.BalanceHandler)
		r.Get("/accounts/{externalID}/deposit", h.DepositHandler)
		r.Get("/transfers/stats", h.StatsHandler)
	})

	return r
}
