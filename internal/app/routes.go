package app

import (
	"net/http"

	"api-gateway/internal/handlers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteOptions controls the optional parts of the route table.
type RouteOptions struct {
	AdminAPIKey string
	Gatherer    prometheus.Gatherer
}

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, mw []mux.MiddlewareFunc, opts RouteOptions) {
	for _, m := range mw {
		router.Use(m)
	}

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Admin endpoints, only mounted when a key is configured
	if opts.AdminAPIKey != "" {
		admin := router.PathPrefix("/admin").Subrouter()
		admin.Use(handlers.RequireAdminKey(opts.AdminAPIKey))

		admin.HandleFunc("/cache/stats", h.GetCacheStats).Methods("GET")
		admin.HandleFunc("/cache", h.ClearCache).Methods("DELETE")
		admin.HandleFunc("/cache/keys", h.InvalidateCache).Methods("DELETE")
		admin.HandleFunc("/ratelimit/{identity}", h.GetRateLimit).Methods("GET")
		admin.HandleFunc("/ratelimit/{identity}", h.ResetRateLimit).Methods("DELETE")
	}

	// Everything else goes through admission to the downstream service
	router.PathPrefix("/").Handler(http.HandlerFunc(h.Gateway))
}
