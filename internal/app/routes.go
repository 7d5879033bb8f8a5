package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"integration-gateway/internal/handlers"
	"integration-gateway/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler) {
	router.Use(middleware.LoggingMiddleware)

	// Health and metrics (no auth required)
	router.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// OAuth callback lands here from the provider; state replaces auth
	router.HandleFunc("/oauth/callback", h.OAuthCallback).Methods("GET")

	// Platform webhooks authenticate by HMAC signature
	router.HandleFunc("/webhooks/{platform}", h.HandleWebhook).Methods("POST")

	// Dashboard API requires bearer auth
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/integrations", h.ListIntegrations).Methods("GET")
	api.HandleFunc("/integrations/{platform}/connect", h.ConnectIntegration).Methods("POST")
	api.HandleFunc("/integrations/{platform}/delegate", h.DelegateIntegration).Methods("POST")
	api.HandleFunc("/integrations/{platform}/{scope}", h.DisconnectIntegration).Methods("DELETE")

	api.HandleFunc("/report", h.GetReport).Methods("GET")
}
