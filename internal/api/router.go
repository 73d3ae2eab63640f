package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the externally injected surface knobs.
type RouterConfig struct {
	JWTSecret   string
	JWTAudience string
	CORSOrigins []string
}

// NewRouter wires routes, metrics, CORS and auth. The webhook and account
// creation are unauthenticated: the webhook proves itself by signature,
// and onboarding happens before the merchant has a token.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	apiV1.HandleFunc("/webhooks/processor", h.HandleWebhook).Methods("POST")

	private := apiV1.NewRoute().Subrouter()
	private.Use(authMiddleware(cfg.JWTSecret, cfg.JWTAudience))
	private.HandleFunc("/account", h.GetAccount).Methods("GET")
	private.HandleFunc("/links", h.CreateLink).Methods("POST")
	private.HandleFunc("/links", h.ListLinks).Methods("GET")
	private.HandleFunc("/links/{id}", h.GetLink).Methods("GET")
	private.HandleFunc("/links/{id}/disable", h.DisableLink).Methods("POST")
	private.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	private.HandleFunc("/transactions/{payment_id}", h.GetTransaction).Methods("GET")
	private.HandleFunc("/transactions/{payment_id}/refund", h.RefundTransaction).Methods("POST")
	private.HandleFunc("/payouts", h.RequestPayout).Methods("POST")

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	return cors(r)
}
