// Package api exposes the engine to the dashboard: link management,
// transaction history, refunds, payouts and the processor webhook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/links"
	"github.com/lumapay/linkledger/internal/processor"
	"github.com/lumapay/linkledger/internal/store"
)

// Store is the read side the handlers use directly.
type Store interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	Balances(ctx context.Context, accountID string) ([]domain.Balance, error)
	GetTransaction(ctx context.Context, accountID, paymentID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, f store.TransactionFilter) ([]domain.Transaction, string, error)
}

// Links is the link lifecycle surface.
type Links interface {
	Create(ctx context.Context, accountID string, req links.CreateRequest) (*domain.Link, error)
	Get(ctx context.Context, accountID, id string) (*domain.Link, error)
	List(ctx context.Context, accountID string) ([]domain.Link, error)
	Disable(ctx context.Context, accountID, id string) (*domain.Link, error)
}

// Ingest handles processor events and merchant refunds.
type Ingest interface {
	Ingest(ctx context.Context, ev *domain.Event) error
	Refund(ctx context.Context, accountID, paymentID string) (*domain.Transaction, error)
}

// Payouts drains pending balances on demand.
type Payouts interface {
	RequestPayout(ctx context.Context, accountID string) (*domain.PayoutResult, error)
}

// Onboarder creates the processor-side connected account during merchant
// onboarding.
type Onboarder interface {
	CreateConnectedAccount(ctx context.Context, email, country string) (*processor.ConnectedAccount, error)
}

type Handler struct {
	store         Store
	links         Links
	ingest        Ingest
	payouts       Payouts
	onboard       Onboarder
	webhookSecret string
	log           *slog.Logger
}

func NewHandler(s Store, l Links, ing Ingest, p Payouts, onboard Onboarder, webhookSecret string, log *slog.Logger) *Handler {
	return &Handler{store: s, links: l, ingest: ing, payouts: p, onboard: onboard, webhookSecret: webhookSecret, log: log}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createAccountRequest struct {
	BusinessName string `json:"business_name"`
	Email        string `json:"email"`
	Country      string `json:"country"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.BusinessName == "" || req.Email == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "business_name and email are required")
		return
	}

	ref, err := h.onboard.CreateConnectedAccount(r.Context(), req.Email, req.Country)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	account := &domain.Account{
		ID:           uuid.NewString(),
		BusinessName: req.BusinessName,
		Email:        req.Email,
		Country:      req.Country,
		Status:       domain.AccountNew,
		ProcessorID:  ref.ID,
	}
	if err := h.store.CreateAccount(r.Context(), account); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, account)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := AccountID(r.Context())
	account, err := h.store.GetAccount(r.Context(), accountID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	balances, err := h.store.Balances(r.Context(), accountID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if balances == nil {
		balances = []domain.Balance{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"account":  account,
		"balances": balances,
	})
}

func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req links.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	link, err := h.links.Create(r.Context(), AccountID(r.Context()), req)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/links/"+link.ID)
	respondWithJSON(w, http.StatusCreated, link)
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	out, err := h.links.List(r.Context(), AccountID(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if out == nil {
		out = []domain.Link{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"links": out})
}

func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Get(r.Context(), AccountID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, link)
}

// DisableLink is idempotent: disabling a link that is already DISABLED or
// EXPIRED reports the current state with 200, not an error.
func (h *Handler) DisableLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Disable(r.Context(), AccountID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, link)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	txns, next, err := h.store.ListTransactions(r.Context(), AccountID(r.Context()), filter)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"next":         next,
	})
}

func parseTransactionFilter(r *http.Request) (store.TransactionFilter, error) {
	q := r.URL.Query()
	f := store.TransactionFilter{Cursor: q.Get("cursor")}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, domain.Validationf("from", "must be RFC 3339")
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, domain.Validationf("to", "must be RFC 3339")
		}
		f.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, domain.Validationf("limit", "must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.store.GetTransaction(r.Context(), AccountID(r.Context()), mux.Vars(r)["payment_id"])
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.ingest.Refund(r.Context(), AccountID(r.Context()), mux.Vars(r)["payment_id"])
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	result, err := h.payouts.RequestPayout(r.Context(), AccountID(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// respondDomainError maps the error taxonomy onto status codes:
// validation 422, conflict 409, not found 404, transient upstream 503,
// permanent upstream 502, anything else 500.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		ce *domain.ConflictError
		pe *domain.PermanentError
	)
	switch {
	case errors.As(err, &ve):
		respondWithError(w, http.StatusUnprocessableEntity, ve.Error())
	case errors.As(err, &ce):
		respondWithError(w, http.StatusConflict, ce.Reason)
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrPayoutInFlight):
		respondWithError(w, http.StatusConflict, "payout already in flight")
	case domain.IsRetryable(err):
		respondWithError(w, http.StatusServiceUnavailable, "upstream temporarily unavailable")
	case errors.As(err, &pe):
		respondWithError(w, http.StatusBadGateway, pe.Err.Error())
	default:
		h.log.Error("request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
