// Package links owns the payment and subscription link lifecycle: creation
// with the precomputed fee split, listing, and the terminal status
// transitions.
package links

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/fees"
	"github.com/lumapay/linkledger/internal/processor"
)

// allowedFields is the closed set a link may require from the customer.
var allowedFields = map[string]bool{
	"name":    true,
	"email":   true,
	"phone":   true,
	"address": true,
}

// Store is the slice of persistence the registry needs.
type Store interface {
	CreateLink(ctx context.Context, l *domain.Link) error
	GetLink(ctx context.Context, accountID, id string) (*domain.Link, error)
	ListLinks(ctx context.Context, accountID string) ([]domain.Link, error)
	DisableLink(ctx context.Context, accountID, id string) (*domain.Link, error)
}

// Processor creates the upstream checkout object backing a link.
type Processor interface {
	CreateCheckout(ctx context.Context, req processor.CheckoutRequest) (*processor.Checkout, error)
}

type Registry struct {
	store      Store
	processor  Processor
	fees       fees.Config
	currencies map[string]bool
	log        *slog.Logger
	now        func() time.Time
}

func NewRegistry(store Store, proc Processor, feeCfg fees.Config, currencies []string, log *slog.Logger) *Registry {
	supported := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		supported[c] = true
	}
	return &Registry{
		store:      store,
		processor:  proc,
		fees:       feeCfg,
		currencies: supported,
		log:        log,
		now:        time.Now,
	}
}

// CreateRequest is the merchant's input for a new link.
type CreateRequest struct {
	Kind           domain.LinkKind          `json:"kind"`
	Title          string                   `json:"title"`
	Description    string                   `json:"description"`
	Amount         int64                    `json:"amount"`
	Currency       string                   `json:"currency"`
	RequiredFields []string                 `json:"required_fields"`
	Interval       domain.RecurringInterval `json:"interval"`
	ExpiresAt      *time.Time               `json:"expires_at"`
}

// Create validates the request, computes the fee split, creates the
// upstream checkout object and only then persists the link. A link record
// without a processor checkout id never exists: if the upstream call
// fails, nothing is written locally.
func (r *Registry) Create(ctx context.Context, accountID string, req CreateRequest) (*domain.Link, error) {
	// The supported set is lowercased at config load.
	req.Currency = strings.ToLower(req.Currency)
	if err := r.validate(req); err != nil {
		return nil, err
	}

	split, err := fees.Calculate(req.Amount, req.Currency, r.fees)
	if err != nil {
		return nil, err
	}

	link := &domain.Link{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Kind:           req.Kind,
		Title:          req.Title,
		Description:    req.Description,
		Amount:         req.Amount,
		Currency:       req.Currency,
		ServiceFee:     split.ServiceFee,
		NetAmount:      split.Net,
		Status:         domain.LinkActive,
		RequiredFields: req.RequiredFields,
		Interval:       req.Interval,
		ExpiresAt:      req.ExpiresAt,
	}

	checkout, err := r.processor.CreateCheckout(ctx, processor.CheckoutRequest{
		LinkID:         link.ID,
		AccountID:      accountID,
		Kind:           string(link.Kind),
		Title:          link.Title,
		Amount:         link.Amount,
		Currency:       link.Currency,
		Interval:       string(link.Interval),
		RequiredFields: link.RequiredFields,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout object: %w", err)
	}
	link.CheckoutID = checkout.ID
	link.URL = checkout.URL

	if err := r.store.CreateLink(ctx, link); err != nil {
		// The checkout object is orphaned upstream; the sweep cannot see
		// it, so log loudly for reconciliation.
		r.log.Error("link persist failed after checkout creation",
			"link_id", link.ID, "checkout_id", checkout.ID, "error", err)
		return nil, err
	}
	return link, nil
}

func (r *Registry) validate(req CreateRequest) error {
	if req.Kind != domain.LinkOneTime && req.Kind != domain.LinkSubscription {
		return domain.Validationf("kind", "must be one_time or subscription")
	}
	if req.Title == "" {
		return domain.Validationf("title", "must not be empty")
	}
	if req.Amount <= 0 {
		return domain.Validationf("amount", "must be positive, got %d", req.Amount)
	}
	if !r.currencies[req.Currency] {
		return domain.Validationf("currency", "%q is not supported", req.Currency)
	}
	for _, f := range req.RequiredFields {
		if !allowedFields[f] {
			return domain.Validationf("required_fields", "unknown field %q", f)
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(r.now()) {
		return domain.Validationf("expires_at", "must be in the future")
	}
	if req.Kind == domain.LinkSubscription && !req.Interval.Valid() {
		return domain.Validationf("interval", "%q is not a valid recurrence interval", req.Interval)
	}
	if req.Kind == domain.LinkOneTime && req.Interval != "" {
		return domain.Validationf("interval", "only subscription links recur")
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, accountID, id string) (*domain.Link, error) {
	return r.store.GetLink(ctx, accountID, id)
}

func (r *Registry) List(ctx context.Context, accountID string) ([]domain.Link, error) {
	return r.store.ListLinks(ctx, accountID)
}

// Disable turns a link off. Terminal links are left as they are and
// returned with no error: callers never need to check status first.
func (r *Registry) Disable(ctx context.Context, accountID, id string) (*domain.Link, error) {
	return r.store.DisableLink(ctx, accountID, id)
}
