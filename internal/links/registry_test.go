package links

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/fees"
	"github.com/lumapay/linkledger/internal/processor"
)

type fakeStore struct {
	links map[string]*domain.Link
}

func newFakeStore() *fakeStore {
	return &fakeStore{links: make(map[string]*domain.Link)}
}

func (f *fakeStore) CreateLink(ctx context.Context, l *domain.Link) error {
	cp := *l
	f.links[l.ID] = &cp
	return nil
}

func (f *fakeStore) GetLink(ctx context.Context, accountID, id string) (*domain.Link, error) {
	l, ok := f.links[id]
	if !ok || l.AccountID != accountID {
		return nil, errors.New("not found")
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) ListLinks(ctx context.Context, accountID string) ([]domain.Link, error) {
	var out []domain.Link
	for _, l := range f.links {
		if l.AccountID == accountID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeStore) DisableLink(ctx context.Context, accountID, id string) (*domain.Link, error) {
	l, err := f.GetLink(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	// Conditional write: only ACTIVE transitions.
	if l.Status == domain.LinkActive {
		f.links[id].Status = domain.LinkDisabled
		l.Status = domain.LinkDisabled
	}
	return l, nil
}

type fakeProcessor struct {
	err   error
	calls int
}

func (f *fakeProcessor) CreateCheckout(ctx context.Context, req processor.CheckoutRequest) (*processor.Checkout, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &processor.Checkout{ID: "co_" + req.LinkID, URL: "https://pay.example/" + req.LinkID}, nil
}

func testRegistry(store *fakeStore, proc *fakeProcessor) *Registry {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(store, proc, fees.Config{BasisPoints: 500, FixedFee: 50}, []string{"usd", "eur", "gbp"}, log)
}

func TestCreateComputesSplitAndPersists(t *testing.T) {
	store := newFakeStore()
	reg := testRegistry(store, &fakeProcessor{})

	link, err := reg.Create(context.Background(), "acc_1", CreateRequest{
		Kind:     domain.LinkOneTime,
		Title:    "Sticker pack",
		Amount:   999,
		Currency: "usd",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if link.ServiceFee != 100 || link.NetAmount != 899 {
		t.Errorf("split = fee %d net %d, want 100/899", link.ServiceFee, link.NetAmount)
	}
	if link.Status != domain.LinkActive {
		t.Errorf("status = %s, want ACTIVE", link.Status)
	}
	if link.CheckoutID == "" || link.URL == "" {
		t.Errorf("checkout reference not set: %+v", link)
	}
	if _, ok := store.links[link.ID]; !ok {
		t.Error("link not persisted")
	}
}

func TestCreateNormalizesCurrency(t *testing.T) {
	reg := testRegistry(newFakeStore(), &fakeProcessor{})

	link, err := reg.Create(context.Background(), "acc_1", CreateRequest{
		Kind:     domain.LinkOneTime,
		Title:    "Sticker pack",
		Amount:   999,
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("Create with uppercase currency: %v", err)
	}
	if link.Currency != "usd" {
		t.Errorf("currency = %q, want lowercased usd", link.Currency)
	}
}

func TestCreateProcessorFailureLeavesNoLink(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{err: domain.Transient(errors.New("processor down"))}
	reg := testRegistry(store, proc)

	_, err := reg.Create(context.Background(), "acc_1", CreateRequest{
		Kind:     domain.LinkOneTime,
		Title:    "Sticker pack",
		Amount:   999,
		Currency: "usd",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.links) != 0 {
		t.Errorf("orphan local link written: %d", len(store.links))
	}
}

func TestCreateValidation(t *testing.T) {
	reg := testRegistry(newFakeStore(), &fakeProcessor{})
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"zero amount", CreateRequest{Kind: domain.LinkOneTime, Title: "t", Amount: 0, Currency: "usd"}},
		{"unsupported currency", CreateRequest{Kind: domain.LinkOneTime, Title: "t", Amount: 100, Currency: "xyz"}},
		{"unknown required field", CreateRequest{Kind: domain.LinkOneTime, Title: "t", Amount: 100, Currency: "usd", RequiredFields: []string{"ssn"}}},
		{"expiry in the past", CreateRequest{Kind: domain.LinkOneTime, Title: "t", Amount: 100, Currency: "usd", ExpiresAt: &past}},
		{"subscription without interval", CreateRequest{Kind: domain.LinkSubscription, Title: "t", Amount: 100, Currency: "usd"}},
		{"one-time with interval", CreateRequest{Kind: domain.LinkOneTime, Title: "t", Amount: 100, Currency: "usd", Interval: domain.IntervalMonth}},
		{"missing title", CreateRequest{Kind: domain.LinkOneTime, Amount: 100, Currency: "usd", ExpiresAt: &future}},
		{"fee exceeds amount", CreateRequest{Kind: domain.LinkOneTime, Title: "t", Amount: 40, Currency: "usd"}},
		{"bad kind", CreateRequest{Kind: "weekly", Title: "t", Amount: 100, Currency: "usd"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := reg.Create(context.Background(), "acc_1", c.req)
			if !domain.IsValidation(err) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestDisableIsIdempotent(t *testing.T) {
	store := newFakeStore()
	reg := testRegistry(store, &fakeProcessor{})

	link, err := reg.Create(context.Background(), "acc_1", CreateRequest{
		Kind: domain.LinkOneTime, Title: "t", Amount: 999, Currency: "usd",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := reg.Disable(context.Background(), "acc_1", link.ID)
		if err != nil {
			t.Fatalf("Disable #%d: %v", i+1, err)
		}
		if got.Status != domain.LinkDisabled {
			t.Errorf("Disable #%d status = %s, want DISABLED", i+1, got.Status)
		}
	}

	// An EXPIRED link stays EXPIRED through a disable call.
	store.links[link.ID].Status = domain.LinkExpired
	got, err := reg.Disable(context.Background(), "acc_1", link.ID)
	if err != nil {
		t.Fatalf("Disable expired: %v", err)
	}
	if got.Status != domain.LinkExpired {
		t.Errorf("expired link became %s", got.Status)
	}
}
