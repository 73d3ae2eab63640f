package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/fees"
	"github.com/lumapay/linkledger/internal/store"
)

// fakeStore mirrors the store's conditional-write semantics in memory.
type fakeStore struct {
	links         map[string]*domain.Link // by checkout id
	transactions  map[string]*domain.Transaction
	events        map[string]bool
	subscriptions map[string]*domain.CustomerSubscription
	accounts      map[string]*domain.Account // by processor id
	pending       map[string]int64           // account|currency
	settled       map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		links:         make(map[string]*domain.Link),
		transactions:  make(map[string]*domain.Transaction),
		events:        make(map[string]bool),
		subscriptions: make(map[string]*domain.CustomerSubscription),
		accounts:      make(map[string]*domain.Account),
		pending:       make(map[string]int64),
		settled:       make(map[string]int64),
	}
}

func (f *fakeStore) LinkByCheckout(ctx context.Context, checkoutID string) (*domain.Link, error) {
	l, ok := f.links[checkoutID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeStore) RecordPayment(ctx context.Context, eventID string, txn *domain.Transaction, sub *domain.CustomerSubscription) (bool, error) {
	if f.events[eventID] {
		return false, nil
	}
	f.events[eventID] = true
	if _, ok := f.transactions[txn.PaymentID]; ok {
		return false, nil
	}
	f.transactions[txn.PaymentID] = txn
	if txn.Status == domain.TransactionSucceeded {
		f.pending[txn.AccountID+"|"+txn.Currency] += txn.NetAmount
	}
	if sub != nil {
		if _, ok := f.subscriptions[sub.ID]; !ok {
			f.subscriptions[sub.ID] = sub
		}
	}
	return true, nil
}

func (f *fakeStore) RecordRefund(ctx context.Context, eventID, paymentID string) (*domain.Transaction, bool, error) {
	if eventID != "" {
		if f.events[eventID] {
			return nil, false, nil
		}
		f.events[eventID] = true
	}
	txn, ok := f.transactions[paymentID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if txn.Status == domain.TransactionRefunded {
		return txn, false, nil
	}
	if txn.Status != domain.TransactionSucceeded {
		return nil, false, domain.Conflictf("transaction %s is %s, not refundable", paymentID, txn.Status)
	}
	txn.Status = domain.TransactionRefunded
	key := txn.AccountID + "|" + txn.Currency
	if f.pending[key] >= txn.NetAmount {
		f.pending[key] -= txn.NetAmount
	} else {
		f.settled[key] -= txn.NetAmount
	}
	return txn, true, nil
}

func (f *fakeStore) CancelSubscription(ctx context.Context, eventID, subscriptionID string) (bool, error) {
	if eventID != "" {
		if f.events[eventID] {
			return false, nil
		}
		f.events[eventID] = true
	}
	sub, ok := f.subscriptions[subscriptionID]
	if !ok || sub.Status != domain.SubscriptionActive {
		return false, nil
	}
	sub.Status = domain.SubscriptionCanceled
	return true, nil
}

func (f *fakeStore) PromoteAccount(ctx context.Context, processorID string, status domain.AccountStatus) (*domain.Account, bool, error) {
	a, ok := f.accounts[processorID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if a.Status.Rank() >= status.Rank() {
		return a, false, nil
	}
	a.Status = status
	return a, true, nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, accountID, paymentID string) (*domain.Transaction, error) {
	txn, ok := f.transactions[paymentID]
	if !ok || txn.AccountID != accountID {
		return nil, store.ErrNotFound
	}
	return txn, nil
}

type fakeRefunder struct {
	calls int
	err   error
}

func (f *fakeRefunder) Refund(ctx context.Context, paymentID string) error {
	f.calls++
	return f.err
}

type fakePayouts struct {
	accounts []string
}

func (f *fakePayouts) RequestPayout(ctx context.Context, accountID string) (*domain.PayoutResult, error) {
	f.accounts = append(f.accounts, accountID)
	return domain.NewPayoutResult(), nil
}

func seededLink(f *fakeStore) *domain.Link {
	link := &domain.Link{
		ID: "lnk_1", AccountID: "acc_1", Kind: domain.LinkOneTime,
		Amount: 999, Currency: "usd", ServiceFee: 100, NetAmount: 899,
		Status: domain.LinkActive, CheckoutID: "co_1",
	}
	f.links["co_1"] = link
	return link
}

func testIngestor(f *fakeStore, proc *fakeRefunder, payouts *fakePayouts) *Ingestor {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var p Payouts
	if payouts != nil {
		p = payouts
	}
	return NewIngestor(f, proc, p, fees.Config{BasisPoints: 500, FixedFee: 50}, log)
}

func chargeEvent(id string) *domain.Event {
	return &domain.Event{
		ID:   id,
		Type: domain.EventChargeSucceeded,
		Payment: &domain.PaymentEvent{
			PaymentID:  "pay_1",
			CheckoutID: "co_1",
			Amount:     999,
			Currency:   "usd",
			Customer:   domain.CustomerDetails{Name: "Ada", Email: "ada@example.com"},
		},
	}
}

func TestIngestChargeSucceededOnce(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	ing := testIngestor(f, &fakeRefunder{}, nil)

	// Same event id delivered three times.
	for n := 0; n < 3; n++ {
		if err := ing.Ingest(context.Background(), chargeEvent("evt_1")); err != nil {
			t.Fatalf("Ingest #%d: %v", n+1, err)
		}
	}

	if len(f.transactions) != 1 {
		t.Fatalf("transactions = %d, want 1", len(f.transactions))
	}
	txn := f.transactions["pay_1"]
	if txn.Status != domain.TransactionSucceeded || txn.NetAmount != 899 {
		t.Errorf("transaction = %+v", txn)
	}
	if txn.Customer.Name != "Ada" {
		t.Errorf("customer snapshot lost: %+v", txn.Customer)
	}
	if got := f.pending["acc_1|usd"]; got != 899 {
		t.Errorf("pending = %d, want exactly one 899 credit", got)
	}
}

func TestIngestSamePaymentUnderTwoEventIDs(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	ing := testIngestor(f, &fakeRefunder{}, nil)

	if err := ing.Ingest(context.Background(), chargeEvent("evt_1")); err != nil {
		t.Fatal(err)
	}
	if err := ing.Ingest(context.Background(), chargeEvent("evt_2")); err != nil {
		t.Fatal(err)
	}
	if got := f.pending["acc_1|usd"]; got != 899 {
		t.Errorf("pending = %d after duplicate payment, want 899", got)
	}
}

func TestIngestChargeForUnknownCheckoutIsRetryable(t *testing.T) {
	ing := testIngestor(newFakeStore(), &fakeRefunder{}, nil)
	err := ing.Ingest(context.Background(), chargeEvent("evt_1"))
	if !domain.IsRetryable(err) {
		t.Errorf("got %v, want retryable", err)
	}
}

func TestIngestChargeFailedTouchesNoBalance(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	ing := testIngestor(f, &fakeRefunder{}, nil)

	ev := chargeEvent("evt_1")
	ev.Type = domain.EventChargeFailed
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if f.transactions["pay_1"].Status != domain.TransactionFailed {
		t.Errorf("status = %s, want FAILED", f.transactions["pay_1"].Status)
	}
	if got := f.pending["acc_1|usd"]; got != 0 {
		t.Errorf("pending = %d for a failed charge, want 0", got)
	}
}

func TestIngestRefund(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	ing := testIngestor(f, &fakeRefunder{}, nil)

	if err := ing.Ingest(context.Background(), chargeEvent("evt_1")); err != nil {
		t.Fatal(err)
	}

	refund := func(id string) *domain.Event {
		return &domain.Event{ID: id, Type: domain.EventChargeRefunded, Refund: &domain.RefundEvent{PaymentID: "pay_1"}}
	}
	if err := ing.Ingest(context.Background(), refund("evt_2")); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := f.pending["acc_1|usd"]; got != 0 {
		t.Errorf("pending = %d after refund, want 0", got)
	}

	// Second refund, distinct event id: no-op, decremented exactly once.
	if err := ing.Ingest(context.Background(), refund("evt_3")); err != nil {
		t.Fatalf("double refund: %v", err)
	}
	if got := f.pending["acc_1|usd"]; got != 0 {
		t.Errorf("pending = %d after double refund, want 0", got)
	}
	if f.transactions["pay_1"].Status != domain.TransactionRefunded {
		t.Errorf("status = %s, want REFUNDED", f.transactions["pay_1"].Status)
	}
}

func TestIngestRefundBeforeChargeIsRetryable(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	ing := testIngestor(f, &fakeRefunder{}, nil)

	ev := &domain.Event{ID: "evt_1", Type: domain.EventChargeRefunded, Refund: &domain.RefundEvent{PaymentID: "pay_9"}}
	err := ing.Ingest(context.Background(), ev)
	if !domain.IsRetryable(err) {
		t.Errorf("got %v, want retryable", err)
	}
}

func TestIngestRefundAfterPayoutGoesToSettled(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	ing := testIngestor(f, &fakeRefunder{}, nil)

	if err := ing.Ingest(context.Background(), chargeEvent("evt_1")); err != nil {
		t.Fatal(err)
	}
	// Simulate the payout draining pending before the refund lands.
	f.settled["acc_1|usd"] = f.pending["acc_1|usd"]
	f.pending["acc_1|usd"] = 0

	ev := &domain.Event{ID: "evt_2", Type: domain.EventChargeRefunded, Refund: &domain.RefundEvent{PaymentID: "pay_1"}}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := f.pending["acc_1|usd"]; got != 0 {
		t.Errorf("pending = %d, want untouched 0", got)
	}
	if got := f.settled["acc_1|usd"]; got != 0 {
		t.Errorf("settled = %d, want negative adjustment to 0", got)
	}
}

func TestIngestSubscriptionLifecycle(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	ing := testIngestor(f, &fakeRefunder{}, nil)

	ev := chargeEvent("evt_1")
	ev.Type = domain.EventInvoicePaid
	ev.Payment.SubscriptionID = "sub_1"
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if sub := f.subscriptions["sub_1"]; sub == nil || sub.Status != domain.SubscriptionActive {
		t.Fatalf("subscription = %+v, want active", f.subscriptions["sub_1"])
	}
	if got := f.pending["acc_1|usd"]; got != 899 {
		t.Errorf("pending = %d, invoice not credited", got)
	}

	cancel := &domain.Event{ID: "evt_2", Type: domain.EventSubscriptionCanceled, Subscription: &domain.SubscriptionEvent{SubscriptionID: "sub_1"}}
	if err := ing.Ingest(context.Background(), cancel); err != nil {
		t.Fatal(err)
	}
	if f.subscriptions["sub_1"].Status != domain.SubscriptionCanceled {
		t.Error("subscription not canceled")
	}
	// Cancellation only reflects this customer's state; the link stays up.
	if f.links["co_1"].Status != domain.LinkActive {
		t.Errorf("link status = %s, want ACTIVE", f.links["co_1"].Status)
	}
}

func TestIngestUnknownTypeIgnored(t *testing.T) {
	f := newFakeStore()
	ing := testIngestor(f, &fakeRefunder{}, nil)
	ev := &domain.Event{ID: "evt_1", Type: "balance.available"}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Errorf("unknown type: %v, want nil", err)
	}
	if f.events["evt_1"] {
		t.Error("unknown event reserved an id")
	}
}

func TestIngestAccountVerifiedTriggersPayout(t *testing.T) {
	f := newFakeStore()
	f.accounts["acct_px"] = &domain.Account{ID: "acc_1", ProcessorID: "acct_px", Status: domain.AccountNew}
	payouts := &fakePayouts{}
	ing := testIngestor(f, &fakeRefunder{}, payouts)

	ev := &domain.Event{
		ID:      "evt_1",
		Type:    domain.EventAccountUpdated,
		Account: &domain.AccountEvent{ProcessorID: "acct_px", DetailsSubmitted: true, ChargesEnabled: true},
	}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if f.accounts["acct_px"].Status != domain.AccountVerified {
		t.Errorf("status = %s, want VERIFIED", f.accounts["acct_px"].Status)
	}
	if len(payouts.accounts) != 1 || payouts.accounts[0] != "acc_1" {
		t.Errorf("payout requests = %v, want [acc_1]", payouts.accounts)
	}

	// Replay must neither downgrade nor pay out again.
	ev2 := &domain.Event{
		ID:      "evt_2",
		Type:    domain.EventAccountUpdated,
		Account: &domain.AccountEvent{ProcessorID: "acct_px", DetailsSubmitted: true},
	}
	if err := ing.Ingest(context.Background(), ev2); err != nil {
		t.Fatal(err)
	}
	if f.accounts["acct_px"].Status != domain.AccountVerified {
		t.Errorf("status downgraded to %s", f.accounts["acct_px"].Status)
	}
	if len(payouts.accounts) != 1 {
		t.Errorf("payout triggered %d times, want 1", len(payouts.accounts))
	}
}

func TestMerchantRefund(t *testing.T) {
	f := newFakeStore()
	seededLink(f)
	proc := &fakeRefunder{}
	ing := testIngestor(f, proc, nil)

	if err := ing.Ingest(context.Background(), chargeEvent("evt_1")); err != nil {
		t.Fatal(err)
	}

	txn, err := ing.Refund(context.Background(), "acc_1", "pay_1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if txn.Status != domain.TransactionRefunded {
		t.Errorf("status = %s, want REFUNDED", txn.Status)
	}
	if proc.calls != 1 {
		t.Errorf("processor refund calls = %d, want 1", proc.calls)
	}
	if got := f.pending["acc_1|usd"]; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}

	// Second attempt is an explicit conflict, not a second decrement.
	_, err = ing.Refund(context.Background(), "acc_1", "pay_1")
	if !domain.IsConflict(err) {
		t.Errorf("double refund: got %v, want conflict", err)
	}
	if proc.calls != 1 {
		t.Errorf("processor called again on conflict: %d", proc.calls)
	}

	if _, err := ing.Refund(context.Background(), "acc_1", "pay_missing"); err == nil {
		t.Error("refund of unknown payment succeeded")
	}
}
