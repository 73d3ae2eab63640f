// Package ingest records processor notifications exactly once and is the
// only writer of the transaction ledger. Deliveries are unordered and may
// repeat; everything here is conditional writes keyed on the external
// event id.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/fees"
	"github.com/lumapay/linkledger/internal/store"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_ingest_events_total",
	Help: "Processor events ingested, labeled by type and outcome",
}, []string{"type", "outcome"})

// Store is the transactional persistence the ingestor drives. Each method
// is atomic; RecordPayment and RecordRefund absorb duplicate event ids.
type Store interface {
	LinkByCheckout(ctx context.Context, checkoutID string) (*domain.Link, error)
	RecordPayment(ctx context.Context, eventID string, txn *domain.Transaction, sub *domain.CustomerSubscription) (bool, error)
	RecordRefund(ctx context.Context, eventID, paymentID string) (*domain.Transaction, bool, error)
	CancelSubscription(ctx context.Context, eventID, subscriptionID string) (bool, error)
	PromoteAccount(ctx context.Context, processorID string, status domain.AccountStatus) (*domain.Account, bool, error)
	GetTransaction(ctx context.Context, accountID, paymentID string) (*domain.Transaction, error)
}

// Refunder asks the processor to reverse a charge.
type Refunder interface {
	Refund(ctx context.Context, paymentID string) error
}

// Payouts drains an account's pending balances. Used when verification
// completes and previously held funds become transferable.
type Payouts interface {
	RequestPayout(ctx context.Context, accountID string) (*domain.PayoutResult, error)
}

type Ingestor struct {
	store     Store
	processor Refunder
	payouts   Payouts
	fees      fees.Config
	log       *slog.Logger
}

func NewIngestor(s Store, proc Refunder, payouts Payouts, feeCfg fees.Config, log *slog.Logger) *Ingestor {
	return &Ingestor{store: s, processor: proc, payouts: payouts, fees: feeCfg, log: log}
}

// Ingest applies one event. A nil return acknowledges the delivery; a
// retryable error tells the caller to answer so the processor redelivers.
func (i *Ingestor) Ingest(ctx context.Context, ev *domain.Event) error {
	var err error
	switch ev.Type {
	case domain.EventChargeSucceeded, domain.EventInvoicePaid:
		err = i.payment(ctx, ev, domain.TransactionSucceeded)
	case domain.EventChargeFailed:
		err = i.payment(ctx, ev, domain.TransactionFailed)
	case domain.EventChargeRefunded:
		err = i.refund(ctx, ev)
	case domain.EventSubscriptionCanceled:
		err = i.cancelSubscription(ctx, ev)
	case domain.EventAccountUpdated:
		err = i.accountUpdated(ctx, ev)
	default:
		i.log.Info("ignoring unknown event type", "event_id", ev.ID, "type", ev.Type)
		eventsTotal.WithLabelValues(string(ev.Type), "ignored").Inc()
		return nil
	}

	if err != nil {
		eventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
		return err
	}
	eventsTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	return nil
}

func (i *Ingestor) payment(ctx context.Context, ev *domain.Event, status domain.TransactionStatus) error {
	p := ev.Payment
	if p == nil || p.PaymentID == "" {
		return domain.Permanent(fmt.Errorf("event %s carries no payment", ev.ID))
	}

	link, err := i.store.LinkByCheckout(ctx, p.CheckoutID)
	if errors.Is(err, store.ErrNotFound) {
		// The link write may still be in flight; ask for redelivery.
		return domain.Transient(fmt.Errorf("no link for checkout %s", p.CheckoutID))
	}
	if err != nil {
		return err
	}

	txn := &domain.Transaction{
		PaymentID: p.PaymentID,
		AccountID: link.AccountID,
		LinkID:    link.ID,
		Amount:    p.Amount,
		NetAmount: i.net(link, p),
		Currency:  p.Currency,
		Status:    status,
		Customer:  p.Customer,
	}

	var sub *domain.CustomerSubscription
	if p.SubscriptionID != "" && status == domain.TransactionSucceeded {
		sub = &domain.CustomerSubscription{
			ID:            p.SubscriptionID,
			LinkID:        link.ID,
			AccountID:     link.AccountID,
			Status:        domain.SubscriptionActive,
			CustomerEmail: p.Customer.Email,
		}
	}

	created, err := i.store.RecordPayment(ctx, ev.ID, txn, sub)
	if err != nil {
		return fmt.Errorf("record payment %s: %w", p.PaymentID, err)
	}
	if !created {
		i.log.Info("duplicate payment event", "event_id", ev.ID, "payment_id", p.PaymentID)
		return nil
	}
	i.log.Info("payment recorded",
		"payment_id", p.PaymentID, "link_id", link.ID, "account_id", link.AccountID,
		"amount", p.Amount, "net", txn.NetAmount, "currency", p.Currency, "status", status)
	return nil
}

// net resolves the merchant's share of a charge. Charges for the link's
// face amount reuse the split computed at creation; anything else (e.g. a
// processor-side adjustment) is split with the current schedule.
func (i *Ingestor) net(link *domain.Link, p *domain.PaymentEvent) int64 {
	if p.Amount == link.Amount && p.Currency == link.Currency {
		return link.NetAmount
	}
	split, err := fees.Calculate(p.Amount, p.Currency, i.fees)
	if err != nil {
		i.log.Warn("charge amount below fee floor, net clamped to zero",
			"payment_id", p.PaymentID, "amount", p.Amount)
		return 0
	}
	return split.Net
}

func (i *Ingestor) refund(ctx context.Context, ev *domain.Event) error {
	if ev.Refund == nil || ev.Refund.PaymentID == "" {
		return domain.Permanent(fmt.Errorf("event %s carries no refund", ev.ID))
	}

	txn, applied, err := i.store.RecordRefund(ctx, ev.ID, ev.Refund.PaymentID)
	if errors.Is(err, store.ErrNotFound) {
		// Refund delivered before its charge. Retryable: the succeeded
		// event has not landed yet.
		return domain.Transient(fmt.Errorf("refund for unknown payment %s", ev.Refund.PaymentID))
	}
	if domain.IsConflict(err) {
		// A PENDING or FAILED charge cannot be refunded; redelivery will
		// not change that.
		i.log.Error("refund for non-refundable transaction", "event_id", ev.ID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record refund %s: %w", ev.Refund.PaymentID, err)
	}
	if !applied {
		i.log.Info("duplicate refund event", "event_id", ev.ID, "payment_id", ev.Refund.PaymentID)
		return nil
	}
	i.log.Info("refund recorded",
		"payment_id", txn.PaymentID, "account_id", txn.AccountID, "net", txn.NetAmount, "currency", txn.Currency)
	return nil
}

func (i *Ingestor) cancelSubscription(ctx context.Context, ev *domain.Event) error {
	if ev.Subscription == nil || ev.Subscription.SubscriptionID == "" {
		return domain.Permanent(fmt.Errorf("event %s carries no subscription", ev.ID))
	}
	canceled, err := i.store.CancelSubscription(ctx, ev.ID, ev.Subscription.SubscriptionID)
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", ev.Subscription.SubscriptionID, err)
	}
	if canceled {
		i.log.Info("subscription canceled", "subscription_id", ev.Subscription.SubscriptionID)
	}
	return nil
}

func (i *Ingestor) accountUpdated(ctx context.Context, ev *domain.Event) error {
	if ev.Account == nil || ev.Account.ProcessorID == "" {
		return domain.Permanent(fmt.Errorf("event %s carries no account", ev.ID))
	}

	status := ev.Account.VerificationStatus()
	acct, promoted, err := i.store.PromoteAccount(ctx, ev.Account.ProcessorID, status)
	if errors.Is(err, store.ErrNotFound) {
		i.log.Warn("account update for unknown processor account", "processor_id", ev.Account.ProcessorID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("promote account %s: %w", ev.Account.ProcessorID, err)
	}
	if !promoted {
		return nil
	}
	i.log.Info("account verification updated", "account_id", acct.ID, "status", status)

	// Funds collected while verification was incomplete become
	// transferable now; drain them.
	if status == domain.AccountVerified && i.payouts != nil {
		result, err := i.payouts.RequestPayout(ctx, acct.ID)
		if err != nil {
			i.log.Error("post-verification payout failed", "account_id", acct.ID, "error", err)
			return nil
		}
		for currency, reason := range result.Failed {
			i.log.Warn("post-verification payout currency failed",
				"account_id", acct.ID, "currency", currency, "reason", reason)
		}
	}
	return nil
}

// Refund is the merchant-initiated path. It validates the transaction,
// asks the processor to reverse the charge, then applies the same
// conditional local refund the webhook path uses, so the two stay
// idempotent against each other.
func (i *Ingestor) Refund(ctx context.Context, accountID, paymentID string) (*domain.Transaction, error) {
	txn, err := i.store.GetTransaction(ctx, accountID, paymentID)
	if err != nil {
		return nil, err
	}
	switch txn.Status {
	case domain.TransactionRefunded:
		return nil, domain.Conflictf("already_refunded")
	case domain.TransactionSucceeded:
	default:
		return nil, domain.Conflictf("transaction %s is %s, not refundable", paymentID, txn.Status)
	}

	if err := i.processor.Refund(ctx, paymentID); err != nil {
		return nil, fmt.Errorf("processor refund: %w", err)
	}

	txn, applied, err := i.store.RecordRefund(ctx, "", paymentID)
	if err != nil {
		return nil, err
	}
	if !applied {
		// The webhook delivery won the race; the refund stands either way.
		i.log.Info("refund already applied by event ingestion", "payment_id", paymentID)
	}
	return txn, nil
}
