// Package payout drains pending balances into settled ones, one transfer
// per currency. Partial failure is the expected shape of the result, not
// an error.
package payout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/processor"
	"github.com/lumapay/linkledger/internal/store"
)

var transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_payout_transfers_total",
	Help: "Payout transfer attempts, labeled by outcome",
}, []string{"outcome"})

// Store is the slice of persistence the coordinator needs.
// CreatePayoutAttempt returns store.ErrPayoutInFlight when another attempt
// for the same (account, currency) has not finished, which is the
// serialization guarantee against overlapping payout requests.
type Store interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	Balances(ctx context.Context, accountID string) ([]domain.Balance, error)
	CreatePayoutAttempt(ctx context.Context, a *domain.PayoutAttempt) error
	CompletePayoutAttempt(ctx context.Context, a *domain.PayoutAttempt, transferID string, amount int64) error
	FailPayoutAttempt(ctx context.Context, attemptID, reason string) error
	ReleaseStalePayoutAttempts(ctx context.Context, accountID string, olderThan time.Duration) (int, error)
}

// staleAttemptAge bounds how long a crashed attempt can hold the
// in-flight reservation for its currency.
const staleAttemptAge = 15 * time.Minute

// Transferer initiates the upstream transfer.
type Transferer interface {
	Transfer(ctx context.Context, req processor.TransferRequest) (*processor.Transfer, error)
}

type Coordinator struct {
	store     Store
	processor Transferer
	log       *slog.Logger
}

func NewCoordinator(s Store, proc Transferer, log *slog.Logger) *Coordinator {
	return &Coordinator{store: s, processor: proc, log: log}
}

// RequestPayout attempts one transfer per currency with a positive pending
// balance. Failures are collected per currency and never short-circuit the
// remaining currencies; the method itself errors only when the account or
// its balances cannot be read.
func (c *Coordinator) RequestPayout(ctx context.Context, accountID string) (*domain.PayoutResult, error) {
	acct, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if n, err := c.store.ReleaseStalePayoutAttempts(ctx, accountID, staleAttemptAge); err != nil {
		c.log.Error("releasing stale payout attempts", "account_id", accountID, "error", err)
	} else if n > 0 {
		c.log.Warn("released stale payout attempts", "account_id", accountID, "count", n)
	}
	balances, err := c.store.Balances(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })

	result := domain.NewPayoutResult()
	for _, b := range balances {
		if b.Pending <= 0 {
			continue
		}
		c.payOne(ctx, acct, b, result)
	}
	return result, nil
}

func (c *Coordinator) payOne(ctx context.Context, acct *domain.Account, b domain.Balance, result *domain.PayoutResult) {
	attempt := &domain.PayoutAttempt{
		ID:               uuid.NewString(),
		AccountID:        acct.ID,
		Currency:         b.Currency,
		Amount:           b.Pending,
		IdempotencyToken: idempotencyToken(acct.ID, b.Currency, b.Pending),
	}

	if err := c.store.CreatePayoutAttempt(ctx, attempt); err != nil {
		if errors.Is(err, store.ErrPayoutInFlight) {
			result.Failed[b.Currency] = "payout already in flight"
			transfersTotal.WithLabelValues("conflict").Inc()
			return
		}
		result.Failed[b.Currency] = err.Error()
		transfersTotal.WithLabelValues("failed").Inc()
		return
	}

	transfer, err := c.processor.Transfer(ctx, processor.TransferRequest{
		AccountID:      acct.ProcessorID,
		Amount:         b.Pending,
		Currency:       b.Currency,
		IdempotencyKey: attempt.IdempotencyToken,
	})
	if err != nil {
		reason := failureReason(err)
		if ferr := c.store.FailPayoutAttempt(ctx, attempt.ID, reason); ferr != nil {
			c.log.Error("closing failed payout attempt", "attempt_id", attempt.ID, "error", ferr)
		}
		result.Failed[b.Currency] = reason
		transfersTotal.WithLabelValues("failed").Inc()
		c.log.Warn("payout transfer failed",
			"account_id", acct.ID, "currency", b.Currency, "amount", b.Pending, "reason", reason)
		return
	}

	// Settle exactly what the processor says it moved, which may be less
	// than the pending snapshot.
	if err := c.store.CompletePayoutAttempt(ctx, attempt, transfer.ID, transfer.Amount); err != nil {
		// The transfer went through but settlement did not commit; the
		// idempotency token keeps a retried attempt from moving money
		// twice, so surface the currency as failed for reconciliation.
		result.Failed[b.Currency] = fmt.Sprintf("transfer %s succeeded but settlement failed: %v", transfer.ID, err)
		transfersTotal.WithLabelValues("settle_failed").Inc()
		c.log.Error("settlement after transfer failed",
			"account_id", acct.ID, "currency", b.Currency, "transfer_id", transfer.ID, "error", err)
		return
	}

	result.Transferred[b.Currency] = transfer.Amount
	result.PayoutIDs[b.Currency] = transfer.ID
	transfersTotal.WithLabelValues("transferred").Inc()
	c.log.Info("payout transferred",
		"account_id", acct.ID, "currency", b.Currency, "amount", transfer.Amount, "transfer_id", transfer.ID)
}

// idempotencyToken is deterministic over the pending snapshot: retrying an
// unchanged balance reuses the token and the processor deduplicates the
// transfer.
func idempotencyToken(accountID, currency string, pending int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", accountID, currency, pending)))
	return "payout:" + hex.EncodeToString(sum[:16])
}

func failureReason(err error) string {
	var pe *domain.PermanentError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
