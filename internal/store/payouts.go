package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/ledger"
)

// CreatePayoutAttempt reserves the right to transfer one currency for one
// account. The partial unique index on in-flight attempts makes this the
// serialization point: a concurrent attempt for the same (account,
// currency) hits a unique violation and gets ErrPayoutInFlight.
func (s *Store) CreatePayoutAttempt(ctx context.Context, a *domain.PayoutAttempt) error {
	err := s.Db.QueryRow(ctx, `
		INSERT INTO payout_attempts (id, account_id, currency, amount, outcome, idempotency_token)
		VALUES ($1, $2, $3, $4, 'IN_FLIGHT', $5)
		RETURNING created_at`,
		a.ID, a.AccountID, a.Currency, a.Amount, a.IdempotencyToken).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPayoutInFlight
		}
		return fmt.Errorf("create payout attempt: %w", err)
	}
	a.Outcome = domain.PayoutInFlight
	return nil
}

// CompletePayoutAttempt records a successful transfer and settles exactly
// the amount the processor reported, in one transaction.
func (s *Store) CompletePayoutAttempt(ctx context.Context, a *domain.PayoutAttempt, transferID string, amount int64) error {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete payout: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payout_attempts SET outcome = 'TRANSFERRED', transfer_id = $2, finished_at = now()
		WHERE id = $1 AND outcome = 'IN_FLIGHT'`,
		a.ID, transferID)
	if err != nil {
		return fmt.Errorf("complete payout attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout attempt %s is not in flight", a.ID)
	}

	if err := ledger.Settle(ctx, tx, a.AccountID, a.Currency, amount); err != nil {
		return err
	}
	if err := appendOutbox(ctx, tx, a.AccountID, "payout.settled", map[string]any{
		"account_id":  a.AccountID,
		"currency":    a.Currency,
		"amount":      amount,
		"transfer_id": transferID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete payout: %w", err)
	}
	return nil
}

// ReleaseStalePayoutAttempts fails in-flight attempts older than the
// cutoff, so a crash between transfer and settlement cannot block an
// account's payouts forever. The follow-up attempt is safe: an unchanged
// pending snapshot presents the same idempotency token and the processor
// deduplicates the transfer.
func (s *Store) ReleaseStalePayoutAttempts(ctx context.Context, accountID string, olderThan time.Duration) (int, error) {
	tag, err := s.Db.Exec(ctx, `
		UPDATE payout_attempts SET outcome = 'FAILED',
			failure_reason = 'released after in-flight timeout', finished_at = now()
		WHERE account_id = $1 AND outcome = 'IN_FLIGHT' AND created_at < $2`,
		accountID, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("release stale payout attempts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FailPayoutAttempt closes an attempt with its failure reason, releasing
// the in-flight reservation for that currency.
func (s *Store) FailPayoutAttempt(ctx context.Context, attemptID, reason string) error {
	_, err := s.Db.Exec(ctx, `
		UPDATE payout_attempts SET outcome = 'FAILED', failure_reason = $2, finished_at = now()
		WHERE id = $1 AND outcome = 'IN_FLIGHT'`,
		attemptID, reason)
	if err != nil {
		return fmt.Errorf("fail payout attempt: %w", err)
	}
	return nil
}
