// Package ledger owns every balance mutation. Each operation is a single
// atomic SQL statement, never a read-modify-write cycle, so concurrent
// ingestions and payouts on the same account cannot lose updates. Callers
// pass their own transaction when a balance change must commit together
// with other writes.
package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lumapay/linkledger/internal/domain"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AddPending credits a merchant's pending balance, creating the currency row
// on first use.
func AddPending(ctx context.Context, db Execer, accountID, currency string, amount int64) error {
	if amount <= 0 {
		return domain.Validationf("amount", "pending credit must be positive, got %d", amount)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO balances (account_id, currency, pending, settled)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (account_id, currency)
		DO UPDATE SET pending = balances.pending + EXCLUDED.pending, updated_at = now()`,
		accountID, currency, amount)
	if err != nil {
		return fmt.Errorf("add pending: %w", err)
	}
	return nil
}

// ApplyRefund reverses a previously credited net amount. While the funds are
// still pending the refund deducts from pending; once they have been paid
// out it becomes a negative settled adjustment, reconciled by the next
// payout cycle. The choice is made inside one statement against the row as
// it is at execution time.
func ApplyRefund(ctx context.Context, db Execer, accountID, currency string, amount int64) error {
	if amount <= 0 {
		return domain.Validationf("amount", "refund must be positive, got %d", amount)
	}
	tag, err := db.Exec(ctx, `
		UPDATE balances SET
			pending = CASE WHEN pending >= $3 THEN pending - $3 ELSE pending END,
			settled = CASE WHEN pending >= $3 THEN settled ELSE settled - $3 END,
			updated_at = now()
		WHERE account_id = $1 AND currency = $2`,
		accountID, currency, amount)
	if err != nil {
		return fmt.Errorf("apply refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no balance row for account %s currency %s", accountID, currency)
	}
	return nil
}

// Settle moves an amount actually transferred upstream from pending into
// settled. The caller passes the amount the processor reported, which may
// be less than the pending snapshot it started from. A refund may have
// drained part of that snapshot between the transfer request and this
// write; the shortfall is a refund of funds already out the door, so only
// what is left in pending moves and settled absorbs the difference.
// Pending never goes negative.
func Settle(ctx context.Context, db Execer, accountID, currency string, amount int64) error {
	if amount <= 0 {
		return domain.Validationf("amount", "settlement must be positive, got %d", amount)
	}
	tag, err := db.Exec(ctx, `
		UPDATE balances SET
			pending = CASE WHEN pending >= $3 THEN pending - $3 ELSE 0 END,
			settled = CASE WHEN pending >= $3 THEN settled + $3 ELSE settled + pending END,
			updated_at = now()
		WHERE account_id = $1 AND currency = $2`,
		accountID, currency, amount)
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no balance row for account %s currency %s", accountID, currency)
	}
	return nil
}

// Snapshot returns every currency position for an account, pending and
// settled, ordered by currency for stable output.
func Snapshot(ctx context.Context, db Querier, accountID string) ([]domain.Balance, error) {
	rows, err := db.Query(ctx,
		"SELECT currency, pending, settled FROM balances WHERE account_id = $1 ORDER BY currency",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("snapshot balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Currency, &b.Pending, &b.Settled); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
