package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/ledger"
)

const txnColumns = `account_id, payment_id, link_id, amount, net_amount, currency,
	status, customer_name, customer_email, customer_phone, customer_address,
	refunded_at, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.AccountID, &t.PaymentID, &t.LinkID, &t.Amount, &t.NetAmount,
		&t.Currency, &t.Status, &t.Customer.Name, &t.Customer.Email,
		&t.Customer.Phone, &t.Customer.Address, &t.RefundedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

// RecordPayment ingests one charge event in a single transaction: event
// reservation, transaction row, link running totals, pending balance
// credit, subscription upsert and outbox entry all commit together. A
// false return means the event id was already processed and nothing
// happened.
func (s *Store) RecordPayment(ctx context.Context, eventID string, txn *domain.Transaction, sub *domain.CustomerSubscription) (bool, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin record payment: %w", err)
	}
	defer tx.Rollback(ctx)

	fresh, err := reserveEvent(ctx, tx, eventID, "payment")
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO transactions (account_id, payment_id, link_id, amount,
			net_amount, currency, status, customer_name, customer_email,
			customer_phone, customer_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, payment_id) DO NOTHING`,
		txn.AccountID, txn.PaymentID, txn.LinkID, txn.Amount, txn.NetAmount,
		txn.Currency, txn.Status, txn.Customer.Name, txn.Customer.Email,
		txn.Customer.Phone, txn.Customer.Address)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Same payment delivered under a second event id. Keep the
		// reservation so neither id is replayed, but apply no effects.
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit record payment: %w", err)
		}
		return false, nil
	}

	if txn.Status == domain.TransactionSucceeded {
		_, err = tx.Exec(ctx,
			"UPDATE links SET total_collected = total_collected + $2, net_earned = net_earned + $3 WHERE id = $1",
			txn.LinkID, txn.Amount, txn.NetAmount)
		if err != nil {
			return false, fmt.Errorf("bump link totals: %w", err)
		}
		if err := ledger.AddPending(ctx, tx, txn.AccountID, txn.Currency, txn.NetAmount); err != nil {
			return false, err
		}
	}

	if sub != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO customer_subscriptions (id, link_id, account_id, status, customer_email)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			sub.ID, sub.LinkID, sub.AccountID, sub.Status, sub.CustomerEmail)
		if err != nil {
			return false, fmt.Errorf("upsert subscription: %w", err)
		}
	}

	if err := appendOutbox(ctx, tx, txn.PaymentID, "payment.recorded", txn); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit record payment: %w", err)
	}
	return true, nil
}

// RecordRefund marks a transaction REFUNDED and reverses its net amount.
// eventID may be empty for merchant-initiated refunds; webhook deliveries
// pass the event id so redeliveries are absorbed. Returns the transaction
// and whether this call applied the refund: (txn, false, nil) means it was
// already refunded, a reported no-op. ErrNotFound means the charge has not
// been ingested yet, which webhook callers treat as retryable.
func (s *Store) RecordRefund(ctx context.Context, eventID, paymentID string) (*domain.Transaction, bool, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin record refund: %w", err)
	}
	defer tx.Rollback(ctx)

	if eventID != "" {
		fresh, err := reserveEvent(ctx, tx, eventID, "refund")
		if err != nil {
			return nil, false, err
		}
		if !fresh {
			return nil, false, nil
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE transactions SET status = 'REFUNDED', refunded_at = now()
		WHERE payment_id = $1 AND status = 'SUCCEEDED'
		RETURNING `+txnColumns, paymentID)
	txn, err := scanTransaction(row)
	if errors.Is(err, ErrNotFound) {
		// No SUCCEEDED row to flip. Distinguish an unknown payment from
		// one already refunded or never refundable.
		txn, err = scanTransaction(tx.QueryRow(ctx,
			"SELECT "+txnColumns+" FROM transactions WHERE payment_id = $1", paymentID))
		if err != nil {
			return nil, false, err
		}
		if txn.Status != domain.TransactionRefunded {
			return nil, false, domain.Conflictf("transaction %s is %s, not refundable", paymentID, txn.Status)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit record refund: %w", err)
		}
		return txn, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := ledger.ApplyRefund(ctx, tx, txn.AccountID, txn.Currency, txn.NetAmount); err != nil {
		return nil, false, err
	}
	_, err = tx.Exec(ctx,
		"UPDATE links SET total_collected = total_collected - $2, net_earned = net_earned - $3 WHERE id = $1",
		txn.LinkID, txn.Amount, txn.NetAmount)
	if err != nil {
		return nil, false, fmt.Errorf("reverse link totals: %w", err)
	}
	if err := appendOutbox(ctx, tx, paymentID, "payment.refunded", txn); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit record refund: %w", err)
	}
	return txn, true, nil
}

func (s *Store) GetTransaction(ctx context.Context, accountID, paymentID string) (*domain.Transaction, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+txnColumns+" FROM transactions WHERE account_id = $1 AND payment_id = $2",
		accountID, paymentID)
	return scanTransaction(row)
}

// TransactionFilter narrows a listing. Limit is clamped to [1, 100];
// Cursor is the opaque token from a previous page.
type TransactionFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Cursor string
}

// ListTransactions pages newest-first with a (created_at, payment_id)
// keyset cursor. The second return is the cursor for the next page, empty
// when this page is the last.
func (s *Store) ListTransactions(ctx context.Context, accountID string, f TransactionFilter) ([]domain.Transaction, string, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + txnColumns + " FROM transactions WHERE account_id = $1")
	args := []any{accountID}

	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND created_at <= $%d", len(args))
	}
	if f.Cursor != "" {
		at, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, "", domain.Validationf("cursor", "malformed pagination cursor")
		}
		args = append(args, at, id)
		fmt.Fprintf(&sb, " AND (created_at, payment_id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, payment_id DESC LIMIT $%d", len(args))

	rows, err := s.Db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, "", fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = encodeCursor(last.CreatedAt, last.PaymentID)
	}
	return out, next, nil
}

func encodeCursor(at time.Time, paymentID string) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + paymentID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return time.Time{}, "", fmt.Errorf("missing cursor separator")
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", err
	}
	return t, id, nil
}

// CancelSubscription marks a customer's recurring enrollment canceled. The
// link itself stays ACTIVE; only this customer's subscription state moves.
func (s *Store) CancelSubscription(ctx context.Context, eventID, subscriptionID string) (bool, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin cancel subscription: %w", err)
	}
	defer tx.Rollback(ctx)

	if eventID != "" {
		fresh, err := reserveEvent(ctx, tx, eventID, "subscription")
		if err != nil {
			return false, err
		}
		if !fresh {
			return false, nil
		}
	}

	tag, err := tx.Exec(ctx,
		"UPDATE customer_subscriptions SET status = 'canceled', canceled_at = now() WHERE id = $1 AND status = 'active'",
		subscriptionID)
	if err != nil {
		return false, fmt.Errorf("cancel subscription: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit cancel subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
