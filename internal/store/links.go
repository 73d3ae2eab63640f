package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumapay/linkledger/internal/domain"
)

const linkColumns = `id, account_id, kind, title, description, amount, currency,
	service_fee, net_amount, status, required_fields, recurring_interval,
	expires_at, checkout_id, url, checkout_disabled_at, total_collected,
	net_earned, created_at`

func scanLink(row pgx.Row) (*domain.Link, error) {
	var l domain.Link
	err := row.Scan(&l.ID, &l.AccountID, &l.Kind, &l.Title, &l.Description,
		&l.Amount, &l.Currency, &l.ServiceFee, &l.NetAmount, &l.Status,
		&l.RequiredFields, &l.Interval, &l.ExpiresAt, &l.CheckoutID, &l.URL,
		&l.CheckoutDisabledAt, &l.TotalCollected, &l.NetEarned, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan link: %w", err)
	}
	return &l, nil
}

func (s *Store) CreateLink(ctx context.Context, l *domain.Link) error {
	if l.RequiredFields == nil {
		l.RequiredFields = []string{}
	}
	err := s.Db.QueryRow(ctx, `
		INSERT INTO links (id, account_id, kind, title, description, amount,
			currency, service_fee, net_amount, status, required_fields,
			recurring_interval, expires_at, checkout_id, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`,
		l.ID, l.AccountID, l.Kind, l.Title, l.Description, l.Amount,
		l.Currency, l.ServiceFee, l.NetAmount, l.Status, l.RequiredFields,
		l.Interval, l.ExpiresAt, l.CheckoutID, l.URL).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	return nil
}

func (s *Store) GetLink(ctx context.Context, accountID, id string) (*domain.Link, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+linkColumns+" FROM links WHERE id = $1 AND account_id = $2", id, accountID)
	return scanLink(row)
}

// LinkByCheckout resolves a link from the processor's checkout object id,
// the reference webhook events carry.
func (s *Store) LinkByCheckout(ctx context.Context, checkoutID string) (*domain.Link, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+linkColumns+" FROM links WHERE checkout_id = $1", checkoutID)
	return scanLink(row)
}

func (s *Store) ListLinks(ctx context.Context, accountID string) ([]domain.Link, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+linkColumns+" FROM links WHERE account_id = $1 ORDER BY created_at DESC", accountID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []domain.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// DisableLink transitions ACTIVE -> DISABLED. The conditional write makes
// the operation idempotent: a link already DISABLED or EXPIRED is left
// untouched and returned as-is.
func (s *Store) DisableLink(ctx context.Context, accountID, id string) (*domain.Link, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin disable link: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE links SET status = 'DISABLED' WHERE id = $1 AND account_id = $2 AND status = 'ACTIVE'",
		id, accountID)
	if err != nil {
		return nil, fmt.Errorf("disable link: %w", err)
	}
	if tag.RowsAffected() == 1 {
		if err := appendOutbox(ctx, tx, id, "link.disabled", map[string]string{"link_id": id}); err != nil {
			return nil, err
		}
	}

	l, err := scanLink(tx.QueryRow(ctx,
		"SELECT "+linkColumns+" FROM links WHERE id = $1 AND account_id = $2", id, accountID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit disable link: %w", err)
	}
	return l, nil
}

// ExpiryCandidates returns ACTIVE links whose expiry has passed, oldest
// expiry first, capped at limit so a sweep run stays bounded.
func (s *Store) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]domain.Link, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expiry candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// MarkCheckoutDisabled records that the upstream checkout object was
// deactivated, so a later sweep run does not repeat the upstream call when
// only the local transition remains.
func (s *Store) MarkCheckoutDisabled(ctx context.Context, id string) error {
	_, err := s.Db.Exec(ctx,
		"UPDATE links SET checkout_disabled_at = now() WHERE id = $1 AND checkout_disabled_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("mark checkout disabled: %w", err)
	}
	return nil
}

// ExpireLink transitions ACTIVE -> EXPIRED. The status condition is the
// mutual-exclusion point for overlapping sweep runs: only one caller sees
// a true return for a given link.
func (s *Store) ExpireLink(ctx context.Context, id string) (bool, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin expire link: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE links SET status = 'EXPIRED' WHERE id = $1 AND status = 'ACTIVE'", id)
	if err != nil {
		return false, fmt.Errorf("expire link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := appendOutbox(ctx, tx, id, "link.expired", map[string]string{"link_id": id}); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit expire link: %w", err)
	}
	return true, nil
}
