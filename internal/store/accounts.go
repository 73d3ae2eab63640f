package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/ledger"
)

const accountColumns = "id, business_name, email, country, verification_status, processor_id, created_at, deactivated_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.BusinessName, &a.Email, &a.Country, &a.Status, &a.ProcessorID, &a.CreatedAt, &a.DeactivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	err := s.Db.QueryRow(ctx, `
		INSERT INTO accounts (id, business_name, email, country, verification_status, processor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		a.ID, a.BusinessName, a.Email, a.Country, a.Status, a.ProcessorID).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
	return scanAccount(row)
}

// PromoteAccount raises the verification status of the account holding the
// given processor reference. Downgrades are silently dropped: the second
// return is true only when this call moved the status forward.
func (s *Store) PromoteAccount(ctx context.Context, processorID string, status domain.AccountStatus) (*domain.Account, bool, error) {
	row := s.Db.QueryRow(ctx, `
		UPDATE accounts SET verification_status = $2
		WHERE processor_id = $1
		  AND (CASE verification_status WHEN 'RESTRICTED' THEN 1 WHEN 'VERIFIED' THEN 2 ELSE 0 END) < $3
		RETURNING `+accountColumns,
		processorID, status, status.Rank())
	a, err := scanAccount(row)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("promote account: %w", err)
	}

	// Nothing updated: either the account is unknown or already at or past
	// the target status.
	row = s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE processor_id = $1", processorID)
	a, err = scanAccount(row)
	if err != nil {
		return nil, false, err
	}
	return a, false, nil
}

// Balances returns the account's per-currency snapshot.
func (s *Store) Balances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	return ledger.Snapshot(ctx, s.Db, accountID)
}
