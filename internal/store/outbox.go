package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
)

// ProcessOutbox fetches a batch of unpublished messages under
// FOR UPDATE SKIP LOCKED, hands them to publish, and marks them processed
// in the same transaction. If publish fails the transaction rolls back and
// the batch is retried later; concurrent relays skip each other's locked
// rows instead of blocking.
func (s *Store) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []domain.OutboxMessage) error) (int, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin outbox batch: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, entity_id, payload, created_at FROM outbox_messages
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}

	var messages []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.EntityID, &m.Payload, &m.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox message: %w", err)
		}
		messages = append(messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	if err := publish(ctx, messages); err != nil {
		return 0, fmt.Errorf("publish outbox batch: %w", err)
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	_, err = tx.Exec(ctx,
		"UPDATE outbox_messages SET processed_at = $1 WHERE id = ANY($2)",
		time.Now(), ids)
	if err != nil {
		return 0, fmt.Errorf("mark outbox processed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	return len(messages), nil
}
