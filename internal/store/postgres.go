// Package store is the Postgres persistence layer. Multi-step flows
// (event ingestion, payout settlement) run as single transactions here so
// that idempotency reservations commit together with their effects.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/lumapay/linkledger/internal/ledger"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrPayoutInFlight = errors.New("payout already in flight")
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate applies the goose migrations from dir. Goose drives a
// database/sql connection, so one is opened just for this.
func Migrate(connString, dir string) error {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// reserveEvent claims an external event id. A false return means another
// delivery of the same event already claimed it.
func reserveEvent(ctx context.Context, db ledger.Execer, eventID, eventType string) (bool, error) {
	tag, err := db.Exec(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("reserve event %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

type outboxEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// appendOutbox queues a ledger event for the relay inside the caller's
// transaction, so the event exists exactly when its cause committed.
func appendOutbox(ctx context.Context, db ledger.Execer, entityID, eventType string, data any) error {
	payload, err := json.Marshal(outboxEvent{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = db.Exec(ctx,
		"INSERT INTO outbox_messages (id, entity_id, payload) VALUES ($1, $2, $3)",
		uuid.NewString(), entityID, string(payload))
	if err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}
