// Package outbox relays committed ledger events to Kafka. Messages are
// written by the store inside the same transaction as the change they
// describe; the relay polls, publishes and marks them processed so the
// dashboard's activity stream never sees an event whose cause rolled back.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumapay/linkledger/internal/domain"
)

var relayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_outbox_messages_total",
	Help: "Outbox messages relayed, labeled by outcome",
}, []string{"outcome"})

// Store fetches a locked batch, runs publish, and marks the batch
// processed only when publish returned nil.
type Store interface {
	ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []domain.OutboxMessage) error) (int, error)
}

// Publisher delivers a batch to the broker. A batch is retried whole on
// failure, so consumers must tolerate redelivery.
type Publisher interface {
	Publish(ctx context.Context, messages []domain.OutboxMessage) error
}

type Relay struct {
	store     Store
	publisher Publisher
	batchSize int
	log       *slog.Logger
}

func NewRelay(store Store, publisher Publisher, batchSize int, log *slog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{store: store, publisher: publisher, batchSize: batchSize, log: log}
}

// RunOnce drains at most one batch and reports how many messages moved.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	n, err := r.store.ProcessOutbox(ctx, r.batchSize, r.publisher.Publish)
	if err != nil {
		relayedTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	if n > 0 {
		relayedTotal.WithLabelValues("published").Add(float64(n))
		r.log.Info("outbox batch relayed", "messages", n)
	}
	return n, nil
}

// Run polls on the interval until the context is canceled. Batch errors
// are logged and retried on the next tick, never fatal.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error("outbox relay batch failed", "error", err)
			}
		}
	}
}
