package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
)

type fakeOutboxStore struct {
	queue []domain.OutboxMessage
}

func (f *fakeOutboxStore) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []domain.OutboxMessage) error) (int, error) {
	if len(f.queue) == 0 {
		return 0, nil
	}
	batch := f.queue
	if len(batch) > limit {
		batch = batch[:limit]
	}
	if err := publish(ctx, batch); err != nil {
		// Publish failed: the transaction rolls back, nothing is marked.
		return 0, err
	}
	f.queue = f.queue[len(batch):]
	return len(batch), nil
}

type fakePublisher struct {
	published []domain.OutboxMessage
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, messages []domain.OutboxMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, messages...)
	return nil
}

func messages(n int) []domain.OutboxMessage {
	out := make([]domain.OutboxMessage, n)
	for i := range out {
		out[i] = domain.OutboxMessage{ID: string(rune('a' + i)), Payload: `{"type":"payment.recorded"}`, CreatedAt: time.Now()}
	}
	return out
}

func testRelay(s Store, p Publisher, batch int) *Relay {
	return NewRelay(s, p, batch, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunOnceDrainsInBatches(t *testing.T) {
	store := &fakeOutboxStore{queue: messages(5)}
	pub := &fakePublisher{}
	relay := testRelay(store, pub, 2)

	total := 0
	for i := 0; i < 4; i++ {
		n, err := relay.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
		total += n
	}
	if total != 5 {
		t.Errorf("relayed %d messages, want 5", total)
	}
	if len(pub.published) != 5 {
		t.Errorf("published %d, want 5", len(pub.published))
	}
	if len(store.queue) != 0 {
		t.Errorf("%d messages left unprocessed", len(store.queue))
	}
}

func TestRunOnceKeepsBatchOnPublishFailure(t *testing.T) {
	store := &fakeOutboxStore{queue: messages(3)}
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	relay := testRelay(store, pub, 10)

	if _, err := relay.RunOnce(context.Background()); err == nil {
		t.Fatal("expected publish error")
	}
	if len(store.queue) != 3 {
		t.Errorf("queue = %d after failed publish, want 3", len(store.queue))
	}

	pub.err = nil
	n, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("retry RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("retry relayed %d, want 3", n)
	}
}
