// The relay daemon moves committed outbox messages to Kafka for the
// dashboard's activity stream.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/lumapay/linkledger/internal/config"
	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/outbox"
	"github.com/lumapay/linkledger/internal/store"
)

// kafkaPublisher adapts a kafka-go writer to the relay's Publisher.
type kafkaPublisher struct {
	writer *kafka.Writer
}

func (p *kafkaPublisher) Publish(ctx context.Context, messages []domain.OutboxMessage) error {
	records := make([]kafka.Message, len(messages))
	for i, m := range messages {
		records[i] = kafka.Message{
			Key:   []byte(m.EntityID),
			Value: []byte(m.Payload),
			Time:  m.CreatedAt,
		}
	}
	return p.writer.WriteMessages(ctx, records...)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	st, err := store.NewStore(cfg.DBSource)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	defer writer.Close()

	relay := outbox.NewRelay(st, &kafkaPublisher{writer: writer}, cfg.RelayBatchSize, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("relay starting", "topic", cfg.KafkaTopic, "interval", cfg.RelayInterval)
	relay.Run(ctx, cfg.RelayInterval)
	logger.Info("relay stopped")
}
