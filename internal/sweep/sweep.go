package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lumapay/linkledger/internal/domain"
)

var (
	sweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_sweep_links_total",
		Help: "Links handled by the expiry sweep, labeled by outcome",
	}, []string{"outcome"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_sweep_run_duration_seconds",
		Help:    "Duration of sweep runs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// Store is the slice of persistence the sweeper needs. ExpireLink is the
// mutual-exclusion point between overlapping runs: it returns true only
// for the caller whose conditional write won.
type Store interface {
	ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]domain.Link, error)
	MarkCheckoutDisabled(ctx context.Context, linkID string) error
	ExpireLink(ctx context.Context, linkID string) (bool, error)
}

// Processor deactivates the upstream checkout object. The call is
// idempotent upstream.
type Processor interface {
	DeactivateCheckout(ctx context.Context, checkoutID string) error
}

// Config bounds a run: batch size caps how many links one run touches,
// ItemTimeout caps how long one slow candidate may hold a worker, and
// Concurrency caps parallel upstream calls.
type Config struct {
	BatchSize   int
	ItemTimeout time.Duration
	Concurrency int
}

type Sweeper struct {
	store     Store
	processor Processor
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

func NewSweeper(store Store, proc Processor, cfg Config, log *slog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{store: store, processor: proc, cfg: cfg, log: log, now: time.Now}
}

// Stats summarizes one run.
type Stats struct {
	Candidates int
	Expired    int
	Skipped    int
	Failed     int
}

// Run executes one sweep pass. Item failures are aggregated, never fatal
// to the batch; a failed or timed-out link is simply picked up again next
// run. The returned error is the combined item errors, reported for
// logging while the run still counts as complete.
func (s *Sweeper) Run(ctx context.Context) (Stats, error) {
	started := s.now()
	defer func() { sweepDuration.Observe(time.Since(started).Seconds()) }()

	candidates, err := s.store.ExpiryCandidates(ctx, started, s.cfg.BatchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch expiry candidates: %w", err)
	}
	steps := Plan(started, candidates)

	stats := Stats{Candidates: len(steps)}
	if len(steps) == 0 {
		return stats, nil
	}

	type outcome struct {
		expired bool
		err     error
	}
	results := make([]outcome, len(steps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for idx, step := range steps {
		idx, step := idx, step
		g.Go(func() error {
			expired, err := s.sweepOne(gctx, step)
			results[idx] = outcome{expired: expired, err: err}
			// Item errors are collected, not propagated: propagation
			// would cancel the sibling goroutines.
			return nil
		})
	}
	g.Wait()

	var errs error
	for i, res := range results {
		switch {
		case res.err != nil:
			stats.Failed++
			sweptTotal.WithLabelValues("failed").Inc()
			errs = multierr.Append(errs, fmt.Errorf("link %s: %w", steps[i].Link.ID, res.err))
		case res.expired:
			stats.Expired++
			sweptTotal.WithLabelValues("expired").Inc()
		default:
			stats.Skipped++
			sweptTotal.WithLabelValues("skipped").Inc()
		}
	}
	return stats, errs
}

// sweepOne deactivates the checkout upstream, then applies the local
// transition. If the local write fails after the upstream call succeeded,
// checkout_disabled_at is already recorded, so the next run skips straight
// to the local write.
func (s *Sweeper) sweepOne(ctx context.Context, step Step) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	if step.DeactivateUpstream {
		backoff := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			err := s.processor.DeactivateCheckout(ctx, step.Link.CheckoutID)
			if domain.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		})
		if err != nil {
			return false, fmt.Errorf("deactivate checkout %s: %w", step.Link.CheckoutID, err)
		}
		if err := s.store.MarkCheckoutDisabled(ctx, step.Link.ID); err != nil {
			return false, err
		}
	}

	expired, err := s.store.ExpireLink(ctx, step.Link.ID)
	if err != nil {
		return false, err
	}
	if expired {
		s.log.Info("link expired", "link_id", step.Link.ID, "expires_at", step.Link.ExpiresAt)
	}
	return expired, nil
}
