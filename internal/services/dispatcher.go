// Package services – Dispatcher
//
// The dispatcher drains the outbound queue: it claims a batch of due items,
// consults the rate limiter per send, invokes the delivery client, and
// records outcomes. Multiple stateless worker processes may sweep
// concurrently; all mutual exclusion lives in the storage layer, so the
// sweep itself never takes locks and never blocks on contention.
//
// Per-item errors are isolated: one bad item can defer or fail itself but
// can never abort the rest of the batch, and the housekeeping side calls
// (stuck-item recovery, rate-window GC) are fire-and-forget.
package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/delivery"
	"github.com/replyflow/go-autoreply-backend/internal/domain"
	"github.com/replyflow/go-autoreply-backend/internal/repo"
)

// Dispatch defaults. The backoff base and attempt ceiling are part of the
// operator-visible retry contract: 30s, 60s, 120s, then failed.
const (
	DefaultBatchSize    = 50
	DefaultMaxAttempts  = 3
	DefaultBackoffBase  = 30 * time.Second
	DefaultStuckTimeout = 5 * time.Minute
)

var (
	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_items_total",
			Help: "Queue items handled by dispatch sweeps, by outcome.",
		},
		[]string{"outcome"}, // sent | retried | failed | deferred
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_sweep_duration_seconds",
			Help:    "Duration of dispatch sweeps in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(sweepItems, sweepDuration)
}

// SweepSummary is the structured outcome of one sweep.
type SweepSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Dispatcher is the outbound worker loop.
type Dispatcher struct {
	DB        *gorm.DB
	Limiter   *RateLimiter
	Messenger delivery.Messenger

	WorkerID     string
	BatchSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
	StuckTimeout time.Duration

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// NewDispatcher returns a Dispatcher with production defaults.
func NewDispatcher(db *gorm.DB, limiter *RateLimiter, m delivery.Messenger, workerID string) *Dispatcher {
	return &Dispatcher{
		DB:           db,
		Limiter:      limiter,
		Messenger:    m,
		WorkerID:     workerID,
		BatchSize:    DefaultBatchSize,
		MaxAttempts:  DefaultMaxAttempts,
		BackoffBase:  DefaultBackoffBase,
		StuckTimeout: DefaultStuckTimeout,
	}
}

// Backoff returns the retry delay after the given attempt number
// (1-based): base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Sweep claims one batch of due items and processes them in FIFO order.
// It never returns an error: per-item failures are recorded on the items
// themselves and rolled up into the summary.
func (d *Dispatcher) Sweep(ctx context.Context) SweepSummary {
	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "Sweep")
	defer span.End()

	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := d.now().UTC()

	// Housekeeping first, best-effort. A failure here must never abort the
	// sweep: recovery and GC will run again on the next pass.
	if n, err := repo.RecoverStuck(ctx, d.DB, d.stuckTimeout(), now); err != nil {
		log.Warn().Err(err).Msg("stuck-item recovery failed")
	} else if n > 0 {
		log.Info().Int64("items", n).Msg("recovered stuck queue items")
	}
	if err := d.Limiter.GC(ctx); err != nil {
		log.Warn().Err(err).Msg("rate-window gc failed")
	}

	var sum SweepSummary
	items, err := repo.ClaimDueBatch(ctx, d.DB, d.WorkerID, d.batchSize(), now)
	if err != nil {
		log.Error().Err(err).Msg("claim batch failed")
		return sum
	}

	for i := range items {
		d.processItem(ctx, &items[i], &sum)
	}

	span.SetAttributes(
		attribute.Int("sweep.processed", sum.Processed),
		attribute.Int("sweep.sent", sum.Sent),
		attribute.Int("sweep.failed", sum.Failed),
	)
	if sum.Processed > 0 {
		log.Info().
			Int("processed", sum.Processed).
			Int("sent", sum.Sent).
			Int("failed", sum.Failed).
			Msg("dispatch sweep")
	}
	return sum
}

// processItem handles one claimed item. All outcomes are absorbed into sum;
// nothing propagates.
func (d *Dispatcher) processItem(ctx context.Context, item *domain.OutboundQueueItem, sum *SweepSummary) {
	sum.Processed++
	now := d.now().UTC()

	// Admission first. Denial is throttling, not failure: the item returns
	// to pending at the next window with its attempt count untouched.
	if !d.Limiter.TryAdmit(ctx, item.TenantID) {
		if err := repo.Defer(ctx, d.DB, item.ID, d.Limiter.NextWindow(now)); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("defer failed")
		}
		sweepItems.WithLabelValues("deferred").Inc()
		return
	}

	tenant, err := repo.GetTenant(ctx, d.DB, item.TenantID)
	if err != nil {
		// A vanished tenant cannot be retried into existence.
		d.fail(ctx, item, "tenant not found", sum)
		return
	}

	if err := d.Messenger.Send(ctx, tenant, item.RecipientID, item.Text); err != nil {
		d.handleSendError(ctx, item, err, sum)
		return
	}

	if err := repo.MarkSent(ctx, d.DB, item.ID); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("mark sent failed")
		return
	}
	// Usage counts confirmed sends only, exactly once per item.
	if err := repo.IncrementUsage(ctx, d.DB, item.TenantID, repo.MonthKey(now)); err != nil {
		log.Error().Err(err).Str("tenant_id", item.TenantID).Msg("usage increment failed")
	}
	sum.Sent++
	sweepItems.WithLabelValues("sent").Inc()
}

// handleSendError classifies a delivery failure: fatal conditions fail fast,
// transient ones retry with exponential backoff until the attempt ceiling.
func (d *Dispatcher) handleSendError(ctx context.Context, item *domain.OutboundQueueItem, sendErr error, sum *SweepSummary) {
	attempt := item.Attempts + 1 // the attempt that just failed

	if delivery.IsFatal(sendErr) || attempt >= d.maxAttempts() {
		d.fail(ctx, item, sendErr.Error(), sum)
		return
	}

	notBefore := d.now().UTC().Add(Backoff(d.backoffBase(), attempt))
	if err := repo.MarkRetry(ctx, d.DB, item.ID, sendErr.Error(), notBefore); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("mark retry failed")
		return
	}
	sweepItems.WithLabelValues("retried").Inc()
	log.Warn().
		Str("item_id", item.ID).
		Int("attempt", attempt).
		Time("not_before", notBefore).
		Err(sendErr).
		Msg("delivery failed, will retry")
}

func (d *Dispatcher) fail(ctx context.Context, item *domain.OutboundQueueItem, msg string, sum *SweepSummary) {
	if err := repo.MarkFailed(ctx, d.DB, item.ID, msg); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("mark failed failed")
		return
	}
	sum.Failed++
	sweepItems.WithLabelValues("failed").Inc()
	log.Error().Str("item_id", item.ID).Str("error", msg).Msg("delivery failed permanently")
}

// Run sweeps on a fixed interval until ctx is cancelled. Overlap with other
// processes running the same loop is safe: the batch claim skips rows that
// another sweep already holds.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return DefaultBatchSize
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (d *Dispatcher) backoffBase() time.Duration {
	if d.BackoffBase > 0 {
		return d.BackoffBase
	}
	return DefaultBackoffBase
}

func (d *Dispatcher) stuckTimeout() time.Duration {
	if d.StuckTimeout > 0 {
		return d.StuckTimeout
	}
	return DefaultStuckTimeout
}
