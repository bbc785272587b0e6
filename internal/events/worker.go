package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/alpescab/internal/dispatch/domain"
)

var (
	eventsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_events_published_total",
		Help: "Total number of journal events published to the bus.",
	})
	eventsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_events_failed_total",
		Help: "Total number of journal events dropped after exhausting retries.",
	})
	journalLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_journal_lag_seconds",
		Help: "Age of the oldest event drained in the last batch.",
	})
)

// WorkerConfig tunes the drain loop.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
}

// Worker drains the journal into a publisher.
type Worker struct {
	journal   *Journal
	publisher domain.EventPublisher
	logger    *zap.Logger
	cfg       WorkerConfig
	tracer    trace.Tracer
}

// NewWorker constructs a drain worker.
func NewWorker(journal *Journal, publisher domain.EventPublisher, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		journal:   journal,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer("dispatch.events.worker"),
	}
}

// Run polls the journal until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.journal == nil || w.publisher == nil {
		return errors.New("events worker requires journal and publisher")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("event batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce drains one batch. Events publish in journal order; a batch stops
// at the first event that exhausts its retries so ordering is preserved.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "events.batch")
	defer span.End()

	batch := w.journal.Pending(w.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}
	var drained int64
	maxLag := 0.0
	for _, event := range batch {
		if err := w.publishWithRetry(ctx, event); err != nil {
			break
		}
		drained = event.Seq
		eventsPublishedTotal.Inc()
		if lag := time.Since(event.CreatedAt).Seconds(); lag > maxLag {
			maxLag = lag
		}
	}
	if drained > 0 {
		journalLagSeconds.Set(maxLag)
		w.journal.MarkDrained(drained)
	}
	if drained < batch[len(batch)-1].Seq {
		return fmt.Errorf("journal drain stalled after seq %d", drained)
	}
	return nil
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.DispatchEvent) error {
	ctx, span := w.tracer.Start(ctx, "events.publish")
	defer span.End()

	var attempt int
	for {
		attempt++
		err := w.publisher.Publish(ctx, event)
		if err == nil {
			return nil
		}
		w.logger.Warn("publish failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int64("event_seq", event.Seq))
		if attempt >= w.cfg.RetryMax {
			eventsFailedTotal.Inc()
			return fmt.Errorf("publish event %d: %w", event.Seq, err)
		}
		backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
