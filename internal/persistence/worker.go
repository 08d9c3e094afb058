package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/event"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/observability"
)

// Worker drains the event channel and batch-writes the event log to
// Postgres. Sends into the channel block, so if the worker falls
// behind, settlement stalls rather than losing events.
type Worker struct {
	writer       *EventLogWriter
	buf          chan EventRow
	batchSize    int
	flushTimeout time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, bufferSize, batchSize int, flushTimeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		buf:          make(chan EventRow, bufferSize),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// Publish implements the settlement engine's event sink: the event is
// serialized and queued for the batch writer.
func (w *Worker) Publish(evt event.Event) {
	payload, err := MarshalEventPayload(evt)
	if err != nil {
		w.logger.Error().Err(err).Str("event_type", evt.EventType().String()).Msg("marshal event for persistence")
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("marshal").Inc()
		}
		return
	}
	w.buf <- EventRow{
		EventID:   evt.IdempotencyKey(),
		EventType: evt.EventType().String(),
		MarketID:  evt.MarketID(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Run batches queued rows and flushes on size or timeout. Blocks until
// ctx is cancelled; remaining rows are flushed on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := w.writer.WriteEventBatch(flushCtx, batch); err != nil {
					w.logger.Error().Err(err).Msg("final event log flush failed")
				}
				cancel()
			}
			return ctx.Err()

		case row := <-w.buf:
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops a batch: it retries until the write succeeds or the context is
// cancelled, in which case one final attempt runs on a fresh context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []EventRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := w.writer.WriteEventBatch(flushCtx, batch); err != nil {
					w.logger.Error().Err(err).Msg(fmt.Sprintf("flush on shutdown failed after %d attempts", attempt))
				}
				cancel()
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.writer.WriteEventBatch(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("attempts", attempt).Msg("event log flush succeeded after retries")
			}
			return
		}

		w.logger.Warn().Err(err).Int("attempt", attempt+1).Int("batch_size", len(batch)).Msg("event log write failed")
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
	}
}
