package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawboard/clawboard/pkg/models"
)

// queueBatch bounds envelopes drained per pass.
const queueBatch = 50

// QueueWorker drains durable ingest envelopes into the service. Append
// idempotency makes redelivery after a crash harmless.
type QueueWorker struct {
	store    Store
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewQueueWorker wires the durable ingest drain loop.
func NewQueueWorker(st Store, service *Service, interval time.Duration, logger *slog.Logger) *QueueWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &QueueWorker{
		store:    st,
		service:  service,
		interval: interval,
		logger:   logger.With("component", "ingest_queue"),
	}
}

// Start runs until ctx is cancelled.
func (w *QueueWorker) Start(ctx context.Context) {
	w.logger.Info("Ingest queue worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Ingest queue worker stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Ingest queue pass failed", "error", err)
			}
		}
	}
}

// RunOnce drains one batch. Per-envelope failures are recorded on the
// envelope and never stop the batch.
func (w *QueueWorker) RunOnce(ctx context.Context) error {
	envelopes, err := w.store.ClaimPendingIngest(ctx, queueBatch)
	if err != nil {
		return err
	}
	for _, env := range envelopes {
		if _, err := w.service.Append(ctx, env.Payload, ""); err != nil {
			w.logger.Warn("Queued ingest failed", "envelope_id", env.ID, "error", err)
			if finishErr := w.store.FinishIngest(ctx, env.ID, models.QueueFailed, err.Error()); finishErr != nil {
				w.logger.Error("Failed to finish envelope", "envelope_id", env.ID, "error", finishErr)
			}
			continue
		}
		if err := w.store.FinishIngest(ctx, env.ID, models.QueueDone, ""); err != nil {
			w.logger.Error("Failed to finish envelope", "envelope_id", env.ID, "error", err)
		}
	}
	return nil
}
