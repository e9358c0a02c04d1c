package reindex

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawboard/clawboard/pkg/vector"
)

// MaintenanceWorker periodically reconciles the index against the live
// catalog, repairing drift the intent queue missed (crashes between store
// write and enqueue, manual index edits, restores from backup).
type MaintenanceWorker struct {
	catalog  Catalog
	index    *vector.Index
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
}

// NewMaintenanceWorker wires the reconcile loop.
func NewMaintenanceWorker(catalog Catalog, index *vector.Index, queue *Queue, interval time.Duration, logger *slog.Logger) *MaintenanceWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MaintenanceWorker{
		catalog:  catalog,
		index:    index,
		queue:    queue,
		interval: interval,
		logger:   logger.With("component", "reindex-maintenance"),
	}
}

// Start runs reconcile passes until ctx is cancelled.
func (w *MaintenanceWorker) Start(ctx context.Context) {
	w.logger.Info("Reindex maintenance started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reindex maintenance stopped")
			return
		case <-ticker.C:
			report, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error("Reconcile pass failed", "error", err)
			} else if len(report.Upserts) > 0 || len(report.Deletes) > 0 {
				w.logger.Info("Reconcile pass enqueued repairs",
					"upserts", len(report.Upserts), "deletes", len(report.Deletes))
			}
		}
	}
}

// RunOnce executes one full reconcile pass and enqueues the repairs.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) (*Report, error) {
	return Reconcile(ctx, w.catalog, w.index, w.queue, false)
}
