package orchestration

import (
	"context"
	"log/slog"
	"time"
)

// Worker drives the periodic tick.
type Worker struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker wires the tick loop.
func NewWorker(service *Service, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Worker{
		service:  service,
		interval: interval,
		logger:   logger.With("component", "orchestration"),
	}
}

// Start runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Orchestration tick started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Orchestration tick stopped")
			return
		case <-ticker.C:
			touched, err := w.service.Tick(ctx)
			if err != nil {
				w.logger.Error("Orchestration tick failed", "error", err)
			} else if touched > 0 {
				w.logger.Debug("Orchestration tick promoted items", "count", touched)
			}
		}
	}
}
