package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
)

// SnoozeWorker revives topics and tasks whose snooze deadline has passed.
type SnoozeWorker struct {
	store    Store
	hub      *events.Hub
	interval time.Duration
	logger   *slog.Logger
}

// NewSnoozeWorker wires the revival loop.
func NewSnoozeWorker(st Store, hub *events.Hub, interval time.Duration, logger *slog.Logger) *SnoozeWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SnoozeWorker{
		store:    st,
		hub:      hub,
		interval: interval,
		logger:   logger.With("component", "snooze"),
	}
}

// Start runs until ctx is cancelled.
func (w *SnoozeWorker) Start(ctx context.Context) {
	w.logger.Info("Snooze worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Snooze worker stopped")
			return
		case <-ticker.C:
			if revived, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Snooze revival pass failed", "error", err)
			} else if revived > 0 {
				w.logger.Info("Revived snoozed rows", "count", revived)
			}
		}
	}
}

// RunOnce clears every elapsed snooze and publishes the upserts.
func (w *SnoozeWorker) RunOnce(ctx context.Context) (int, error) {
	now := models.NowISO()
	revived := 0

	topics, err := w.store.SnoozedTopicsDue(ctx, now)
	if err != nil {
		return revived, err
	}
	for _, t := range topics {
		if err := w.store.ClearTopicSnooze(ctx, t.ID, now); err != nil {
			w.logger.Warn("Failed to revive topic", "topic_id", t.ID, "error", err)
			continue
		}
		if refreshed, err := w.store.GetTopic(ctx, t.ID); err == nil {
			w.hub.Publish(events.EventTypeTopicUpserted, refreshed, refreshed.UpdatedAt)
		}
		revived++
	}

	tasks, err := w.store.SnoozedTasksDue(ctx, now)
	if err != nil {
		return revived, err
	}
	for _, t := range tasks {
		if err := w.store.ClearTaskSnooze(ctx, t.ID, now); err != nil {
			w.logger.Warn("Failed to revive task", "task_id", t.ID, "error", err)
			continue
		}
		if refreshed, err := w.store.GetTask(ctx, t.ID); err == nil {
			w.hub.Publish(events.EventTypeTaskUpserted, refreshed, refreshed.UpdatedAt)
		}
		revived++
	}
	return revived, nil
}
