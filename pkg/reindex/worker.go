package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawboard/clawboard/pkg/llm"
	"github.com/clawboard/clawboard/pkg/vector"
)

// embedBatch is the number of texts sent per embedding request.
const embedBatch = 64

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Worker drains the queue on an interval and applies the coalesced
// operations to the vector index.
type Worker struct {
	queue    *Queue
	index    *vector.Index
	embedder Embedder
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker wires a worker. embedder may be nil; upserts are then discarded
// and only deletes are applied.
func NewWorker(queue *Queue, index *vector.Index, embedder Embedder, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		queue:    queue,
		index:    index,
		embedder: embedder,
		interval: interval,
		logger:   logger.With("component", "reindex"),
	}
}

// Start runs the drain loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Reindex worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reindex worker stopped")
			return
		case <-ticker.C:
			applied, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error("Reindex pass failed", "error", err)
			} else if applied > 0 {
				w.logger.Debug("Reindex pass applied", "ops", applied)
			}
		}
	}
}

// RunOnce drains, coalesces, and applies the queue. Operations that cannot
// be applied are requeued for the next pass.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	ops, err := w.queue.Drain()
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}
	ops = Coalesce(ops)

	var upserts []Op
	applied := 0
	for _, op := range ops {
		if op.Op == OpDelete {
			if err := w.index.Delete(ctx, op.Kind, op.ID); err != nil {
				w.requeueFrom(append([]Op{op}, upserts...))
				return applied, err
			}
			applied++
			continue
		}
		upserts = append(upserts, op)
	}

	if len(upserts) == 0 {
		return applied, nil
	}
	if w.embedder == nil {
		return applied, nil
	}

	for start := 0; start < len(upserts); start += embedBatch {
		end := min(start+embedBatch, len(upserts))
		batch := upserts[start:end]

		texts := make([]string, len(batch))
		for i, op := range batch {
			texts[i] = op.Text
		}
		vecs, err := w.embedder.Embed(ctx, texts)
		if errors.Is(err, llm.ErrDisabled) {
			// No embedding endpoint; lexical search carries on alone.
			return applied, nil
		}
		if err != nil {
			w.requeueFrom(upserts[start:])
			return applied, fmt.Errorf("embedding batch failed: %w", err)
		}

		for i, op := range batch {
			if len(vecs[i]) == 0 {
				continue
			}
			if err := w.index.Upsert(ctx, op.Kind, op.ID, op.Scope, vecs[i]); err != nil {
				w.requeueFrom(upserts[start+i:])
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

func (w *Worker) requeueFrom(ops []Op) {
	if err := w.queue.Requeue(ops); err != nil {
		w.logger.Error("Failed to requeue reindex ops", "count", len(ops), "error", err)
	}
}
