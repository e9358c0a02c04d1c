// Package orchestration tracks chat dispatches and the subagent work they
// spawn. A run is complete only when its main response and every subagent
// item are done; a periodic tick promotes due items and flags stalls.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/store"
)

// Store is the persistence surface the service needs. *store.Store
// satisfies it.
type Store interface {
	GetRun(ctx context.Context, id string) (*models.OrchestrationRun, error)
	GetRunByRequestID(ctx context.Context, requestID string) (*models.OrchestrationRun, error)
	CreateRun(ctx context.Context, r *models.OrchestrationRun) error
	UpdateRun(ctx context.Context, r *models.OrchestrationRun) error
	ItemsForRun(ctx context.Context, runID string) ([]*models.OrchestrationItem, error)
	UpsertItem(ctx context.Context, it *models.OrchestrationItem) error
	UpdateItem(ctx context.Context, it *models.OrchestrationItem) error
	ItemsDueForCheck(ctx context.Context, now string, limit int) ([]*models.OrchestrationItem, error)
}

// tickBatch bounds the items promoted per tick.
const tickBatch = 100

// Service owns run and item state transitions.
type Service struct {
	store          Store
	checkInterval  time.Duration
	stallThreshold time.Duration
}

// NewService wires the run tracker.
func NewService(st Store, checkInterval, stallThreshold time.Duration) *Service {
	if checkInterval <= 0 {
		checkInterval = 20 * time.Second
	}
	if stallThreshold <= 0 {
		stallThreshold = 10 * time.Minute
	}
	return &Service{store: st, checkInterval: checkInterval, stallThreshold: stallThreshold}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Service) nextCheck(now string) string {
	t := models.ParseISO(now)
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return models.FormatISO(t.Add(s.checkInterval))
}

// StartRun records a run for a chat request. Repeated dispatches of the
// same requestId return the existing run.
func (s *Service) StartRun(ctx context.Context, requestID, sessionKey string) (*models.OrchestrationRun, error) {
	existing, err := s.store.GetRunByRequestID(ctx, requestID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := models.NowISO()
	run := &models.OrchestrationRun{
		ID:         newID(),
		RequestID:  requestID,
		SessionKey: sessionKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return s.store.GetRunByRequestID(ctx, requestID)
		}
		return nil, err
	}

	item := &models.OrchestrationItem{
		ID:             newID(),
		RunID:          run.ID,
		ItemKey:        models.MainResponseItemKey,
		Status:         models.RunItemRunning,
		NextCheckAt:    s.nextCheck(now),
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.UpsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create main.response item: %w", err)
	}
	return run, nil
}

// RecordSpawn derives a subagent item from a sessions_spawn tool result.
// The stable item key collapses duplicate spawn events.
func (s *Service) RecordSpawn(ctx context.Context, requestID, childSessionKey string) error {
	run, err := s.store.GetRunByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	if run.Cancelled || run.Completed {
		return nil
	}

	now := models.NowISO()
	item := &models.OrchestrationItem{
		ID:             newID(),
		RunID:          run.ID,
		ItemKey:        models.SubagentItemKey(childSessionKey),
		Status:         models.RunItemRunning,
		NextCheckAt:    s.nextCheck(now),
		LastActivityAt: now,
		Meta:           map[string]string{"childSessionKey": childSessionKey},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.store.UpsertItem(ctx, item)
}

// RecordActivity refreshes an item's lastActivityAt so the tick does not
// flag it as stalled.
func (s *Service) RecordActivity(ctx context.Context, requestID, itemKey string) error {
	run, item, err := s.findItem(ctx, requestID, itemKey)
	if err != nil {
		return err
	}
	if run.Cancelled || (item.Status != models.RunItemRunning && item.Status != models.RunItemStalled) {
		return nil
	}
	now := models.NowISO()
	item.LastActivityAt = now
	item.Status = models.RunItemRunning
	item.UpdatedAt = now
	return s.store.UpdateItem(ctx, item)
}

// CompleteItem marks one item done and completes the run once every item
// is done.
func (s *Service) CompleteItem(ctx context.Context, requestID, itemKey string) error {
	run, item, err := s.findItem(ctx, requestID, itemKey)
	if err != nil {
		return err
	}
	now := models.NowISO()
	if item.Status != models.RunItemDone {
		item.Status = models.RunItemDone
		item.NextCheckAt = ""
		item.UpdatedAt = now
		if err := s.store.UpdateItem(ctx, item); err != nil {
			return err
		}
	}

	items, err := s.store.ItemsForRun(ctx, run.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status != models.RunItemDone {
			return nil
		}
	}
	if !run.Completed {
		run.Completed = true
		run.UpdatedAt = now
		return s.store.UpdateRun(ctx, run)
	}
	return nil
}

// Cancel marks the run and every non-terminal item cancelled.
func (s *Service) Cancel(ctx context.Context, requestID string) (*models.OrchestrationRun, error) {
	run, err := s.store.GetRunByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := models.NowISO()
	if !run.Cancelled {
		run.Cancelled = true
		run.UpdatedAt = now
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
	}

	items, err := s.store.ItemsForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Status == models.RunItemDone || it.Status == models.RunItemCancelled {
			continue
		}
		it.Status = models.RunItemCancelled
		it.NextCheckAt = ""
		it.UpdatedAt = now
		if err := s.store.UpdateItem(ctx, it); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// Status returns the run and its items.
func (s *Service) Status(ctx context.Context, requestID string) (*models.OrchestrationRun, []*models.OrchestrationItem, error) {
	run, err := s.store.GetRunByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ItemsForRun(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	return run, items, nil
}

// Tick promotes items whose nextCheckAt has passed: quiet items past the
// stall threshold become stalled, the rest get a pushed-out next check.
func (s *Service) Tick(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	nowISO := models.FormatISO(now)

	items, err := s.store.ItemsDueForCheck(ctx, nowISO, tickBatch)
	if err != nil {
		return 0, err
	}
	touched := 0
	for _, it := range items {
		lastActivity := models.ParseISO(it.LastActivityAt)
		stalled := !lastActivity.IsZero() && now.Sub(lastActivity) >= s.stallThreshold

		if stalled {
			it.Status = models.RunItemStalled
			it.NextCheckAt = ""
		} else {
			it.Attempts++
			it.NextCheckAt = models.FormatISO(now.Add(s.checkInterval))
		}
		it.UpdatedAt = nowISO
		if err := s.store.UpdateItem(ctx, it); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}

func (s *Service) findItem(ctx context.Context, requestID, itemKey string) (*models.OrchestrationRun, *models.OrchestrationItem, error) {
	run, err := s.store.GetRunByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ItemsForRun(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, it := range items {
		if it.ItemKey == itemKey {
			return run, it, nil
		}
	}
	return nil, nil, store.ErrNotFound
}
