package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clawboard/clawboard/pkg/models"
)

const runColumns = `id, request_id, session_key, completed, cancelled, created_at, updated_at`
const itemColumns = `id, run_id, item_key, status, attempts, next_check_at, last_activity_at, meta, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*models.OrchestrationRun, error) {
	var r models.OrchestrationRun
	err := row.Scan(&r.ID, &r.RequestID, &r.SessionKey, &r.Completed, &r.Cancelled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanItem(row interface{ Scan(...any) error }) (*models.OrchestrationItem, error) {
	var (
		it           models.OrchestrationItem
		nextCheck    sql.NullString
		lastActivity sql.NullString
		meta         []byte
	)
	err := row.Scan(&it.ID, &it.RunID, &it.ItemKey, &it.Status, &it.Attempts,
		&nextCheck, &lastActivity, &meta, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.NextCheckAt = strOrEmpty(nextCheck)
	it.LastActivityAt = strOrEmpty(lastActivity)
	it.Meta = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &it.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode meta for item %s: %w", it.ID, err)
		}
	}
	return &it, nil
}

// GetRun returns a run by primary id.
func (s *Store) GetRun(ctx context.Context, id string) (*models.OrchestrationRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM orchestration_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// GetRunByRequestID returns the run tracking a chat request.
func (s *Store) GetRunByRequestID(ctx context.Context, requestID string) (*models.OrchestrationRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM orchestration_runs WHERE request_id = $1`, requestID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// CreateRun inserts a run row. A duplicate request id returns
// ErrDuplicateKey.
func (s *Store) CreateRun(ctx context.Context, r *models.OrchestrationRun) error {
	return s.exec(ctx,
		`INSERT INTO orchestration_runs (id, request_id, session_key, completed, cancelled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.RequestID, r.SessionKey, r.Completed, r.Cancelled, r.CreatedAt, r.UpdatedAt)
}

// UpdateRun persists run flags.
func (s *Store) UpdateRun(ctx context.Context, r *models.OrchestrationRun) error {
	return s.exec(ctx,
		`UPDATE orchestration_runs SET completed = $1, cancelled = $2, updated_at = $3 WHERE id = $4`,
		r.Completed, r.Cancelled, r.UpdatedAt, r.ID)
}

// ItemsForRun returns the items of a run, oldest first.
func (s *Store) ItemsForRun(ctx context.Context, runID string) ([]*models.OrchestrationItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM orchestration_items WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.OrchestrationItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpsertItem inserts an item or leaves the existing one alone; the stable
// (run_id, item_key) pair collapses duplicate spawn events.
func (s *Store) UpsertItem(ctx context.Context, it *models.OrchestrationItem) error {
	if it.Meta == nil {
		it.Meta = map[string]string{}
	}
	return s.exec(ctx,
		`INSERT INTO orchestration_items (id, run_id, item_key, status, attempts, next_check_at,
		    last_activity_at, meta, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id, item_key) DO NOTHING`,
		it.ID, it.RunID, it.ItemKey, it.Status, it.Attempts, nullable(it.NextCheckAt),
		nullable(it.LastActivityAt), marshalJSON(it.Meta), it.CreatedAt, it.UpdatedAt)
}

// UpdateItem persists the mutable item fields.
func (s *Store) UpdateItem(ctx context.Context, it *models.OrchestrationItem) error {
	return s.exec(ctx,
		`UPDATE orchestration_items SET status = $1, attempts = $2, next_check_at = $3,
		    last_activity_at = $4, meta = $5, updated_at = $6
		 WHERE id = $7`,
		it.Status, it.Attempts, nullable(it.NextCheckAt), nullable(it.LastActivityAt),
		marshalJSON(it.Meta), it.UpdatedAt, it.ID)
}

// ItemsDueForCheck returns running items whose next_check_at has passed.
func (s *Store) ItemsDueForCheck(ctx context.Context, now string, limit int) ([]*models.OrchestrationItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM orchestration_items
		 WHERE status = 'running' AND next_check_at IS NOT NULL AND next_check_at <= $1
		 ORDER BY next_check_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.OrchestrationItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
