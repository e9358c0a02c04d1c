package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clawboard/clawboard/pkg/models"
)

const taskColumns = `id, space_id, topic_id, title, created_by, sort_index, status, priority,
	snoozed_until, due_date, tags, pinned, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		t            models.Task
		topicID      sql.NullString
		snoozedUntil sql.NullString
		dueDate      sql.NullString
		tags         []byte
	)
	err := row.Scan(&t.ID, &t.SpaceID, &topicID, &t.Title, &t.CreatedBy, &t.SortIndex,
		&t.Status, &t.Priority, &snoozedUntil, &dueDate, &tags, &t.Pinned,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.TopicID = ptrOrNil(topicID)
	t.SnoozedUntil = strOrEmpty(snoozedUntil)
	t.DueDate = strOrEmpty(dueDate)
	t.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for task %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

// GetTask returns one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks in display order, optionally filtered by topic
// and/or spaces.
func (s *Store) ListTasks(ctx context.Context, topicID string, spaceIDs []string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		args  []any
		where []string
	)
	if topicID != "" {
		args = append(args, topicID)
		where = append(where, fmt.Sprintf("topic_id = $%d", len(args)))
	}
	if len(spaceIDs) > 0 {
		clause, clauseArgs := inClause("space_id", len(args)+1, spaceIDs)
		args = append(args, clauseArgs...)
		where = append(where, clause)
	}
	for i, w := range where {
		if i == 0 {
			query += ` WHERE ` + w
		} else {
			query += ` AND ` + w
		}
	}
	query += ` ORDER BY pinned DESC, sort_index ASC, updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TasksForTopic returns the tasks belonging to a topic.
func (s *Store) TasksForTopic(ctx context.Context, topicID string) ([]*models.Task, error) {
	return s.ListTasks(ctx, topicID, nil)
}

// GetTaskByTitle returns the task with the given title within a topic
// (case-insensitive), or ErrNotFound.
func (s *Store) GetTaskByTitle(ctx context.Context, topicID, title string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE topic_id = $1 AND lower(title) = lower($2) LIMIT 1`,
		topicID, title)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return s.exec(ctx,
		`INSERT INTO tasks (id, space_id, topic_id, title, created_by, sort_index, status,
		    priority, snoozed_until, due_date, tags, pinned, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.SpaceID, nullablePtr(t.TopicID), t.Title, t.CreatedBy, t.SortIndex,
		t.Status, t.Priority, nullable(t.SnoozedUntil), nullable(t.DueDate),
		marshalJSON(t.Tags), t.Pinned, t.CreatedAt, t.UpdatedAt)
}

// UpdateTask persists the full task row.
func (s *Store) UpdateTask(ctx context.Context, t *models.Task) error {
	return s.exec(ctx,
		`UPDATE tasks SET space_id = $1, topic_id = $2, title = $3, sort_index = $4,
		    status = $5, priority = $6, snoozed_until = $7, due_date = $8, tags = $9,
		    pinned = $10, updated_at = $11
		 WHERE id = $12`,
		t.SpaceID, nullablePtr(t.TopicID), t.Title, t.SortIndex, t.Status, t.Priority,
		nullable(t.SnoozedUntil), nullable(t.DueDate), marshalJSON(t.Tags), t.Pinned,
		t.UpdatedAt, t.ID)
}

// DeleteTask removes a task and detaches its logs.
func (s *Store) DeleteTask(ctx context.Context, id, now string) error {
	if _, err := s.GetTask(ctx, id); err != nil {
		return err
	}
	if err := s.exec(ctx, `UPDATE logs SET task_id = NULL, updated_at = $1 WHERE task_id = $2`, now, id); err != nil {
		return err
	}
	return s.exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
}

// ReorderTasks rewrites sort_index following the given order.
func (s *Store) ReorderTasks(ctx context.Context, orderedIDs []string, now string) error {
	for i, id := range orderedIDs {
		if err := s.exec(ctx,
			`UPDATE tasks SET sort_index = $1, updated_at = $2 WHERE id = $3`, i, now, id); err != nil {
			return err
		}
	}
	return nil
}

// SnoozedTasksDue returns tasks whose snooze has elapsed.
func (s *Store) SnoozedTasksDue(ctx context.Context, now string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE snoozed_until IS NOT NULL AND snoozed_until <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClearTaskSnooze clears snoozed_until on a task. Idempotent.
func (s *Store) ClearTaskSnooze(ctx context.Context, id, now string) error {
	return s.exec(ctx,
		`UPDATE tasks SET snoozed_until = NULL, updated_at = $1
		 WHERE id = $2 AND snoozed_until IS NOT NULL`, now, id)
}

// TasksUpdatedSince returns tasks with updated_at > since, oldest first.
func (s *Store) TasksUpdatedSince(ctx context.Context, since string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE updated_at > $1 ORDER BY updated_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
