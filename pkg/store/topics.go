package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clawboard/clawboard/pkg/models"
)

const topicColumns = `id, space_id, name, created_by, sort_index, color, description, priority,
	status, snoozed_until, tags, parent_id, pinned, digest, digest_updated_at, created_at, updated_at`

func scanTopic(row interface{ Scan(...any) error }) (*models.Topic, error) {
	var (
		t               models.Topic
		snoozedUntil    sql.NullString
		tags            []byte
		parentID        sql.NullString
		digestUpdatedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.SpaceID, &t.Name, &t.CreatedBy, &t.SortIndex, &t.Color,
		&t.Description, &t.Priority, &t.Status, &snoozedUntil, &tags, &parentID,
		&t.Pinned, &t.Digest, &digestUpdatedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.SnoozedUntil = strOrEmpty(snoozedUntil)
	t.ParentID = ptrOrNil(parentID)
	t.DigestUpdatedAt = strOrEmpty(digestUpdatedAt)
	t.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for topic %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

// GetTopic returns one topic by id.
func (s *Store) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// GetTopicByName returns the topic with the given name (case-insensitive),
// or ErrNotFound.
func (s *Store) GetTopicByName(ctx context.Context, name string) (*models.Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE lower(name) = lower($1) LIMIT 1`, name)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTopics returns topics in display order: pinned first, then sort_index
// ascending, then updated_at descending. An empty spaceIDs filter means all.
func (s *Store) ListTopics(ctx context.Context, spaceIDs []string) ([]*models.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics`
	var args []any
	if len(spaceIDs) > 0 {
		clause, clauseArgs := inClause("space_id", 1, spaceIDs)
		query += ` WHERE ` + clause
		args = clauseArgs
	}
	query += ` ORDER BY pinned DESC, sort_index ASC, updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// CreateTopic inserts a new topic.
func (s *Store) CreateTopic(ctx context.Context, t *models.Topic) error {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return s.exec(ctx,
		`INSERT INTO topics (id, space_id, name, created_by, sort_index, color, description,
		    priority, status, snoozed_until, tags, parent_id, pinned, digest, digest_updated_at,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.SpaceID, t.Name, t.CreatedBy, t.SortIndex, t.Color, t.Description,
		t.Priority, t.Status, nullable(t.SnoozedUntil), marshalJSON(t.Tags),
		nullablePtr(t.ParentID), t.Pinned, t.Digest, nullable(t.DigestUpdatedAt),
		t.CreatedAt, t.UpdatedAt)
}

// UpdateTopic persists the full topic row (the caller applied the patch).
func (s *Store) UpdateTopic(ctx context.Context, t *models.Topic) error {
	return s.exec(ctx,
		`UPDATE topics SET space_id = $1, name = $2, sort_index = $3, color = $4,
		    description = $5, priority = $6, status = $7, snoozed_until = $8, tags = $9,
		    parent_id = $10, pinned = $11, digest = $12, digest_updated_at = $13, updated_at = $14
		 WHERE id = $15`,
		t.SpaceID, t.Name, t.SortIndex, t.Color, t.Description, t.Priority, t.Status,
		nullable(t.SnoozedUntil), marshalJSON(t.Tags), nullablePtr(t.ParentID), t.Pinned,
		t.Digest, nullable(t.DigestUpdatedAt), t.UpdatedAt, t.ID)
}

// DeleteTopic removes a topic. Children are detached, not cascaded: tasks
// lose their topic_id and child topics lose their parent_id.
func (s *Store) DeleteTopic(ctx context.Context, id, now string) error {
	if _, err := s.GetTopic(ctx, id); err != nil {
		return err
	}
	if err := s.exec(ctx, `UPDATE tasks SET topic_id = NULL, updated_at = $1 WHERE topic_id = $2`, now, id); err != nil {
		return err
	}
	if err := s.exec(ctx, `UPDATE topics SET parent_id = NULL, updated_at = $1 WHERE parent_id = $2`, now, id); err != nil {
		return err
	}
	if err := s.exec(ctx, `UPDATE logs SET topic_id = NULL, task_id = NULL, updated_at = $1 WHERE topic_id = $2`, now, id); err != nil {
		return err
	}
	return s.exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
}

// ReorderTopics rewrites sort_index within each pinned group following the
// given order. Ids missing from the list keep their relative order after the
// listed ones.
func (s *Store) ReorderTopics(ctx context.Context, orderedIDs []string, now string) error {
	for i, id := range orderedIDs {
		if err := s.exec(ctx,
			`UPDATE topics SET sort_index = $1, updated_at = $2 WHERE id = $3`, i, now, id); err != nil {
			return err
		}
	}
	return nil
}

// SnoozedTopicsDue returns topics whose snooze has elapsed.
func (s *Store) SnoozedTopicsDue(ctx context.Context, now string) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE snoozed_until IS NOT NULL AND snoozed_until <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// ClearTopicSnooze clears snoozed_until and reactivates the topic. Idempotent
// under concurrent ingest-path unsnoozes.
func (s *Store) ClearTopicSnooze(ctx context.Context, id, now string) error {
	return s.exec(ctx,
		`UPDATE topics SET snoozed_until = NULL,
		    status = CASE WHEN status = 'snoozed' THEN 'active' ELSE status END,
		    updated_at = $1
		 WHERE id = $2 AND snoozed_until IS NOT NULL`, now, id)
}

// TopicsUpdatedSince returns topics with updated_at > since, oldest first.
func (s *Store) TopicsUpdatedSince(ctx context.Context, since string) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE updated_at > $1 ORDER BY updated_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
