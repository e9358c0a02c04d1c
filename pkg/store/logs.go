package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clawboard/clawboard/pkg/models"
)

const logColumns = `id, seq, space_id, topic_id, task_id, related_log_id, idempotency_key,
	type, content, summary, raw, classification_status, classification_attempts,
	classification_error, agent_id, agent_label, source, attachments, created_at, updated_at`

func scanLog(row interface{ Scan(...any) error }) (*models.LogEntry, error) {
	var (
		l              models.LogEntry
		topicID        sql.NullString
		taskID         sql.NullString
		relatedLogID   sql.NullString
		idempotencyKey sql.NullString
		source         []byte
		attachments    []byte
	)
	err := row.Scan(&l.ID, &l.Seq, &l.SpaceID, &topicID, &taskID, &relatedLogID,
		&idempotencyKey, &l.Type, &l.Content, &l.Summary, &l.Raw,
		&l.ClassificationStatus, &l.ClassificationAttempts, &l.ClassificationError,
		&l.AgentID, &l.AgentLabel, &source, &attachments, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.TopicID = ptrOrNil(topicID)
	l.TaskID = ptrOrNil(taskID)
	l.RelatedLogID = ptrOrNil(relatedLogID)
	l.IdempotencyKey = strOrEmpty(idempotencyKey)
	if len(source) > 0 && string(source) != "null" {
		l.Source = &models.LogSource{}
		if err := json.Unmarshal(source, l.Source); err != nil {
			return nil, fmt.Errorf("failed to decode source for log %s: %w", l.ID, err)
		}
	}
	if len(attachments) > 0 && string(attachments) != "null" {
		if err := json.Unmarshal(attachments, &l.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments for log %s: %w", l.ID, err)
		}
	}
	return &l, nil
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]*models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.LogEntry
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetLog returns one log entry by id.
func (s *Store) GetLog(ctx context.Context, id string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM logs WHERE id = $1`, id)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// GetLogByIdempotencyKey returns the log holding the given key, or
// ErrNotFound.
func (s *Store) GetLogByIdempotencyKey(ctx context.Context, key string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM logs WHERE idempotency_key = $1`, key)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// InsertLog persists a new log entry. A duplicate idempotency key returns
// ErrDuplicateKey without retry.
func (s *Store) InsertLog(ctx context.Context, l *models.LogEntry) error {
	var source any
	if l.Source != nil {
		source = marshalJSON(l.Source)
	}
	if l.Attachments == nil {
		l.Attachments = []models.Attachment{}
	}
	return s.exec(ctx,
		`INSERT INTO logs (id, space_id, topic_id, task_id, related_log_id, idempotency_key,
		    type, content, summary, raw, classification_status, classification_attempts,
		    classification_error, agent_id, agent_label, source, session_key, attachments,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		l.ID, l.SpaceID, nullablePtr(l.TopicID), nullablePtr(l.TaskID),
		nullablePtr(l.RelatedLogID), nullable(l.IdempotencyKey), l.Type, l.Content,
		l.Summary, l.Raw, l.ClassificationStatus, l.ClassificationAttempts,
		l.ClassificationError, l.AgentID, l.AgentLabel, source, l.SessionKey(),
		marshalJSON(l.Attachments), l.CreatedAt, l.UpdatedAt)
}

// UpdateLog persists the mutable fields of a log row.
func (s *Store) UpdateLog(ctx context.Context, l *models.LogEntry) error {
	return s.exec(ctx,
		`UPDATE logs SET topic_id = $1, task_id = $2, content = $3, summary = $4,
		    classification_status = $5, classification_attempts = $6, classification_error = $7,
		    updated_at = $8
		 WHERE id = $9`,
		nullablePtr(l.TopicID), nullablePtr(l.TaskID), l.Content, l.Summary,
		l.ClassificationStatus, l.ClassificationAttempts, l.ClassificationError,
		l.UpdatedAt, l.ID)
}

// DeleteLogCascade removes the root log and every curated note that links to
// it via related_log_id. Returns all removed ids, root first.
func (s *Store) DeleteLogCascade(ctx context.Context, rootID string) ([]string, error) {
	if _, err := s.GetLog(ctx, rootID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM logs WHERE related_log_id = $1 ORDER BY created_at`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deleted := []string{rootID}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.exec(ctx, `DELETE FROM logs WHERE id = $1 OR related_log_id = $1`, rootID); err != nil {
		return nil, err
	}
	return deleted, nil
}

// LogFilter selects timeline rows.
type LogFilter struct {
	TopicID    string
	TaskID     string
	SessionKey string
	Types      []string
	SpaceIDs   []string
	Since      string
	Limit      int
}

// ListLogs returns timeline rows in (created_at, seq) order, newest last.
func (s *Store) ListLogs(ctx context.Context, f LogFilter) ([]*models.LogEntry, error) {
	query := `SELECT ` + logColumns + ` FROM logs`
	var (
		args  []any
		where []string
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.TopicID != "" {
		add("topic_id = $%d", f.TopicID)
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}
	if f.SessionKey != "" {
		add("session_key = $%d", f.SessionKey)
	}
	if f.Since != "" {
		add("updated_at > $%d", f.Since)
	}
	if len(f.Types) > 0 {
		clause, clauseArgs := inClause("type", len(args)+1, f.Types)
		args = append(args, clauseArgs...)
		where = append(where, clause)
	}
	if len(f.SpaceIDs) > 0 {
		clause, clauseArgs := inClause("space_id", len(args)+1, f.SpaceIDs)
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
	query += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	logs, err := s.queryLogs(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order: the query fetched the newest window.
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

// PendingSessions returns distinct session keys holding pending conversation
// logs, oldest pending first, capped.
func (s *Store) PendingSessions(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, min(created_at) AS oldest
		 FROM logs
		 WHERE classification_status = 'pending' AND type = 'conversation' AND session_key <> ''
		 GROUP BY session_key
		 ORDER BY oldest ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key, oldest string
		if err := rows.Scan(&key, &oldest); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SessionWindow returns the most recent lookback logs of a session in
// chronological (created_at, seq) order.
func (s *Store) SessionWindow(ctx context.Context, sessionKey string, lookback int) ([]*models.LogEntry, error) {
	logs, err := s.queryLogs(ctx,
		`SELECT `+logColumns+` FROM logs WHERE session_key = $1
		 ORDER BY created_at DESC, seq DESC LIMIT $2`, sessionKey, lookback)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

// NotesForLog returns curated notes linked to a log, oldest first.
func (s *Store) NotesForLog(ctx context.Context, logID string, limit int) ([]*models.LogEntry, error) {
	return s.queryLogs(ctx,
		`SELECT `+logColumns+` FROM logs WHERE related_log_id = $1 AND type = 'note'
		 ORDER BY created_at ASC LIMIT $2`, logID, limit)
}

// NoteCounts returns the number of curated notes per referenced log id.
func (s *Store) NoteCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT related_log_id, count(*) FROM logs
		 WHERE type = 'note' AND related_log_id IS NOT NULL
		 GROUP BY related_log_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ResetLogsForReplay sets logs back to pending with zeroed attempts.
// logID and sessionKey narrow the reset; both empty resets every
// conversation log (admin start-fresh replay).
func (s *Store) ResetLogsForReplay(ctx context.Context, logID, sessionKey, now string) (int64, error) {
	query := `UPDATE logs SET classification_status = 'pending', classification_attempts = 0,
	    classification_error = '', topic_id = NULL, task_id = NULL, updated_at = $1
	  WHERE type = 'conversation'`
	args := []any{now}
	if logID != "" {
		args = append(args, logID)
		query += fmt.Sprintf(` AND id = $%d`, len(args))
	}
	if sessionKey != "" {
		args = append(args, sessionKey)
		query += fmt.Sprintf(` AND session_key = $%d`, len(args))
	}

	var affected int64
	err := s.db.QueryRowContext(ctx, `WITH updated AS (`+query+` RETURNING 1) SELECT count(*) FROM updated`, args...).Scan(&affected)
	return affected, err
}

// ClassifierStats summarizes pipeline health for the metrics endpoint.
type ClassifierStats struct {
	Pending    int         `json:"pending"`
	Classified int         `json:"classified"`
	Failed     int         `json:"failed"`
	MaxedOut   int         `json:"maxed_out"`
	Attempts   map[int]int `json:"attempts,omitempty"`
}

// LogStats aggregates classification counters plus a per-attempt histogram
// over logs that have been tried at least once.
func (s *Store) LogStats(ctx context.Context, maxAttempts int) (*ClassifierStats, error) {
	var stats ClassifierStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		    count(*) FILTER (WHERE classification_status = 'pending'),
		    count(*) FILTER (WHERE classification_status = 'classified'),
		    count(*) FILTER (WHERE classification_status = 'failed'),
		    count(*) FILTER (WHERE classification_attempts >= $1)
		 FROM logs`, maxAttempts).
		Scan(&stats.Pending, &stats.Classified, &stats.Failed, &stats.MaxedOut)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT classification_attempts, count(*) FROM logs
		 WHERE classification_attempts > 0 GROUP BY classification_attempts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var attempts, n int
		if err := rows.Scan(&attempts, &n); err != nil {
			return nil, err
		}
		if stats.Attempts == nil {
			stats.Attempts = map[int]int{}
		}
		stats.Attempts[attempts] = n
	}
	return &stats, rows.Err()
}

// RecentLogs returns the newest logs overall (for graph building and search
// candidate windows), newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	return s.queryLogs(ctx,
		`SELECT `+logColumns+` FROM logs ORDER BY created_at DESC, seq DESC LIMIT $1`, limit)
}
