package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawboard/clawboard/pkg/models"
)

// EnqueueIngest appends a durable ingest envelope.
func (s *Store) EnqueueIngest(ctx context.Context, payload models.AppendLogRequest, now string) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ingest payload: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO ingest_queue (payload, status, created_at) VALUES ($1, 'pending', $2) RETURNING id`,
		body, now).Scan(&id)
	return id, err
}

// ClaimPendingIngest marks up to limit pending envelopes as processing and
// returns them, oldest first. Single-statement claim keeps multiple workers
// safe.
func (s *Store) ClaimPendingIngest(ctx context.Context, limit int) ([]*models.IngestEnvelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE ingest_queue SET status = 'processing', attempts = attempts + 1
		 WHERE id IN (
		     SELECT id FROM ingest_queue WHERE status = 'pending' ORDER BY id LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, payload, status, attempts, last_error, created_at`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []*models.IngestEnvelope
	for rows.Next() {
		var (
			env     models.IngestEnvelope
			payload []byte
		)
		if err := rows.Scan(&env.ID, &payload, &env.Status, &env.Attempts, &env.LastError, &env.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &env.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode ingest payload %d: %w", env.ID, err)
		}
		envelopes = append(envelopes, &env)
	}
	return envelopes, rows.Err()
}

// FinishIngest records the terminal state of a claimed envelope.
func (s *Store) FinishIngest(ctx context.Context, id int64, status models.QueueStatus, lastError string) error {
	return s.exec(ctx,
		`UPDATE ingest_queue SET status = $1, last_error = $2 WHERE id = $3`,
		status, lastError, id)
}

// IngestQueueDepth counts pending envelopes.
func (s *Store) IngestQueueDepth(ctx context.Context) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM ingest_queue WHERE status = 'pending'`).Scan(&depth)
	return depth, err
}
