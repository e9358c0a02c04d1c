package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clawboard/clawboard/pkg/models"
)

// GetRoutingMemory returns the routing memory for a session, or an empty
// memory when none exists.
func (s *Store) GetRoutingMemory(ctx context.Context, sessionKey string) (*models.SessionRoutingMemory, error) {
	var (
		decisions []byte
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT decisions, updated_at FROM session_routing_memory WHERE session_key = $1`,
		sessionKey).Scan(&decisions, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SessionRoutingMemory{SessionKey: sessionKey, Decisions: []models.RoutingDecision{}}, nil
	}
	if err != nil {
		return nil, err
	}

	mem := &models.SessionRoutingMemory{SessionKey: sessionKey, UpdatedAt: updatedAt}
	if err := json.Unmarshal(decisions, &mem.Decisions); err != nil {
		return nil, fmt.Errorf("failed to decode routing memory for %s: %w", sessionKey, err)
	}
	return mem, nil
}

// AppendRoutingDecision appends a decision, newest last, capped to maxItems.
func (s *Store) AppendRoutingDecision(ctx context.Context, sessionKey string, decision models.RoutingDecision, maxItems int, now string) error {
	mem, err := s.GetRoutingMemory(ctx, sessionKey)
	if err != nil {
		return err
	}
	mem.Decisions = append(mem.Decisions, decision)
	if maxItems > 0 && len(mem.Decisions) > maxItems {
		mem.Decisions = mem.Decisions[len(mem.Decisions)-maxItems:]
	}
	return s.PutRoutingMemory(ctx, sessionKey, mem.Decisions, now)
}

// PutRoutingMemory replaces the memory for a session.
func (s *Store) PutRoutingMemory(ctx context.Context, sessionKey string, decisions []models.RoutingDecision, now string) error {
	if decisions == nil {
		decisions = []models.RoutingDecision{}
	}
	return s.exec(ctx,
		`INSERT INTO session_routing_memory (session_key, decisions, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_key) DO UPDATE SET decisions = $2, updated_at = $3`,
		sessionKey, marshalJSON(decisions), now)
}

// ClearRoutingMemory removes every session's routing memory (admin replay).
func (s *Store) ClearRoutingMemory(ctx context.Context) error {
	return s.exec(ctx, `DELETE FROM session_routing_memory`)
}
