package store

import (
	"context"

	"github.com/clawboard/clawboard/pkg/models"
)

// GetInstanceConfig returns the single instance configuration row.
func (s *Store) GetInstanceConfig(ctx context.Context) (*models.InstanceConfig, error) {
	var cfg models.InstanceConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, default_space_id, updated_at FROM instance_config WHERE id = 1`).
		Scan(&cfg.Name, &cfg.Description, &cfg.DefaultSpaceID, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateInstanceConfig replaces the instance configuration. UpdatedAt is
// monotonic: the write stamps now, reads reflect it.
func (s *Store) UpdateInstanceConfig(ctx context.Context, cfg *models.InstanceConfig, now string) (*models.InstanceConfig, error) {
	err := s.exec(ctx,
		`UPDATE instance_config SET name = $1, description = $2, default_space_id = $3, updated_at = $4 WHERE id = 1`,
		cfg.Name, cfg.Description, cfg.DefaultSpaceID, now)
	if err != nil {
		return nil, err
	}
	return s.GetInstanceConfig(ctx)
}

// ClearDerivedState removes topics, tasks, and routing memory while keeping
// logs (admin start-fresh replay support).
func (s *Store) ClearDerivedState(ctx context.Context) error {
	if err := s.exec(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	if err := s.exec(ctx, `DELETE FROM topics`); err != nil {
		return err
	}
	return s.ClearRoutingMemory(ctx)
}
