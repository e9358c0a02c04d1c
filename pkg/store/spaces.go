package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clawboard/clawboard/pkg/models"
)

const spaceColumns = `id, name, color, default_visible, connectivity, created_at, updated_at`

func scanSpace(row interface{ Scan(...any) error }) (*models.Space, error) {
	var (
		sp           models.Space
		connectivity []byte
	)
	if err := row.Scan(&sp.ID, &sp.Name, &sp.Color, &sp.DefaultVisible, &connectivity, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return nil, err
	}
	sp.Connectivity = map[string]bool{}
	if len(connectivity) > 0 {
		if err := json.Unmarshal(connectivity, &sp.Connectivity); err != nil {
			return nil, fmt.Errorf("failed to decode connectivity for space %s: %w", sp.ID, err)
		}
	}
	return &sp, nil
}

// GetSpace returns one space by id.
func (s *Store) GetSpace(ctx context.Context, id string) (*models.Space, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+spaceColumns+` FROM spaces WHERE id = $1`, id)
	sp, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sp, err
}

// ListSpaces returns all spaces ordered by name.
func (s *Store) ListSpaces(ctx context.Context) ([]*models.Space, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+spaceColumns+` FROM spaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spaces []*models.Space
	for rows.Next() {
		sp, err := scanSpace(rows)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

// CreateSpace inserts a new space. Self edges are stripped from the
// connectivity map before persisting.
func (s *Store) CreateSpace(ctx context.Context, sp *models.Space) error {
	if sp.Connectivity == nil {
		sp.Connectivity = map[string]bool{}
	}
	delete(sp.Connectivity, sp.ID)
	return s.exec(ctx,
		`INSERT INTO spaces (id, name, color, default_visible, connectivity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sp.ID, sp.Name, sp.Color, sp.DefaultVisible, marshalJSON(sp.Connectivity), sp.CreatedAt, sp.UpdatedAt)
}

// UpdateSpaceConnectivity replaces the outbound visibility edges of a space.
func (s *Store) UpdateSpaceConnectivity(ctx context.Context, id string, connectivity map[string]bool, updatedAt string) (*models.Space, error) {
	if connectivity == nil {
		connectivity = map[string]bool{}
	}
	delete(connectivity, id)
	err := s.exec(ctx,
		`UPDATE spaces SET connectivity = $1, updated_at = $2 WHERE id = $3`,
		marshalJSON(connectivity), updatedAt, id)
	if err != nil {
		return nil, err
	}
	return s.GetSpace(ctx, id)
}

// AllowedSpaceIDs resolves the visibility set for the given space: itself
// plus every explicit true outbound edge. Unknown spaces error with
// ErrNotFound.
func (s *Store) AllowedSpaceIDs(ctx context.Context, spaceID string) ([]string, error) {
	sp, err := s.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return sp.AllowedFrom(), nil
}

// EnsureSpace creates a space row when a producer references a space id the
// store has never seen. Policy for visibility comes from the default space's
// defaultVisible seed.
func (s *Store) EnsureSpace(ctx context.Context, id, now string) error {
	if id == "" || id == models.DefaultSpaceID {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM spaces WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	def, err := s.GetSpace(ctx, models.DefaultSpaceID)
	if err != nil {
		return err
	}
	sp := &models.Space{
		ID:             id,
		Name:           id,
		DefaultVisible: def.DefaultVisible,
		Connectivity:   map[string]bool{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.CreateSpace(ctx, sp)
	if errors.Is(err, ErrDuplicateKey) {
		// Lost a race with a concurrent producer; the row exists now.
		return nil
	}
	return err
}
