package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clawboard/clawboard/pkg/database"
)

// Store bundles all repositories over one connection pool. Every write goes
// through the busy-retry wrapper; uniqueness violations surface immediately
// as ErrDuplicateKey.
type Store struct {
	db *sql.DB
}

// New creates a Store over the shared database client.
func New(client *database.Client) *Store {
	return &Store{db: client.DB()}
}

// NewFromDB creates a Store over a raw connection (testing).
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// exec runs a write statement under the retry wrapper.
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		if database.IsUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	})
}

// marshalJSON renders v for a JSONB column; nil maps/slices become their
// empty JSON form so columns stay non-null.
func marshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// inClause renders `col IN ($start, $start+1, ...)` with its argument list.
func inClause(col string, start int, values []string) (string, []any) {
	clause := col + " IN ("
	args := make([]any, 0, len(values))
	for i, v := range values {
		if i > 0 {
			clause += ", "
		}
		clause += fmt.Sprintf("$%d", start+i)
		args = append(args, v)
	}
	return clause + ")", args
}

// nullable converts "" to NULL for optional TEXT columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullablePtr converts a nil pointer to NULL.
func nullablePtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// strOrEmpty converts a nullable column back to "".
func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ptrOrNil converts a nullable column back to a *string.
func ptrOrNil(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := ns.String
	return &v
}
