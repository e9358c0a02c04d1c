// Package vector maintains the embedding index used by hybrid search and
// the classifier's candidate retrieval.
//
// Vectors are always mirrored into a local SQLite file so the service keeps
// answering when the remote backend is down. When a Qdrant endpoint is
// configured, writes go to both and queries prefer Qdrant, falling back to
// the mirror on error.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"
)

// Point kinds stored in the index.
const (
	KindLog   = "log"
	KindTopic = "topic"
	KindTask  = "task"
)

// Match is one nearest-neighbour result.
type Match struct {
	ID    string
	Score float64
}

// Index is the combined local+remote vector store.
type Index struct {
	db     *sql.DB
	remote *remoteIndex
}

// Open creates or opens the SQLite mirror at path and, when qdrantURL is
// non-empty, connects the remote backend.
func Open(ctx context.Context, path string, remoteCfg *RemoteConfig) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector mirror: %w", err)
	}
	// The mirror is touched from worker and request goroutines; SQLite
	// serializes writers, one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vectors (
			kind  TEXT NOT NULL,
			id    TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			dim   INTEGER NOT NULL,
			vec   BLOB NOT NULL,
			PRIMARY KEY (kind, id)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init vector mirror schema: %w", err)
	}

	idx := &Index{db: db}
	if remoteCfg != nil && remoteCfg.URL != "" {
		remote, err := newRemoteIndex(ctx, remoteCfg)
		if err != nil {
			db.Close()
			return nil, err
		}
		idx.remote = remote
	}
	return idx, nil
}

// Close releases both backends.
func (x *Index) Close() error {
	if x.remote != nil {
		x.remote.close()
	}
	return x.db.Close()
}

// Upsert stores a vector under (kind, id). scope is an optional grouping key
// (the owning topic id for task vectors) used to narrow queries.
func (x *Index) Upsert(ctx context.Context, kind, id, scope string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("refusing to store empty vector for %s:%s", kind, id)
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO vectors (kind, id, scope, dim, vec) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET scope = excluded.scope, dim = excluded.dim, vec = excluded.vec`,
		kind, id, scope, len(vec), encodeVec(vec))
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s:%s: %w", kind, id, err)
	}
	if x.remote != nil {
		if rerr := x.remote.upsert(ctx, kind, id, scope, vec); rerr != nil {
			return fmt.Errorf("remote upsert for %s:%s: %w", kind, id, rerr)
		}
	}
	return nil
}

// Delete removes a vector. Missing rows are not an error.
func (x *Index) Delete(ctx context.Context, kind, id string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM vectors WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return fmt.Errorf("failed to delete vector %s:%s: %w", kind, id, err)
	}
	if x.remote != nil {
		if rerr := x.remote.delete(ctx, kind, id); rerr != nil {
			return fmt.Errorf("remote delete for %s:%s: %w", kind, id, rerr)
		}
	}
	return nil
}

// TopK returns up to k nearest neighbours of query within kind, highest
// cosine similarity first. A non-empty scope restricts to that scope.
func (x *Index) TopK(ctx context.Context, kind, scope string, query []float32, k int) ([]Match, error) {
	if k < 1 || len(query) == 0 {
		return nil, nil
	}
	if x.remote != nil {
		matches, err := x.remote.topK(ctx, kind, scope, query, k)
		if err == nil {
			return matches, nil
		}
	}
	return x.topKLocal(ctx, kind, scope, query, k)
}

func (x *Index) topKLocal(ctx context.Context, kind, scope string, query []float32, k int) ([]Match, error) {
	q := `SELECT id, vec FROM vectors WHERE kind = ?`
	args := []any{kind}
	if scope != "" {
		q += ` AND scope = ?`
		args = append(args, scope)
	}
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors for kind %s: %w", kind, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec := decodeVec(blob)
		if len(vec) != len(query) {
			continue
		}
		if score := Cosine(query, vec); score > 0 {
			matches = append(matches, Match{ID: id, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of mirrored vectors per kind.
func (x *Index) Count(ctx context.Context) (map[string]int, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM vectors GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// IDs returns every mirrored id of a kind. Used by reindex reconciliation.
func (x *Index) IDs(ctx context.Context, kind string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT id FROM vectors WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeVec packs a vector as little-endian float32s.
func encodeVec(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
