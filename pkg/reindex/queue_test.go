package reindex

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/vector"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(filepath.Join(t.TempDir(), "reindex.jsonl"))
}

func TestEnqueueDrainRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.EnqueueUpsert("log", "a", "", "hello world"))
	require.NoError(t, q.EnqueueDelete("log", "b"))

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	ops, err := q.Drain()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, OpUpsert, ops[0].Op)
	assert.Equal(t, "a", ops[0].ID)
	assert.Equal(t, "hello world", ops[0].Text)
	assert.Equal(t, OpDelete, ops[1].Op)
	assert.NotEmpty(t, ops[0].RequestedAt)

	// Drain truncates.
	ops, err = q.Drain()
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDrainMissingFileIsEmpty(t *testing.T) {
	q := newTestQueue(t)
	ops, err := q.Drain()
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestCoalesceKeepsLastPerKey(t *testing.T) {
	ops := []Op{
		{Op: OpUpsert, Kind: "log", ID: "a", Text: "v1"},
		{Op: OpUpsert, Kind: "log", ID: "b", Text: "b1"},
		{Op: OpUpsert, Kind: "log", ID: "a", Text: "v2"},
		{Op: OpDelete, Kind: "log", ID: "b"},
		{Op: OpUpsert, Kind: "topic", ID: "a", Text: "t1"},
	}

	out := Coalesce(ops)
	require.Len(t, out, 3)
	assert.Equal(t, "v2", out[0].Text)
	assert.Equal(t, OpDelete, out[1].Op)
	assert.Equal(t, "topic", out[2].Kind)
}

func TestClipText(t *testing.T) {
	long := strings.Repeat("x", 5000)
	assert.Len(t, ClipText(long), 1200)
	assert.Equal(t, "short", ClipText("short"))
}

func TestClipTextKeepsRuneBoundaries(t *testing.T) {
	// 1199 ASCII bytes followed by multi-byte runes puts the cut mid-rune.
	long := strings.Repeat("x", 1199) + strings.Repeat("é", 50)
	clipped := ClipText(long)
	assert.True(t, utf8.ValidString(clipped))
	assert.LessOrEqual(t, len(clipped), 1200)
	assert.Equal(t, 1199, len(clipped))
}

type staticCatalog struct{ docs []Doc }

func (c staticCatalog) IndexableDocs(context.Context) ([]Doc, error) { return c.docs, nil }

func TestReconcileFindsDrift(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.Open(ctx, filepath.Join(t.TempDir(), "v.db"), nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Upsert(ctx, vector.KindLog, "stale", "", []float32{1}))
	require.NoError(t, idx.Upsert(ctx, vector.KindLog, "kept", "", []float32{1}))

	catalog := staticCatalog{docs: []Doc{
		{Kind: vector.KindLog, ID: "kept", Text: "kept"},
		{Kind: vector.KindLog, ID: "missing", Text: "missing"},
	}}

	q := newTestQueue(t)
	report, err := Reconcile(ctx, catalog, idx, q, true)
	require.NoError(t, err)
	require.Len(t, report.Upserts, 1)
	assert.Equal(t, "missing", report.Upserts[0].ID)
	require.Len(t, report.Deletes, 1)
	assert.Equal(t, "stale", report.Deletes[0].ID)
	assert.True(t, report.DryRun)

	// Dry run leaves the queue untouched.
	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Zero(t, depth)

	// A real run enqueues the drift.
	report, err = Reconcile(ctx, catalog, idx, q, false)
	require.NoError(t, err)
	depth, err = q.Depth()
	require.NoError(t, err)
	assert.Equal(t, len(report.Upserts)+len(report.Deletes), depth)
}
