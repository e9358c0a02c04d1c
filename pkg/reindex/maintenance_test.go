package reindex

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/vector"
)

func TestMaintenanceRunOnceRepairsDrift(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx, err := vector.Open(ctx, filepath.Join(dir, "v.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	// Orphan: indexed but absent from the catalog.
	require.NoError(t, idx.Upsert(ctx, vector.KindTopic, "t-gone", "", []float32{1, 0}))

	catalog := staticCatalog{docs: []Doc{
		{Kind: vector.KindTopic, ID: "t-live", Text: "Billing"},
	}}
	q := NewQueue(filepath.Join(dir, "q.jsonl"))
	w := NewMaintenanceWorker(catalog, idx, q, 0, slog.Default())

	report, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Upserts, 1)
	assert.Equal(t, "t-live", report.Upserts[0].ID)
	require.Len(t, report.Deletes, 1)
	assert.Equal(t, "t-gone", report.Deletes[0].ID)

	// Both repairs land on the intent queue for the drain worker.
	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}
