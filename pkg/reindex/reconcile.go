package reindex

import (
	"context"

	"github.com/clawboard/clawboard/pkg/vector"
)

// Doc is one live document eligible for indexing.
type Doc struct {
	Kind  string
	ID    string
	Scope string
	Text  string
}

// Catalog lists the documents that should exist in the index right now.
type Catalog interface {
	IndexableDocs(ctx context.Context) ([]Doc, error)
}

// Report describes the drift found by Reconcile.
type Report struct {
	Upserts []Op `json:"upserts"`
	Deletes []Op `json:"deletes"`
	DryRun  bool `json:"dryRun"`
}

// Reconcile diffs the index against the live catalog. Missing documents
// become upserts and orphaned vectors become deletes; unless dryRun is set
// the operations are enqueued for the worker.
func Reconcile(ctx context.Context, catalog Catalog, index *vector.Index, queue *Queue, dryRun bool) (*Report, error) {
	docs, err := catalog.IndexableDocs(ctx)
	if err != nil {
		return nil, err
	}

	liveByKind := map[string]map[string]Doc{}
	for _, d := range docs {
		m, ok := liveByKind[d.Kind]
		if !ok {
			m = map[string]Doc{}
			liveByKind[d.Kind] = m
		}
		m[d.ID] = d
	}

	report := &Report{DryRun: dryRun}
	for _, kind := range []string{vector.KindLog, vector.KindTopic, vector.KindTask} {
		indexed, err := index.IDs(ctx, kind)
		if err != nil {
			return nil, err
		}
		indexedSet := make(map[string]struct{}, len(indexed))
		for _, id := range indexed {
			indexedSet[id] = struct{}{}
		}

		for id, doc := range liveByKind[kind] {
			if _, ok := indexedSet[id]; !ok {
				report.Upserts = append(report.Upserts, Op{
					Op: OpUpsert, Kind: kind, ID: id, Scope: doc.Scope, Text: ClipText(doc.Text),
				})
			}
		}
		for _, id := range indexed {
			if _, ok := liveByKind[kind][id]; !ok {
				report.Deletes = append(report.Deletes, Op{Op: OpDelete, Kind: kind, ID: id})
			}
		}
	}

	if dryRun {
		return report, nil
	}
	for _, op := range report.Upserts {
		if err := queue.EnqueueUpsert(op.Kind, op.ID, op.Scope, op.Text); err != nil {
			return nil, err
		}
	}
	for _, op := range report.Deletes {
		if err := queue.EnqueueDelete(op.Kind, op.ID); err != nil {
			return nil, err
		}
	}
	return report, nil
}
