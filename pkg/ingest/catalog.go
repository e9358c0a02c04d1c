package ingest

import (
	"context"

	"github.com/clawboard/clawboard/pkg/reindex"
	"github.com/clawboard/clawboard/pkg/vector"
)

// catalogLogWindow bounds the timeline slice considered live during
// reconciliation.
const catalogLogWindow = 5000

// Catalog exposes the set of documents that should exist in the vector
// index. It satisfies reindex.Catalog.
type Catalog struct {
	store Store
}

// NewCatalog wires the reconciliation catalog.
func NewCatalog(st Store) *Catalog {
	return &Catalog{store: st}
}

// IndexableDocs lists every topic, task, and recent indexable log with its
// embedding text.
func (c *Catalog) IndexableDocs(ctx context.Context) ([]reindex.Doc, error) {
	var docs []reindex.Doc

	topics, err := c.store.ListTopics(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, t := range topics {
		docs = append(docs, reindex.Doc{
			Kind: vector.KindTopic,
			ID:   t.ID,
			Text: topicIndexText(t),
		})
	}

	tasks, err := c.store.ListTasks(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		scope := ""
		if t.TopicID != nil {
			scope = *t.TopicID
		}
		docs = append(docs, reindex.Doc{
			Kind:  vector.KindTask,
			ID:    t.ID,
			Scope: scope,
			Text:  taskIndexText(t),
		})
	}

	logs, err := c.store.RecentLogs(ctx, catalogLogWindow)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		if !indexable(l) {
			continue
		}
		text := l.Content
		if l.Summary != "" {
			text = l.Summary + " " + text
		}
		docs = append(docs, reindex.Doc{Kind: vector.KindLog, ID: l.ID, Text: text})
	}
	return docs, nil
}
