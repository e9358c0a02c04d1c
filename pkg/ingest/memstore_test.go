package ingest

import (
	"context"
	"sort"
	"strings"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/store"
)

// memStore is an in-memory Store for exercising ingest semantics without a
// database.
type memStore struct {
	logs      map[string]*models.LogEntry
	topics    map[string]*models.Topic
	tasks     map[string]*models.Task
	spaces    map[string]bool
	envelopes []*models.IngestEnvelope
	seq       int64
}

func newMemStore() *memStore {
	return &memStore{
		logs:   map[string]*models.LogEntry{},
		topics: map[string]*models.Topic{},
		tasks:  map[string]*models.Task{},
		spaces: map[string]bool{},
	}
}

func (m *memStore) GetLog(_ context.Context, id string) (*models.LogEntry, error) {
	if l, ok := m.logs[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetLogByIdempotencyKey(_ context.Context, key string) (*models.LogEntry, error) {
	for _, l := range m.logs {
		if l.IdempotencyKey == key {
			cp := *l
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) InsertLog(_ context.Context, l *models.LogEntry) error {
	if l.IdempotencyKey != "" {
		for _, existing := range m.logs {
			if existing.IdempotencyKey == l.IdempotencyKey {
				return store.ErrDuplicateKey
			}
		}
	}
	m.seq++
	l.Seq = m.seq
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *memStore) UpdateLog(_ context.Context, l *models.LogEntry) error {
	if _, ok := m.logs[l.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *memStore) DeleteLogCascade(_ context.Context, rootID string) ([]string, error) {
	if _, ok := m.logs[rootID]; !ok {
		return nil, store.ErrNotFound
	}
	ids := []string{rootID}
	for id, l := range m.logs {
		if l.Type == models.LogTypeNote && l.RelatedLogID != nil && *l.RelatedLogID == rootID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(m.logs, id)
	}
	return ids, nil
}

func (m *memStore) RecentLogs(_ context.Context, limit int) ([]*models.LogEntry, error) {
	var out []*models.LogEntry
	for _, l := range m.logs {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetTopic(_ context.Context, id string) (*models.Topic, error) {
	if t, ok := m.topics[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetTopicByName(_ context.Context, name string) (*models.Topic, error) {
	for _, t := range m.topics {
		if strings.EqualFold(t.Name, name) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListTopics(_ context.Context, spaceIDs []string) ([]*models.Topic, error) {
	var out []*models.Topic
	for _, t := range m.topics {
		if len(spaceIDs) > 0 && !contains(spaceIDs, t.SpaceID) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) CreateTopic(_ context.Context, t *models.Topic) error {
	cp := *t
	m.topics[t.ID] = &cp
	return nil
}

func (m *memStore) UpdateTopic(_ context.Context, t *models.Topic) error {
	if _, ok := m.topics[t.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *t
	m.topics[t.ID] = &cp
	return nil
}

func (m *memStore) DeleteTopic(_ context.Context, id, now string) error {
	if _, ok := m.topics[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.topics, id)
	for _, t := range m.tasks {
		if t.TopicID != nil && *t.TopicID == id {
			t.TopicID = nil
			t.UpdatedAt = now
		}
	}
	for _, l := range m.logs {
		if l.TopicID != nil && *l.TopicID == id {
			l.TopicID = nil
			l.TaskID = nil
			l.UpdatedAt = now
		}
	}
	return nil
}

func (m *memStore) ReorderTopics(_ context.Context, orderedIDs []string, now string) error {
	for i, id := range orderedIDs {
		if t, ok := m.topics[id]; ok {
			t.SortIndex = i
			t.UpdatedAt = now
		}
	}
	return nil
}

func (m *memStore) ClearTopicSnooze(_ context.Context, id, now string) error {
	if t, ok := m.topics[id]; ok && t.SnoozedUntil != "" {
		t.SnoozedUntil = ""
		if t.Status == models.TopicSnoozed {
			t.Status = models.TopicActive
		}
		t.UpdatedAt = now
	}
	return nil
}

func (m *memStore) SnoozedTopicsDue(_ context.Context, now string) ([]*models.Topic, error) {
	var out []*models.Topic
	for _, t := range m.topics {
		if t.SnoozedUntil != "" && t.SnoozedUntil <= now {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	if t, ok := m.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetTaskByTitle(_ context.Context, topicID, title string) (*models.Task, error) {
	for _, t := range m.tasks {
		if t.TopicID != nil && *t.TopicID == topicID && strings.EqualFold(t.Title, title) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListTasks(_ context.Context, topicID string, spaceIDs []string) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range m.tasks {
		if topicID != "" && (t.TopicID == nil || *t.TopicID != topicID) {
			continue
		}
		if len(spaceIDs) > 0 && !contains(spaceIDs, t.SpaceID) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) TasksForTopic(ctx context.Context, topicID string) ([]*models.Task, error) {
	return m.ListTasks(ctx, topicID, nil)
}

func (m *memStore) CreateTask(_ context.Context, t *models.Task) error {
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memStore) UpdateTask(_ context.Context, t *models.Task) error {
	if _, ok := m.tasks[t.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id, now string) error {
	if _, ok := m.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.tasks, id)
	for _, l := range m.logs {
		if l.TaskID != nil && *l.TaskID == id {
			l.TaskID = nil
			l.UpdatedAt = now
		}
	}
	return nil
}

func (m *memStore) ReorderTasks(_ context.Context, orderedIDs []string, now string) error {
	for i, id := range orderedIDs {
		if t, ok := m.tasks[id]; ok {
			t.SortIndex = i
			t.UpdatedAt = now
		}
	}
	return nil
}

func (m *memStore) ClearTaskSnooze(_ context.Context, id, now string) error {
	if t, ok := m.tasks[id]; ok && t.SnoozedUntil != "" {
		t.SnoozedUntil = ""
		t.UpdatedAt = now
	}
	return nil
}

func (m *memStore) SnoozedTasksDue(_ context.Context, now string) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range m.tasks {
		if t.SnoozedUntil != "" && t.SnoozedUntil <= now {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) EnsureSpace(_ context.Context, id, _ string) error {
	m.spaces[id] = true
	return nil
}

func (m *memStore) ClaimPendingIngest(_ context.Context, limit int) ([]*models.IngestEnvelope, error) {
	var out []*models.IngestEnvelope
	for _, env := range m.envelopes {
		if env.Status != models.QueuePending {
			continue
		}
		env.Status = models.QueueProcessing
		env.Attempts++
		cp := *env
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) FinishIngest(_ context.Context, id int64, status models.QueueStatus, lastError string) error {
	for _, env := range m.envelopes {
		if env.ID == id {
			env.Status = status
			env.LastError = lastError
			return nil
		}
	}
	return store.ErrNotFound
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
