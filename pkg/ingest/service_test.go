package ingest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/reindex"
	"github.com/clawboard/clawboard/pkg/store"
	"github.com/clawboard/clawboard/pkg/vector"
)

func newTestService(t *testing.T) (*Service, *memStore, *events.Hub, *reindex.Queue) {
	t.Helper()
	st := newMemStore()
	hub := events.NewHub(256, 64)
	queue := reindex.NewQueue(filepath.Join(t.TempDir(), "reindex.jsonl"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, hub, queue, logger), st, hub, queue
}

func strPtr(s string) *string { return &s }

func seedTopic(t *testing.T, svc *Service, name string) *models.Topic {
	t.Helper()
	topic, err := svc.CreateTopic(context.Background(), models.CreateTopicRequest{Name: name})
	require.NoError(t, err)
	return topic
}

func seedTask(t *testing.T, svc *Service, topicID *string, title string) *models.Task {
	t.Helper()
	task, err := svc.CreateTask(context.Background(), models.CreateTaskRequest{Title: title, TopicID: topicID})
	require.NoError(t, err)
	return task
}

func eventTypes(hub *events.Hub) []string {
	evts, _ := hub.Replay(0)
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	return types
}

func TestAppendIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	first, err := svc.Append(ctx, models.AppendLogRequest{
		Type:           models.LogTypeConversation,
		Content:        "deploy failed on staging",
		IdempotencyKey: "msg-1",
	}, "")
	require.NoError(t, err)

	second, err := svc.Append(ctx, models.AppendLogRequest{
		Type:           models.LogTypeConversation,
		Content:        "different content, same key",
		IdempotencyKey: "msg-1",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "deploy failed on staging", second.Content)
	assert.Len(t, st.logs, 1)
}

type fakeTracker struct {
	observed []*models.LogEntry
	err      error
}

func (f *fakeTracker) ObserveLog(_ context.Context, l *models.LogEntry) error {
	f.observed = append(f.observed, l)
	return f.err
}

func TestAppendNotifiesRunTracker(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)
	tracker := &fakeTracker{}
	svc.SetRunTracker(tracker)

	correlated, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeAction,
		Content: "sessions_spawn",
		Source:  &models.LogSource{SessionKey: "agent:main", RequestID: "req-1"},
	}, "")
	require.NoError(t, err)

	// Entries without a request id never reach the tracker.
	_, err = svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "unrelated traffic",
	}, "")
	require.NoError(t, err)

	require.Len(t, tracker.observed, 1)
	assert.Equal(t, correlated.ID, tracker.observed[0].ID)
	assert.Len(t, st.logs, 2)
}

func TestAppendSurvivesTrackerFailure(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)
	svc.SetRunTracker(&fakeTracker{err: context.DeadlineExceeded})

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "still persists",
		AgentID: "claw",
		Source:  &models.LogSource{SessionKey: "agent:main", RequestID: "req-1"},
	}, "")
	require.NoError(t, err)
	assert.NotNil(t, st.logs[l.ID])
}

func TestAppendHeaderKeyWinsOverPayload(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:           models.LogTypeConversation,
		Content:        "hello",
		IdempotencyKey: "payload-key",
	}, "header-key")
	require.NoError(t, err)
	assert.Equal(t, "header-key", l.IdempotencyKey)
}

func TestAppendSynthesizesKeyFromMessageIdentity(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	req := models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "same message delivered twice",
		AgentID: "claw",
		Source:  &models.LogSource{Channel: "discord", MessageID: "m-42"},
	}
	first, err := svc.Append(ctx, req, "")
	require.NoError(t, err)
	second, err := svc.Append(ctx, req, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, st.logs, 1)
}

func TestAppendTaskImpliesTopic(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	topic := seedTopic(t, svc, "Billing Migration")
	task := seedTask(t, svc, &topic.ID, "Cut over invoices")

	other := seedTopic(t, svc, "Unrelated")
	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "progress update",
		TopicID: &other.ID, // contradicts the task; the task wins
		TaskID:  &task.ID,
	}, "")
	require.NoError(t, err)

	require.NotNil(t, l.TopicID)
	assert.Equal(t, topic.ID, *l.TopicID)
	require.NotNil(t, l.TaskID)
	assert.Equal(t, task.ID, *l.TaskID)
}

func TestAppendDropsDanglingRouting(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "refers to deleted board rows",
		TopicID: strPtr("gone-topic"),
		TaskID:  strPtr("gone-task"),
	}, "")
	require.NoError(t, err)
	assert.Nil(t, l.TopicID)
	assert.Nil(t, l.TaskID)
	assert.Equal(t, models.ClassificationPending, l.ClassificationStatus)
}

func TestAppendNoteRequiresExistingRelatedLog(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	_, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeNote,
		Content: "orphan note",
	}, "")
	assert.True(t, store.IsValidationError(err))

	_, err = svc.Append(ctx, models.AppendLogRequest{
		Type:         models.LogTypeNote,
		Content:      "note on missing log",
		RelatedLogID: strPtr("missing"),
	}, "")
	assert.True(t, store.IsValidationError(err))

	parent, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "parent entry",
	}, "")
	require.NoError(t, err)

	note, err := svc.Append(ctx, models.AppendLogRequest{
		Type:         models.LogTypeNote,
		Content:      "annotation",
		RelatedLogID: &parent.ID,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationClassified, note.ClassificationStatus)
}

func TestAppendUnsnoozesTouchedTopic(t *testing.T) {
	ctx := context.Background()
	svc, st, hub, _ := newTestService(t)

	topic := seedTopic(t, svc, "Quiet Project")
	future := "2099-01-01T00:00:00.000Z"
	_, err := svc.PatchTopic(ctx, topic.ID, &models.TopicPatch{SnoozedUntil: &future})
	require.NoError(t, err)
	require.Equal(t, models.TopicSnoozed, st.topics[topic.ID].Status)

	_, err = svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "activity while snoozed",
		TopicID: &topic.ID,
	}, "")
	require.NoError(t, err)

	assert.Empty(t, st.topics[topic.ID].SnoozedUntil)
	assert.Equal(t, models.TopicActive, st.topics[topic.ID].Status)
	assert.Contains(t, eventTypes(hub), events.EventTypeTopicUpserted)
}

func TestAppendEnqueuesReindexUpsert(t *testing.T) {
	ctx := context.Background()
	svc, _, _, queue := newTestService(t)

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "indexable content",
	}, "")
	require.NoError(t, err)

	ops, err := queue.Drain()
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	last := ops[len(ops)-1]
	assert.Equal(t, reindex.OpUpsert, last.Op)
	assert.Equal(t, vector.KindLog, last.Kind)
	assert.Equal(t, l.ID, last.ID)
}

func TestAppendSystemLogGetsReindexDelete(t *testing.T) {
	ctx := context.Background()
	svc, _, _, queue := newTestService(t)

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeSystem,
		Content: "gateway restarted",
	}, "")
	require.NoError(t, err)

	ops, err := queue.Drain()
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	last := ops[len(ops)-1]
	assert.Equal(t, reindex.OpDelete, last.Op)
	assert.Equal(t, l.ID, last.ID)
}

func TestPatchTaskAssignmentAlignsTopic(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	topic := seedTopic(t, svc, "Payments")
	task := seedTask(t, svc, &topic.ID, "Reconcile ledger")

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "unrouted",
	}, "")
	require.NoError(t, err)

	patch := &models.LogPatch{}
	patch.SetTaskID(&task.ID)
	updated, err := svc.Patch(ctx, l.ID, patch)
	require.NoError(t, err)

	require.NotNil(t, updated.TopicID)
	assert.Equal(t, topic.ID, *updated.TopicID)
}

func TestPatchTopicMoveClearsForeignTask(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	topicA := seedTopic(t, svc, "Alpha")
	topicB := seedTopic(t, svc, "Beta")
	task := seedTask(t, svc, &topicA.ID, "Alpha work")

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "routed to alpha task",
		TaskID:  &task.ID,
	}, "")
	require.NoError(t, err)

	patch := &models.LogPatch{}
	patch.SetTopicID(&topicB.ID)
	updated, err := svc.Patch(ctx, l.ID, patch)
	require.NoError(t, err)

	require.NotNil(t, updated.TopicID)
	assert.Equal(t, topicB.ID, *updated.TopicID)
	assert.Nil(t, updated.TaskID)
}

func TestPatchTopicMoveKeepsTaskInSameTopic(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	topic := seedTopic(t, svc, "Gamma")
	task := seedTask(t, svc, &topic.ID, "Gamma work")

	l, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "routed",
		TaskID:  &task.ID,
	}, "")
	require.NoError(t, err)

	// Re-asserting the same topic must not strip the task.
	patch := &models.LogPatch{}
	patch.SetTopicID(&topic.ID)
	updated, err := svc.Patch(ctx, l.ID, patch)
	require.NoError(t, err)
	require.NotNil(t, updated.TaskID)
	assert.Equal(t, task.ID, *updated.TaskID)
}

func TestDeleteCascadesToNotes(t *testing.T) {
	ctx := context.Background()
	svc, st, hub, _ := newTestService(t)

	parent, err := svc.Append(ctx, models.AppendLogRequest{
		Type:    models.LogTypeConversation,
		Content: "parent",
	}, "")
	require.NoError(t, err)
	_, err = svc.Append(ctx, models.AppendLogRequest{
		Type:         models.LogTypeNote,
		Content:      "child note",
		RelatedLogID: &parent.ID,
	}, "")
	require.NoError(t, err)

	ids, err := svc.Delete(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Empty(t, st.logs)

	deleted := 0
	for _, typ := range eventTypes(hub) {
		if typ == events.EventTypeLogDeleted {
			deleted++
		}
	}
	assert.Equal(t, 2, deleted)
}

func TestCreateTopicDefaults(t *testing.T) {
	svc, _, hub, _ := newTestService(t)

	topic := seedTopic(t, svc, "New Workstream")
	assert.Equal(t, models.DefaultSpaceID, topic.SpaceID)
	assert.Equal(t, models.TopicActive, topic.Status)
	assert.Equal(t, models.PriorityMedium, topic.Priority)
	assert.NotEmpty(t, topic.Color)
	assert.Equal(t, colorForName("New Workstream"), topic.Color)
	assert.Contains(t, eventTypes(hub), events.EventTypeTopicUpserted)
}

func TestDigestOnlyPatchKeepsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	topic := seedTopic(t, svc, "Digest Target")
	old := "2020-01-01T00:00:00.000Z"
	st.topics[topic.ID].UpdatedAt = old

	digest := "Work is proceeding."
	updated, err := svc.PatchTopic(ctx, topic.ID, &models.TopicPatch{Digest: &digest})
	require.NoError(t, err)

	assert.Equal(t, old, updated.UpdatedAt)
	assert.Equal(t, digest, updated.Digest)
	assert.NotEmpty(t, updated.DigestUpdatedAt)
}

func TestSnoozePatchTransitionsStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	topic := seedTopic(t, svc, "Sleepy")
	until := "2099-06-01T00:00:00.000Z"
	updated, err := svc.PatchTopic(ctx, topic.ID, &models.TopicPatch{SnoozedUntil: &until})
	require.NoError(t, err)
	assert.Equal(t, models.TopicSnoozed, updated.Status)

	empty := ""
	updated, err = svc.PatchTopic(ctx, topic.ID, &models.TopicPatch{SnoozedUntil: &empty})
	require.NoError(t, err)
	assert.Equal(t, models.TopicActive, updated.Status)
}

func TestCreateTaskAdoptsTopicSpace(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	require.NoError(t, st.EnsureSpace(ctx, "work", models.NowISO()))
	topic, err := svc.CreateTopic(ctx, models.CreateTopicRequest{Name: "Scoped", SpaceID: "work"})
	require.NoError(t, err)

	task := seedTask(t, svc, &topic.ID, "Inherit space")
	assert.Equal(t, "work", task.SpaceID)
}

func TestEnsureTopicByNameReusesExisting(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	first, err := svc.EnsureTopicByName(ctx, "Small Talk", models.CreatedByClassifier)
	require.NoError(t, err)
	second, err := svc.EnsureTopicByName(ctx, "small talk", models.CreatedByClassifier)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, st.topics, 1)
}

func TestSnoozeWorkerRevivesDueRows(t *testing.T) {
	ctx := context.Background()
	svc, st, hub, _ := newTestService(t)

	topic := seedTopic(t, svc, "Due Topic")
	st.topics[topic.ID].SnoozedUntil = "2020-01-01T00:00:00.000Z"
	st.topics[topic.ID].Status = models.TopicSnoozed

	task := seedTask(t, svc, &topic.ID, "Due task")
	st.tasks[task.ID].SnoozedUntil = "2020-01-01T00:00:00.000Z"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := NewSnoozeWorker(st, hub, 0, logger)
	revived, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, revived)

	assert.Empty(t, st.topics[topic.ID].SnoozedUntil)
	assert.Equal(t, models.TopicActive, st.topics[topic.ID].Status)
	assert.Empty(t, st.tasks[task.ID].SnoozedUntil)
}

func TestQueueWorkerDrainsEnvelopes(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	st.envelopes = []*models.IngestEnvelope{
		{
			ID:      1,
			Status:  models.QueuePending,
			Payload: models.AppendLogRequest{Type: models.LogTypeConversation, Content: "queued one"},
		},
		{
			ID:      2,
			Status:  models.QueuePending,
			Payload: models.AppendLogRequest{Type: "bogus", Content: "bad type"},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := NewQueueWorker(st, svc, 0, logger)
	require.NoError(t, worker.RunOnce(ctx))

	assert.Len(t, st.logs, 1)
	assert.Equal(t, models.QueueDone, st.envelopes[0].Status)
	assert.Equal(t, models.QueueFailed, st.envelopes[1].Status)
	assert.NotEmpty(t, st.envelopes[1].LastError)
}
