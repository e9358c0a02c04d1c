package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/store"
	"github.com/clawboard/clawboard/pkg/vector"
)

// topicPalette is cycled deterministically by name hash so a recreated topic
// gets the same color.
var topicPalette = []string{
	"#e57373", "#f06292", "#ba68c8", "#9575cd", "#7986cb",
	"#64b5f6", "#4dd0e1", "#4db6ac", "#81c784", "#aed581",
	"#ffb74d", "#ff8a65", "#a1887f", "#90a4ae",
}

func colorForName(name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return topicPalette[int(h.Sum32())%len(topicPalette)]
}

// CreateTopic creates a topic and publishes its upsert event.
func (s *Service) CreateTopic(ctx context.Context, req models.CreateTopicRequest) (*models.Topic, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, store.NewValidationError("name", "required")
	}

	now := models.NowISO()
	spaceID := req.SpaceID
	if spaceID == "" {
		spaceID = models.DefaultSpaceID
	}
	if err := s.store.EnsureSpace(ctx, spaceID, now); err != nil {
		return nil, err
	}

	color := req.Color
	if color == "" {
		color = colorForName(name)
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = models.CreatedByUser
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	t := &models.Topic{
		ID:        newID(),
		SpaceID:   spaceID,
		Name:      name,
		CreatedBy: createdBy,
		Color:     color,
		Priority:  priority,
		Status:    models.TopicActive,
		Tags:      tags,
		ParentID:  req.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.Description = req.Description

	if err := s.store.CreateTopic(ctx, t); err != nil {
		return nil, err
	}
	s.hub.Publish(events.EventTypeTopicUpserted, t, t.UpdatedAt)
	s.enqueueTopicReindex(t)
	return t, nil
}

// PatchTopic applies a partial update. Digest-only patches are
// system-managed and do not bump UpdatedAt.
func (s *Service) PatchTopic(ctx context.Context, id string, p *models.TopicPatch) (*models.Topic, error) {
	t, err := s.store.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}

	now := models.NowISO()
	digestOnly := p.DigestOnly()

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, store.NewValidationError("name", "must not be blank")
		}
		t.Name = name
	}
	if p.SpaceID != nil {
		if err := s.store.EnsureSpace(ctx, *p.SpaceID, now); err != nil {
			return nil, err
		}
		t.SpaceID = *p.SpaceID
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.SnoozedUntil != nil {
		t.SnoozedUntil = *p.SnoozedUntil
		if t.SnoozedUntil != "" {
			t.Status = models.TopicSnoozed
		} else if t.Status == models.TopicSnoozed {
			t.Status = models.TopicActive
		}
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	if p.ParentID != nil {
		t.ParentID = p.ParentID
	}
	if p.Pinned != nil {
		t.Pinned = *p.Pinned
	}
	if p.Digest != nil {
		t.Digest = *p.Digest
		t.DigestUpdatedAt = now
	}
	if !digestOnly {
		t.UpdatedAt = now
	}

	if err := s.store.UpdateTopic(ctx, t); err != nil {
		return nil, err
	}
	s.hub.Publish(events.EventTypeTopicUpserted, t, t.UpdatedAt)
	s.enqueueTopicReindex(t)
	return t, nil
}

// DeleteTopic removes a topic, detaching its tasks, children, and logs.
func (s *Service) DeleteTopic(ctx context.Context, id string) error {
	now := models.NowISO()
	if err := s.store.DeleteTopic(ctx, id, now); err != nil {
		return err
	}
	s.hub.Publish(events.EventTypeTopicDeleted, map[string]string{"id": id}, now)
	if err := s.queue.EnqueueDelete(vector.KindTopic, id); err != nil {
		s.logger.Warn("Failed to enqueue reindex delete", "topic_id", id, "error", err)
	}
	return nil
}

// ReorderTopics rewrites display order following orderedIDs.
func (s *Service) ReorderTopics(ctx context.Context, orderedIDs []string) error {
	now := models.NowISO()
	if err := s.store.ReorderTopics(ctx, orderedIDs, now); err != nil {
		return err
	}
	// One upsert per moved topic keeps change cursors consistent with the
	// per-row updated_at bump.
	for _, id := range orderedIDs {
		if t, err := s.store.GetTopic(ctx, id); err == nil {
			s.hub.Publish(events.EventTypeTopicUpserted, t, t.UpdatedAt)
		}
	}
	return nil
}

// EnsureTopicByName returns the topic with the given name, creating it when
// missing. Used by the classifier for well-known buckets.
func (s *Service) EnsureTopicByName(ctx context.Context, name string, createdBy models.CreatedBy) (*models.Topic, error) {
	t, err := s.store.GetTopicByName(ctx, name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.CreateTopic(ctx, models.CreateTopicRequest{Name: name, CreatedBy: createdBy})
}

// CreateTask creates a task and publishes its upsert event.
func (s *Service) CreateTask(ctx context.Context, req models.CreateTaskRequest) (*models.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, store.NewValidationError("title", "required")
	}
	status := req.Status
	if status == "" {
		status = models.TaskTodo
	}
	if !status.Valid() {
		return nil, store.NewValidationError("status", "unknown task status")
	}

	now := models.NowISO()
	spaceID := req.SpaceID

	if req.TopicID != nil {
		topic, err := s.store.GetTopic(ctx, *req.TopicID)
		if err != nil {
			return nil, err
		}
		// A task lives in its topic's space.
		spaceID = topic.SpaceID
	}
	if spaceID == "" {
		spaceID = models.DefaultSpaceID
	}
	if err := s.store.EnsureSpace(ctx, spaceID, now); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = models.CreatedByUser
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	t := &models.Task{
		ID:        newID(),
		SpaceID:   spaceID,
		TopicID:   req.TopicID,
		Title:     title,
		CreatedBy: createdBy,
		Status:    status,
		Priority:  priority,
		DueDate:   req.DueDate,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	s.hub.Publish(events.EventTypeTaskUpserted, t, t.UpdatedAt)
	s.enqueueTaskReindex(t)
	return t, nil
}

// PatchTask applies a partial update. Moving a task to another topic adopts
// that topic's space.
func (s *Service) PatchTask(ctx context.Context, id string, p *models.TaskPatch) (*models.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, store.NewValidationError("title", "must not be blank")
		}
		t.Title = title
	}
	if p.TopicID != nil {
		topic, err := s.store.GetTopic(ctx, *p.TopicID)
		if err != nil {
			return nil, err
		}
		t.TopicID = p.TopicID
		t.SpaceID = topic.SpaceID
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, store.NewValidationError("status", "unknown task status")
		}
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.SnoozedUntil != nil {
		t.SnoozedUntil = *p.SnoozedUntil
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	if p.Pinned != nil {
		t.Pinned = *p.Pinned
	}
	t.UpdatedAt = models.NowISO()

	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	s.hub.Publish(events.EventTypeTaskUpserted, t, t.UpdatedAt)
	s.enqueueTaskReindex(t)
	return t, nil
}

// DeleteTask removes a task, detaching its logs.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	now := models.NowISO()
	if err := s.store.DeleteTask(ctx, id, now); err != nil {
		return err
	}
	s.hub.Publish(events.EventTypeTaskDeleted, map[string]string{"id": id}, now)
	if err := s.queue.EnqueueDelete(vector.KindTask, id); err != nil {
		s.logger.Warn("Failed to enqueue reindex delete", "task_id", id, "error", err)
	}
	return nil
}

// ReorderTasks rewrites display order following orderedIDs.
func (s *Service) ReorderTasks(ctx context.Context, orderedIDs []string) error {
	now := models.NowISO()
	if err := s.store.ReorderTasks(ctx, orderedIDs, now); err != nil {
		return err
	}
	for _, id := range orderedIDs {
		if t, err := s.store.GetTask(ctx, id); err == nil {
			s.hub.Publish(events.EventTypeTaskUpserted, t, t.UpdatedAt)
		}
	}
	return nil
}

func (s *Service) enqueueTopicReindex(t *models.Topic) {
	text := topicIndexText(t)
	if err := s.queue.EnqueueUpsert(vector.KindTopic, t.ID, "", text); err != nil {
		s.logger.Warn("Failed to enqueue reindex op", "topic_id", t.ID, "error", err)
	}
}

func (s *Service) enqueueTaskReindex(t *models.Task) {
	scope := ""
	if t.TopicID != nil {
		scope = *t.TopicID
	}
	text := taskIndexText(t)
	if err := s.queue.EnqueueUpsert(vector.KindTask, t.ID, scope, text); err != nil {
		s.logger.Warn("Failed to enqueue reindex op", "task_id", t.ID, "error", err)
	}
}

func topicIndexText(t *models.Topic) string {
	parts := []string{t.Name}
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	if len(t.Tags) > 0 {
		parts = append(parts, strings.Join(t.Tags, " "))
	}
	if t.Digest != "" {
		parts = append(parts, t.Digest)
	}
	return strings.Join(parts, "\n")
}

func taskIndexText(t *models.Task) string {
	parts := []string{t.Title}
	if len(t.Tags) > 0 {
		parts = append(parts, strings.Join(t.Tags, " "))
	}
	return strings.Join(parts, "\n")
}
