// Package ingest owns every mutation of log, topic, and task rows. API
// handlers, queue workers, and the classifier all funnel their writes
// through the Service so idempotency, routing invariants, event
// publication, and reindex intents are enforced in exactly one place.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/reindex"
	"github.com/clawboard/clawboard/pkg/store"
	"github.com/clawboard/clawboard/pkg/vector"
)

// Store is the persistence surface the ingest service needs. *store.Store
// satisfies it.
type Store interface {
	GetLog(ctx context.Context, id string) (*models.LogEntry, error)
	GetLogByIdempotencyKey(ctx context.Context, key string) (*models.LogEntry, error)
	InsertLog(ctx context.Context, l *models.LogEntry) error
	UpdateLog(ctx context.Context, l *models.LogEntry) error
	DeleteLogCascade(ctx context.Context, rootID string) ([]string, error)
	RecentLogs(ctx context.Context, limit int) ([]*models.LogEntry, error)

	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	GetTopicByName(ctx context.Context, name string) (*models.Topic, error)
	ListTopics(ctx context.Context, spaceIDs []string) ([]*models.Topic, error)
	CreateTopic(ctx context.Context, t *models.Topic) error
	UpdateTopic(ctx context.Context, t *models.Topic) error
	DeleteTopic(ctx context.Context, id, now string) error
	ReorderTopics(ctx context.Context, orderedIDs []string, now string) error
	ClearTopicSnooze(ctx context.Context, id, now string) error
	SnoozedTopicsDue(ctx context.Context, now string) ([]*models.Topic, error)

	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTaskByTitle(ctx context.Context, topicID, title string) (*models.Task, error)
	ListTasks(ctx context.Context, topicID string, spaceIDs []string) ([]*models.Task, error)
	TasksForTopic(ctx context.Context, topicID string) ([]*models.Task, error)
	CreateTask(ctx context.Context, t *models.Task) error
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id, now string) error
	ReorderTasks(ctx context.Context, orderedIDs []string, now string) error
	ClearTaskSnooze(ctx context.Context, id, now string) error
	SnoozedTasksDue(ctx context.Context, now string) ([]*models.Task, error)

	EnsureSpace(ctx context.Context, id, now string) error

	ClaimPendingIngest(ctx context.Context, limit int) ([]*models.IngestEnvelope, error)
	FinishIngest(ctx context.Context, id int64, status models.QueueStatus, lastError string) error
}

// RunTracker observes ingested logs that carry a chat request id so the
// orchestration runtime can derive subagent items and completion.
// *orchestration.Service satisfies it.
type RunTracker interface {
	ObserveLog(ctx context.Context, l *models.LogEntry) error
}

// Service is the single writer for timeline and board rows.
type Service struct {
	store   Store
	hub     *events.Hub
	queue   *reindex.Queue
	tracker RunTracker
	logger  *slog.Logger
}

// NewService wires the ingest service.
func NewService(st Store, hub *events.Hub, queue *reindex.Queue, logger *slog.Logger) *Service {
	return &Service{store: st, hub: hub, queue: queue, logger: logger.With("component", "ingest")}
}

// SetRunTracker attaches the orchestration observer. Call before serving
// traffic; a nil tracker disables run correlation.
func (s *Service) SetRunTracker(t RunTracker) { s.tracker = t }

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Append ingests one log entry. Duplicate idempotency keys return the
// existing row unchanged.
func (s *Service) Append(ctx context.Context, req models.AppendLogRequest, headerIdemKey string) (*models.LogEntry, error) {
	if !req.Type.Valid() {
		return nil, store.NewValidationError("type", fmt.Sprintf("unknown log type %q", req.Type))
	}

	now := models.NowISO()
	key := resolveIdempotencyKey(req, headerIdemKey)
	if key != "" {
		existing, err := s.store.GetLogByIdempotencyKey(ctx, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	spaceID := req.SpaceID
	if spaceID == "" {
		spaceID = models.DefaultSpaceID
	}
	if err := s.store.EnsureSpace(ctx, spaceID, now); err != nil {
		return nil, err
	}

	if req.Type == models.LogTypeNote {
		if req.RelatedLogID == nil {
			return nil, store.NewValidationError("relatedLogId", "required for note entries")
		}
		if _, err := s.store.GetLog(ctx, *req.RelatedLogID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, store.NewValidationError("relatedLogId", "references no log")
			}
			return nil, err
		}
	}

	topicID, taskID, err := s.resolveRouting(ctx, req.TopicID, req.TaskID)
	if err != nil {
		return nil, err
	}

	l := &models.LogEntry{
		ID:                   newID(),
		SpaceID:              spaceID,
		TopicID:              topicID,
		TaskID:               taskID,
		RelatedLogID:         req.RelatedLogID,
		IdempotencyKey:       key,
		Type:                 req.Type,
		Content:              req.Content,
		Summary:              req.Summary,
		Raw:                  req.Raw,
		ClassificationStatus: models.ClassificationPending,
		AgentID:              req.AgentID,
		AgentLabel:           req.AgentLabel,
		Source:               req.Source,
		Attachments:          req.Attachments,
		CreatedAt:            models.NormalizeISO(req.CreatedAt),
		UpdatedAt:            now,
	}
	if l.Type == models.LogTypeNote {
		// Curated notes skip classification.
		l.ClassificationStatus = models.ClassificationClassified
	}

	if outcome := applyFilters(l); outcome != nil {
		l.ClassificationStatus = outcome.status
		l.ClassificationError = outcome.reason
		if outcome.detach {
			l.TopicID = nil
			l.TaskID = nil
		}
	}

	if err := s.store.InsertLog(ctx, l); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) && key != "" {
			return s.store.GetLogByIdempotencyKey(ctx, key)
		}
		return nil, err
	}

	s.unsnoozeOnActivity(ctx, l.TopicID, l.TaskID)
	s.publishLog(events.EventTypeLogAppended, l)
	s.enqueueReindex(l)
	if s.tracker != nil && l.RequestID() != "" {
		if err := s.tracker.ObserveLog(ctx, l); err != nil {
			// Tracking never fails the ingest.
			s.logger.Warn("Run correlation failed", "error", err, "log_id", l.ID)
		}
	}
	return l, nil
}

// Patch applies a partial update. Routing follows task-wins semantics: a
// task assignment aligns the topic, and a topic change clears the task
// unless it still belongs to the new topic.
func (s *Service) Patch(ctx context.Context, id string, p *models.LogPatch) (*models.LogEntry, error) {
	l, err := s.store.GetLog(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Content != nil {
		l.Content = *p.Content
	}
	if p.Summary != nil {
		l.Summary = *p.Summary
	}
	if p.ClassificationStatus != nil {
		l.ClassificationStatus = *p.ClassificationStatus
	}
	if p.ClassificationAttempts != nil {
		l.ClassificationAttempts = *p.ClassificationAttempts
	}
	if p.ClassificationError != nil {
		l.ClassificationError = *p.ClassificationError
	}

	if err := s.applyRoutingPatch(ctx, l, p); err != nil {
		return nil, err
	}

	l.UpdatedAt = models.NowISO()
	if err := s.store.UpdateLog(ctx, l); err != nil {
		return nil, err
	}

	s.unsnoozeOnActivity(ctx, l.TopicID, l.TaskID)
	s.publishLog(events.EventTypeLogPatched, l)
	s.enqueueReindex(l)
	return l, nil
}

// Delete removes a log and its curated notes. Returns every removed id,
// root first.
func (s *Service) Delete(ctx context.Context, id string) ([]string, error) {
	ids, err := s.store.DeleteLogCascade(ctx, id)
	if err != nil {
		return nil, err
	}
	now := models.NowISO()
	for _, deleted := range ids {
		s.hub.Publish(events.EventTypeLogDeleted, map[string]string{"id": deleted}, now)
		if err := s.queue.EnqueueDelete(vector.KindLog, deleted); err != nil {
			s.logger.Warn("Failed to enqueue reindex delete", "log_id", deleted, "error", err)
		}
	}
	return ids, nil
}

// resolveRouting enforces task-implies-topic and drops dangling references.
func (s *Service) resolveRouting(ctx context.Context, topicID, taskID *string) (*string, *string, error) {
	if taskID != nil {
		task, err := s.store.GetTask(ctx, *taskID)
		if err == nil {
			// Task wins; align the topic.
			return task.TopicID, taskID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
		taskID = nil
	}
	if topicID != nil {
		if _, err := s.store.GetTopic(ctx, *topicID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, nil, err
			}
			topicID = nil
		}
	}
	return topicID, taskID, nil
}

func (s *Service) applyRoutingPatch(ctx context.Context, l *models.LogEntry, p *models.LogPatch) error {
	if p.TaskID != nil {
		newTask := *p.TaskID
		if newTask != nil {
			task, err := s.store.GetTask(ctx, *newTask)
			if err != nil {
				return err
			}
			l.TaskID = newTask
			l.TopicID = task.TopicID
			return nil
		}
		l.TaskID = nil
		// Fall through: an accompanying topic change still applies.
	}

	if p.TopicID != nil {
		newTopic := *p.TopicID
		if newTopic != nil {
			if _, err := s.store.GetTopic(ctx, *newTopic); err != nil {
				return err
			}
		}
		l.TopicID = newTopic

		// A topic move clears the task unless it survived the move.
		if l.TaskID != nil {
			keep := false
			if newTopic != nil {
				task, err := s.store.GetTask(ctx, *l.TaskID)
				if err == nil && task.TopicID != nil && *task.TopicID == *newTopic {
					keep = true
				} else if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			if !keep {
				l.TaskID = nil
			}
		}
	}
	return nil
}

// unsnoozeOnActivity clears snooze state on the rows a write touched.
// Best-effort: failures never fail the write.
func (s *Service) unsnoozeOnActivity(ctx context.Context, topicID, taskID *string) {
	now := models.NowISO()
	if topicID != nil {
		topic, err := s.store.GetTopic(ctx, *topicID)
		if err == nil && topic.SnoozedUntil != "" {
			if err := s.store.ClearTopicSnooze(ctx, *topicID, now); err != nil {
				s.logger.Warn("Failed to clear topic snooze", "topic_id", *topicID, "error", err)
			} else if refreshed, err := s.store.GetTopic(ctx, *topicID); err == nil {
				s.hub.Publish(events.EventTypeTopicUpserted, refreshed, refreshed.UpdatedAt)
			}
		}
	}
	if taskID != nil {
		task, err := s.store.GetTask(ctx, *taskID)
		if err == nil && task.SnoozedUntil != "" {
			if err := s.store.ClearTaskSnooze(ctx, *taskID, now); err != nil {
				s.logger.Warn("Failed to clear task snooze", "task_id", *taskID, "error", err)
			} else if refreshed, err := s.store.GetTask(ctx, *taskID); err == nil {
				s.hub.Publish(events.EventTypeTaskUpserted, refreshed, refreshed.UpdatedAt)
			}
		}
	}
}

// publishLog emits a log event without the heavy raw field.
func (s *Service) publishLog(eventType string, l *models.LogEntry) {
	slim := *l
	slim.Raw = ""
	s.hub.Publish(eventType, &slim, l.UpdatedAt)
}

// enqueueReindex records the vector intent for a log. Non-indexable entries
// get a delete so stale vectors cannot linger after type changes.
func (s *Service) enqueueReindex(l *models.LogEntry) {
	var err error
	if indexable(l) {
		text := l.Content
		if l.Summary != "" {
			text = l.Summary + " " + text
		}
		err = s.queue.EnqueueUpsert(vector.KindLog, l.ID, "", text)
	} else {
		err = s.queue.EnqueueDelete(vector.KindLog, l.ID)
	}
	if err != nil {
		s.logger.Warn("Failed to enqueue reindex op", "log_id", l.ID, "error", err)
	}
}

// resolveIdempotencyKey picks header, then payload, then a synthesized key
// for legacy producers that only send message identity.
func resolveIdempotencyKey(req models.AppendLogRequest, headerKey string) string {
	if headerKey != "" {
		return headerKey
	}
	if req.IdempotencyKey != "" {
		return req.IdempotencyKey
	}
	if req.Source != nil && req.Source.MessageID != "" {
		return fmt.Sprintf("%s:%s:%s:%s", req.Source.MessageID, req.Source.Channel, req.AgentID, req.Type)
	}
	return ""
}
