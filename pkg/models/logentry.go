package models

// LogSource identifies where a log entry came from. Unknown keys in stored
// JSON are ignored for forward compatibility.
type LogSource struct {
	Channel    string `json:"channel,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	// RequestID ties the entry to a chat dispatch so the orchestration
	// runtime can track the run it belongs to.
	RequestID string `json:"requestId,omitempty"`
	// Explicit board routing attached by the producer, if any.
	BoardTopicID string `json:"boardTopicId,omitempty"`
	BoardTaskID  string `json:"boardTaskId,omitempty"`
}

// Attachment is metadata for a file attached to a log entry. Blob storage is
// outside this service; Path is relative to the configured attachments dir.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
	Path string `json:"path,omitempty"`
}

// LogEntry is the timeline atom.
//
// Invariants enforced by the ingest service:
//   - IdempotencyKey is unique when non-empty.
//   - type == note implies RelatedLogID != nil.
//   - TaskID set implies TopicID equals the task's topic.
type LogEntry struct {
	ID                     string               `json:"id"`
	SpaceID                string               `json:"spaceId"`
	TopicID                *string              `json:"topicId,omitempty"`
	TaskID                 *string              `json:"taskId,omitempty"`
	RelatedLogID           *string              `json:"relatedLogId,omitempty"`
	IdempotencyKey         string               `json:"idempotencyKey,omitempty"`
	Type                   LogType              `json:"type"`
	Content                string               `json:"content"`
	Summary                string               `json:"summary,omitempty"`
	Raw                    string               `json:"raw,omitempty"`
	ClassificationStatus   ClassificationStatus `json:"classificationStatus"`
	ClassificationAttempts int                  `json:"classificationAttempts"`
	ClassificationError    string               `json:"classificationError,omitempty"`
	AgentID                string               `json:"agentId,omitempty"`
	AgentLabel             string               `json:"agentLabel,omitempty"`
	Source                 *LogSource           `json:"source,omitempty"`
	Attachments            []Attachment         `json:"attachments,omitempty"`
	CreatedAt              string               `json:"createdAt"`
	UpdatedAt              string               `json:"updatedAt"`
	// Seq is the store's insertion order, used to break CreatedAt ties.
	Seq int64 `json:"-"`
}

// SessionKey returns the source session key, or "" when absent.
func (l *LogEntry) SessionKey() string {
	if l.Source == nil {
		return ""
	}
	return l.Source.SessionKey
}

// RequestID returns the source chat request id, or "" when absent.
func (l *LogEntry) RequestID() string {
	if l.Source == nil {
		return ""
	}
	return l.Source.RequestID
}

// AppendLogRequest is the ingest payload for a new log entry.
type AppendLogRequest struct {
	SpaceID        string       `json:"spaceId,omitempty"`
	TopicID        *string      `json:"topicId,omitempty"`
	TaskID         *string      `json:"taskId,omitempty"`
	RelatedLogID   *string      `json:"relatedLogId,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	Type           LogType      `json:"type"`
	Content        string       `json:"content"`
	Summary        string       `json:"summary,omitempty"`
	Raw            string       `json:"raw,omitempty"`
	AgentID        string       `json:"agentId,omitempty"`
	AgentLabel     string       `json:"agentLabel,omitempty"`
	Source         *LogSource   `json:"source,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      string       `json:"createdAt,omitempty"`
}

// LogPatch carries the mutable log fields for PATCH requests and classifier
// routing writes. Pointer-to-pointer routing fields distinguish "leave alone"
// (outer nil) from "clear" (inner nil).
type LogPatch struct {
	TopicID                **string              `json:"-"`
	TaskID                 **string              `json:"-"`
	Content                *string               `json:"content,omitempty"`
	Summary                *string               `json:"summary,omitempty"`
	ClassificationStatus   *ClassificationStatus `json:"classificationStatus,omitempty"`
	ClassificationAttempts *int                  `json:"classificationAttempts,omitempty"`
	ClassificationError    *string               `json:"classificationError,omitempty"`
}

// SetTopicID marks the patch to write the given topic id (nil clears).
func (p *LogPatch) SetTopicID(id *string) { p.TopicID = &id }

// SetTaskID marks the patch to write the given task id (nil clears).
func (p *LogPatch) SetTaskID(id *string) { p.TaskID = &id }
