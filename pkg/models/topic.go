package models

// Topic is a durable workstream grouping log entries.
type Topic struct {
	ID              string      `json:"id"`
	SpaceID         string      `json:"spaceId"`
	Name            string      `json:"name"`
	CreatedBy       CreatedBy   `json:"createdBy"`
	SortIndex       int         `json:"sortIndex"`
	Color           string      `json:"color"`
	Description     string      `json:"description,omitempty"`
	Priority        Priority    `json:"priority"`
	Status          TopicStatus `json:"status"`
	SnoozedUntil    string      `json:"snoozedUntil,omitempty"`
	Tags            []string    `json:"tags"`
	ParentID        *string     `json:"parentId,omitempty"`
	Pinned          bool        `json:"pinned"`
	Digest          string      `json:"digest,omitempty"`
	DigestUpdatedAt string      `json:"digestUpdatedAt,omitempty"`
	CreatedAt       string      `json:"createdAt"`
	UpdatedAt       string      `json:"updatedAt"`
}

// Task is an optional sub-workstream of a topic. A task implies its topic:
// any log referencing the task must carry the task's TopicID.
type Task struct {
	ID           string     `json:"id"`
	SpaceID      string     `json:"spaceId"`
	TopicID      *string    `json:"topicId,omitempty"`
	Title        string     `json:"title"`
	CreatedBy    CreatedBy  `json:"createdBy"`
	SortIndex    int        `json:"sortIndex"`
	Status       TaskStatus `json:"status"`
	Priority     Priority   `json:"priority"`
	SnoozedUntil string     `json:"snoozedUntil,omitempty"`
	DueDate      string     `json:"dueDate,omitempty"`
	Tags         []string   `json:"tags"`
	Pinned       bool       `json:"pinned"`
	CreatedAt    string     `json:"createdAt"`
	UpdatedAt    string     `json:"updatedAt"`
}

// CreateTopicRequest is the payload for creating a topic.
type CreateTopicRequest struct {
	Name        string    `json:"name"`
	SpaceID     string    `json:"spaceId,omitempty"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	ParentID    *string   `json:"parentId,omitempty"`
	CreatedBy   CreatedBy `json:"createdBy,omitempty"`
}

// CreateTaskRequest is the payload for creating a task.
type CreateTaskRequest struct {
	Title     string     `json:"title"`
	TopicID   *string    `json:"topicId,omitempty"`
	SpaceID   string     `json:"spaceId,omitempty"`
	Status    TaskStatus `json:"status,omitempty"`
	Priority  Priority   `json:"priority,omitempty"`
	DueDate   string     `json:"dueDate,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	CreatedBy CreatedBy  `json:"createdBy,omitempty"`
}

// TopicPatch carries the mutable topic fields for PATCH requests. Nil fields
// are left untouched.
type TopicPatch struct {
	Name         *string      `json:"name,omitempty"`
	SpaceID      *string      `json:"spaceId,omitempty"`
	Description  *string      `json:"description,omitempty"`
	Color        *string      `json:"color,omitempty"`
	Priority     *Priority    `json:"priority,omitempty"`
	Status       *TopicStatus `json:"status,omitempty"`
	SnoozedUntil *string      `json:"snoozedUntil,omitempty"`
	Tags         *[]string    `json:"tags,omitempty"`
	ParentID     *string      `json:"parentId,omitempty"`
	Pinned       *bool        `json:"pinned,omitempty"`
	Digest       *string      `json:"digest,omitempty"`
}

// DigestOnly reports whether the patch touches nothing but the digest.
// Digest refreshes are system-managed and must not bump user-visible
// ordering, so UpdatedAt is left alone for them.
func (p *TopicPatch) DigestOnly() bool {
	return p.Digest != nil &&
		p.Name == nil && p.SpaceID == nil && p.Description == nil &&
		p.Color == nil && p.Priority == nil && p.Status == nil &&
		p.SnoozedUntil == nil && p.Tags == nil && p.ParentID == nil &&
		p.Pinned == nil
}

// TaskPatch carries the mutable task fields for PATCH requests.
type TaskPatch struct {
	Title        *string     `json:"title,omitempty"`
	TopicID      *string     `json:"topicId,omitempty"`
	Status       *TaskStatus `json:"status,omitempty"`
	Priority     *Priority   `json:"priority,omitempty"`
	SnoozedUntil *string     `json:"snoozedUntil,omitempty"`
	DueDate      *string     `json:"dueDate,omitempty"`
	Tags         *[]string   `json:"tags,omitempty"`
	Pinned       *bool       `json:"pinned,omitempty"`
}
