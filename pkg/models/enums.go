package models

// LogType categorizes a timeline entry.
type LogType string

// Log entry types.
const (
	LogTypeConversation LogType = "conversation"
	LogTypeAction       LogType = "action"
	LogTypeNote         LogType = "note"
	LogTypeSystem       LogType = "system"
	LogTypeImport       LogType = "import"
)

// Valid reports whether t is a known log type.
func (t LogType) Valid() bool {
	switch t {
	case LogTypeConversation, LogTypeAction, LogTypeNote, LogTypeSystem, LogTypeImport:
		return true
	}
	return false
}

// ClassificationStatus tracks a log entry through the classifier pipeline.
type ClassificationStatus string

// Classification statuses. A log never returns to pending except via
// administrative replay.
const (
	ClassificationPending    ClassificationStatus = "pending"
	ClassificationClassified ClassificationStatus = "classified"
	ClassificationFailed     ClassificationStatus = "failed"
)

// TopicStatus is the lifecycle state of a topic.
type TopicStatus string

// Topic statuses.
const (
	TopicActive   TopicStatus = "active"
	TopicSnoozed  TopicStatus = "snoozed"
	TopicArchived TopicStatus = "archived"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

// Task statuses.
const (
	TaskTodo    TaskStatus = "todo"
	TaskDoing   TaskStatus = "doing"
	TaskBlocked TaskStatus = "blocked"
	TaskDone    TaskStatus = "done"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskDoing, TaskBlocked, TaskDone:
		return true
	}
	return false
}

// Priority orders topics and tasks for display.
type Priority string

// Priorities.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// CreatedBy records which actor created a topic or task.
type CreatedBy string

// Creator kinds.
const (
	CreatedByUser       CreatedBy = "user"
	CreatedByClassifier CreatedBy = "classifier"
	CreatedByImport     CreatedBy = "import"
)

// QueueStatus is the state of an ingest queue envelope.
type QueueStatus string

// Ingest queue statuses.
const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueDone       QueueStatus = "done"
	QueueFailed     QueueStatus = "failed"
)

// RunItemStatus is the state of an orchestration run item.
type RunItemStatus string

// Orchestration item statuses.
const (
	RunItemRunning   RunItemStatus = "running"
	RunItemDone      RunItemStatus = "done"
	RunItemStalled   RunItemStatus = "stalled"
	RunItemCancelled RunItemStatus = "cancelled"
)

// Filter reason codes applied at ingest time (terminal classifications).
const (
	FilterCronEvent              = "filtered_cron_event"
	FilterControlPlane           = "filtered_control_plane"
	FilterSubagentScaffold       = "filtered_subagent_scaffold"
	FilterToolActivity           = "filtered_tool_activity"
	FilterUnanchoredToolActivity = "filtered_unanchored_tool_activity"
)
