// Package events provides the in-process ordered publish/replay bus that
// keeps live UI views consistent through reconnects.
//
// Every published event gets a strictly monotonic eventId (starting at 1).
// A bounded ring retains the most recent events for replay; each subscriber
// owns a bounded queue where the oldest entry is dropped on overflow so a
// slow consumer never blocks a publisher.
package events

// Event types published by the service.
const (
	EventTypeLogAppended   = "log.appended"
	EventTypeLogPatched    = "log.patched"
	EventTypeLogDeleted    = "log.deleted"
	EventTypeTopicUpserted = "topic.upserted"
	EventTypeTopicDeleted  = "topic.deleted"
	EventTypeTaskUpserted  = "task.upserted"
	EventTypeTaskDeleted   = "task.deleted"
	EventTypeSpaceUpserted = "space.upserted"
	EventTypeConfigUpdated = "config.updated"

	// EventTypeStreamReset tells a client its replay cursor is older than
	// the retained window; it must re-reconcile via the change endpoint.
	EventTypeStreamReset = "stream.reset"
)

// Event is one bus entry. EventTS mirrors the affected row's updatedAt when
// applicable so clients can seed change cursors from the stream.
type Event struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	EventID int64  `json:"eventId,omitempty"`
	EventTS string `json:"eventTs,omitempty"`
}

// StreamReset is the sentinel event emitted instead of individual replays
// when the caller's cursor fell off the ring. It carries no eventId.
func StreamReset() Event {
	return Event{Type: EventTypeStreamReset}
}
