package models

// IngestEnvelope is a durable out-of-band ingest request. The worker drains
// pending envelopes into the ingest service; append idempotency makes the
// transition safe under multiple workers.
type IngestEnvelope struct {
	ID        int64            `json:"id"`
	Payload   AppendLogRequest `json:"payload"`
	Status    QueueStatus      `json:"status"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"lastError,omitempty"`
	CreatedAt string           `json:"createdAt"`
}

// RoutingDecision is one remembered classification outcome for a session.
type RoutingDecision struct {
	TS        string  `json:"ts"`
	TopicID   string  `json:"topicId"`
	TopicName string  `json:"topicName"`
	TaskID    *string `json:"taskId,omitempty"`
	TaskTitle string  `json:"taskTitle,omitempty"`
	Anchor    string  `json:"anchor"`
}

// SessionRoutingMemory is the bounded per-session list of recent routing
// decisions, newest last.
type SessionRoutingMemory struct {
	SessionKey string            `json:"sessionKey"`
	Decisions  []RoutingDecision `json:"decisions"`
	UpdatedAt  string            `json:"updatedAt"`
}

// Latest returns the newest decision, or nil when the memory is empty.
func (m *SessionRoutingMemory) Latest() *RoutingDecision {
	if len(m.Decisions) == 0 {
		return nil
	}
	return &m.Decisions[len(m.Decisions)-1]
}
