package models

// MainResponseItemKey is the item key for the primary chat response.
const MainResponseItemKey = "main.response"

// OrchestrationRun tracks one chat dispatch and the subagent work it spawned.
// The run is complete only when every item is done.
type OrchestrationRun struct {
	ID         string `json:"id"`
	RequestID  string `json:"requestId"`
	SessionKey string `json:"sessionKey"`
	Completed  bool   `json:"completed"`
	Cancelled  bool   `json:"cancelled"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

// OrchestrationItem is a unit of work within a run. ItemKey is stable
// ("main.response" or "subagent:<childSessionKey>"), so duplicate spawn
// events never create duplicate items.
type OrchestrationItem struct {
	ID             string            `json:"id"`
	RunID          string            `json:"runId"`
	ItemKey        string            `json:"itemKey"`
	Status         RunItemStatus     `json:"status"`
	Attempts       int               `json:"attempts"`
	NextCheckAt    string            `json:"nextCheckAt,omitempty"`
	LastActivityAt string            `json:"lastActivityAt,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	CreatedAt      string            `json:"createdAt"`
	UpdatedAt      string            `json:"updatedAt"`
}

// SubagentItemKey builds the stable item key for a spawned subagent session.
func SubagentItemKey(childSessionKey string) string {
	return "subagent:" + childSessionKey
}
