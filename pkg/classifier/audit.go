package classifier

import (
	"encoding/json"
	"os"
	"sync"
)

// gateAuditEntry is one creation-gate verdict, appended to a JSONL log so
// every created (or refused) topic and task is traceable.
type gateAuditEntry struct {
	TS         string `json:"ts"`
	SessionKey string `json:"sessionKey"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
	Source     string `json:"source"`
}

// GateAudit is the append-only creation-gate audit log.
type GateAudit struct {
	mu   sync.Mutex
	path string
}

// NewGateAudit opens the audit log at path. An empty path disables auditing.
func NewGateAudit(path string) *GateAudit {
	return &GateAudit{path: path}
}

// Append writes one entry. Failures are returned but callers treat the
// audit as best-effort.
func (a *GateAudit) Append(entry gateAuditEntry) error {
	if a.path == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(entry)
}
