package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/store"
)

// SpawnTool is the tool-result action name that opens a subagent session.
const SpawnTool = "sessions_spawn"

// spawnPayload is the tool-result body of a sessions_spawn action. The
// child key lives either at the top level or under result, depending on
// the producer.
type spawnPayload struct {
	Tool            string `json:"tool"`
	ChildSessionKey string `json:"childSessionKey"`
	Result          struct {
		SessionKey string `json:"sessionKey"`
	} `json:"result"`
}

// ObserveLog correlates one ingested log with its run. sessions_spawn tool
// results derive subagent items; assistant turns complete the item for
// their session; everything else refreshes activity. Logs without a
// requestId, or for sessions the run never spawned, are ignored.
func (s *Service) ObserveLog(ctx context.Context, l *models.LogEntry) error {
	requestID := l.RequestID()
	if requestID == "" {
		return nil
	}
	run, err := s.store.GetRunByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if run.Cancelled || run.Completed {
		return nil
	}

	if l.Type == models.LogTypeAction {
		if child := spawnChildSession(l); child != "" {
			return s.RecordSpawn(ctx, requestID, child)
		}
	}

	itemKey := models.MainResponseItemKey
	if sk := l.SessionKey(); sk != "" && sk != run.SessionKey {
		itemKey = models.SubagentItemKey(sk)
	}

	if l.Type == models.LogTypeConversation && l.AgentID != "" {
		err = s.CompleteItem(ctx, requestID, itemKey)
	} else {
		err = s.RecordActivity(ctx, requestID, itemKey)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// spawnChildSession extracts the child session key from a sessions_spawn
// tool result, trying the raw payload before the rendered content.
func spawnChildSession(l *models.LogEntry) string {
	for _, raw := range []string{l.Raw, l.Content} {
		if raw == "" || !strings.Contains(raw, SpawnTool) {
			continue
		}
		var p spawnPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Tool != SpawnTool {
			continue
		}
		if p.ChildSessionKey != "" {
			return p.ChildSessionKey
		}
		if p.Result.SessionKey != "" {
			return p.Result.SessionKey
		}
	}
	return ""
}
