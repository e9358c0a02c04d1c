package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionValid(t *testing.T) {
	raw := `{"topic":{"id":"t-1","name":"Billing","create":false},
	         "task":{"id":"","title":"Fix webhook retries","create":true},
	         "summaries":[{"id":"l-1","summary":"User reports webhook retry storm"}]}`
	d, err := parseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, "t-1", d.Topic.ID)
	require.NotNil(t, d.Task)
	assert.True(t, d.Task.Create)
	assert.Equal(t, "User reports webhook retry storm", d.summaryFor("l-1"))
}

func TestParseDecisionNullTask(t *testing.T) {
	raw := `{"topic":{"id":"t-1","name":"Billing","create":false},"task":null,"summaries":[]}`
	d, err := parseDecision(raw)
	require.NoError(t, err)
	assert.Nil(t, d.Task)
}

func TestParseDecisionToleratesCodeFences(t *testing.T) {
	raw := "```json\n{\"topic\":{\"id\":\"t-1\",\"name\":\"Billing\",\"create\":false},\"task\":null,\"summaries\":[]}\n```"
	_, err := parseDecision(raw)
	assert.NoError(t, err)
}

func TestParseDecisionRejectsUnknownFields(t *testing.T) {
	raw := `{"topic":{"id":"t-1","name":"Billing","create":false},"task":null,"summaries":[],"confidence":0.9}`
	_, err := parseDecision(raw)
	assert.Error(t, err)
}

func TestParseDecisionRejectsEmptyTopic(t *testing.T) {
	raw := `{"topic":{"id":"","name":"","create":false},"task":null,"summaries":[]}`
	_, err := parseDecision(raw)
	assert.Error(t, err)
}

func TestParseDecisionRejectsCreateWithoutName(t *testing.T) {
	raw := `{"topic":{"id":"","name":"  ","create":true},"task":null,"summaries":[]}`
	_, err := parseDecision(raw)
	assert.Error(t, err)
}

func TestParseDecisionRejectsSummaryWithoutID(t *testing.T) {
	raw := `{"topic":{"id":"t-1","name":"Billing","create":false},"task":null,"summaries":[{"id":"","summary":"x"}]}`
	_, err := parseDecision(raw)
	assert.Error(t, err)
}

func TestClipSummaryBoundsLength(t *testing.T) {
	long := strings.Repeat("webhook retries are failing ", 5)
	clipped := clipSummary(long)
	assert.LessOrEqual(t, len([]rune(clipped)), maxSummaryLen)

	assert.Equal(t, "short", clipSummary("  short  "))
}
