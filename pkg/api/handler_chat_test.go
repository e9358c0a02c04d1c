package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/models"
)

func TestChatPersistsBeforeDispatch(t *testing.T) {
	ts := newTestServer()
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/api/openclaw/chat",
		`{"requestId":"r-1","sessionKey":"channel:discord:ops","message":"deploy the fix"}`)
	rec := httptest.NewRecorder()

	require.NoError(t, ts.server.chatHandler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, ts.ingest.appended, 1)
	assert.Equal(t, models.LogTypeConversation, ts.ingest.appended[0].Type)
	assert.Equal(t, "openclaw-chat:r-1", ts.ingest.appended[0].IdempotencyKey)
	// The request id rides on the source so ingested follow-ups correlate
	// to the run.
	require.NotNil(t, ts.ingest.appended[0].Source)
	assert.Equal(t, "r-1", ts.ingest.appended[0].Source.RequestID)
	assert.Equal(t, []string{"r-1"}, ts.orch.started)
	require.Len(t, ts.gateway.dispatched, 1)
	assert.Equal(t, "deploy the fix", ts.gateway.dispatched[0].Message)
}

func TestChatFailsClosedWhenPersistFails(t *testing.T) {
	ts := newTestServer()
	ts.ingest.appendErr = errors.New("store down")
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/api/openclaw/chat",
		`{"requestId":"r-1","sessionKey":"s-1","message":"hi"}`)
	err := ts.server.chatHandler(e.NewContext(req, httptest.NewRecorder()))

	assert.Equal(t, http.StatusInternalServerError, httpCode(t, err))
	assert.Empty(t, ts.gateway.dispatched)
	assert.Empty(t, ts.orch.started)
}

func TestChatDispatchFailureWritesSystemLog(t *testing.T) {
	ts := newTestServer()
	ts.gateway.dispatchErr = errors.New("gateway unreachable")
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/api/openclaw/chat",
		`{"requestId":"r-1","sessionKey":"s-1","message":"hi"}`)
	err := ts.server.chatHandler(e.NewContext(req, httptest.NewRecorder()))

	assert.Equal(t, http.StatusBadGateway, httpCode(t, err))
	// The user log plus the system fault record.
	require.Len(t, ts.ingest.appended, 2)
	assert.Equal(t, models.LogTypeSystem, ts.ingest.appended[1].Type)
	assert.Contains(t, ts.ingest.appended[1].Content, "gateway unreachable")
}

func TestChatValidatesRequiredFields(t *testing.T) {
	ts := newTestServer()
	e := echo.New()

	for _, body := range []string{
		`{"sessionKey":"s","message":"m"}`,
		`{"requestId":"r","message":"m"}`,
		`{"requestId":"r","sessionKey":"s"}`,
	} {
		req := jsonRequest(http.MethodPost, "/api/openclaw/chat", body)
		err := ts.server.chatHandler(e.NewContext(req, httptest.NewRecorder()))
		assert.Equal(t, http.StatusBadRequest, httpCode(t, err))
	}
}

func TestChatCancelPropagates(t *testing.T) {
	ts := newTestServer()
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/api/openclaw/chat/cancel", `{"requestId":"r-1"}`)
	rec := httptest.NewRecorder()

	require.NoError(t, ts.server.chatCancelHandler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"r-1"}, ts.orch.cancelled)
	assert.Equal(t, []string{"r-1"}, ts.gateway.cancelled)
}
