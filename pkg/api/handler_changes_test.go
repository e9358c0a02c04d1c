package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/models"
)

func TestChangesRequiresSince(t *testing.T) {
	ts := newTestServer()
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/changes", nil)
	err := ts.server.changesHandler(e.NewContext(req, httptest.NewRecorder()))
	assert.Equal(t, http.StatusBadRequest, httpCode(t, err))

	req = httptest.NewRequest(http.MethodGet, "/api/changes?since=not-a-time", nil)
	err = ts.server.changesHandler(e.NewContext(req, httptest.NewRecorder()))
	assert.Equal(t, http.StatusBadRequest, httpCode(t, err))
}

func TestChangesCapsLimitLogs(t *testing.T) {
	ts := newTestServer()
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/changes?since=2026-08-24T00:00:00.000Z&limitLogs=9999", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, ts.server.changesHandler(e.NewContext(req, rec)))
	assert.Equal(t, maxChangeLogLimit, ts.store.lastLogFilter.Limit)
}

func TestChangesReturnsCursorAndStripsRaw(t *testing.T) {
	ts := newTestServer()
	ts.store.logs = []*models.LogEntry{{ID: "l1", Raw: "hidden"}}
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/changes?since=2026-08-24T00:00:00.000Z", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, ts.server.changesHandler(e.NewContext(req, rec)))

	var resp ChangesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Now)
	require.Len(t, resp.Logs, 1)
	assert.Empty(t, resp.Logs[0].Raw)
	assert.NotNil(t, resp.Topics)
	assert.NotNil(t, resp.Tasks)
}
