package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
)

func TestCreateSpace(t *testing.T) {
	ts := newTestServer()
	e := echo.New()

	rec := httptest.NewRecorder()
	req := jsonRequest(http.MethodPost, "/api/spaces", `{"id":"work","defaultVisible":true}`)
	require.NoError(t, ts.server.createSpaceHandler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	sp := ts.store.spaces["work"]
	require.NotNil(t, sp)
	// Name falls back to the id.
	assert.Equal(t, "work", sp.Name)

	replayed, _ := ts.hub.Replay(0)
	require.Len(t, replayed, 1)
	assert.Equal(t, events.EventTypeSpaceUpserted, replayed[0].Type)
}

func TestCreateSpaceDuplicateIs409(t *testing.T) {
	ts := newTestServer()
	ts.store.spaces["work"] = &models.Space{ID: "work"}
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/api/spaces", `{"id":"work"}`)
	err := ts.server.createSpaceHandler(e.NewContext(req, httptest.NewRecorder()))
	assert.Equal(t, http.StatusConflict, httpCode(t, err))
}

func TestSpaceConnectivityUnknownSpaceIs404(t *testing.T) {
	ts := newTestServer()

	req := jsonRequest(http.MethodPatch, "/api/spaces/ghost/connectivity", `{"connectivity":{"work":true}}`)
	req.RemoteAddr = "127.0.0.1:4321"
	rec := httptest.NewRecorder()
	ts.server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"detail"`)
}

func TestSpaceConnectivityUpdates(t *testing.T) {
	ts := newTestServer()
	ts.store.spaces["work"] = &models.Space{ID: "work", Name: "work", Connectivity: map[string]bool{}}

	req := jsonRequest(http.MethodPatch, "/api/spaces/work/connectivity", `{"connectivity":{"home":true}}`)
	req.RemoteAddr = "127.0.0.1:4321"
	rec := httptest.NewRecorder()
	ts.server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.store.spaces["work"].Connectivity["home"])
}

func TestAllowedSpaces(t *testing.T) {
	ts := newTestServer()
	ts.store.spaces["work"] = &models.Space{ID: "work", Connectivity: map[string]bool{"home": true, "ops": false}}
	e := echo.New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/spaces/allowed?spaceId=work", nil)
	require.NoError(t, ts.server.allowedSpacesHandler(e.NewContext(req, rec)))
	assert.Contains(t, rec.Body.String(), `"work"`)
	assert.Contains(t, rec.Body.String(), `"home"`)
	assert.NotContains(t, rec.Body.String(), `"ops"`)

	req = httptest.NewRequest(http.MethodGet, "/api/spaces/allowed", nil)
	err := ts.server.allowedSpacesHandler(e.NewContext(req, httptest.NewRecorder()))
	assert.Equal(t, http.StatusBadRequest, httpCode(t, err))
}
