package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/store"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation maps to 400", store.NewValidationError("name", "name is required"), http.StatusBadRequest},
		{"not found maps to 404", store.ErrNotFound, http.StatusNotFound},
		{"wrapped not found maps to 404", fmt.Errorf("get topic: %w", store.ErrNotFound), http.StatusNotFound},
		{"duplicate maps to 409", store.ErrDuplicateKey, http.StatusConflict},
		{"unknown maps to 500", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, mapServiceError(tt.err).Code)
		})
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	errorEnvelope(c, echo.NewHTTPError(http.StatusNotFound, "resource not found"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"resource not found"}`, rec.Body.String())
}

func TestErrorEnvelopeHidesInternals(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	errorEnvelope(c, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
	assert.JSONEq(t, `{"detail":"internal server error"}`, rec.Body.String())
}
