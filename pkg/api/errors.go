package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/store"
)

// mapServiceError maps store and service errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrDuplicateKey) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// errorEnvelope renders every error as {"detail": <string|list>}.
func errorEnvelope(c *echo.Context, err error) {
	code := http.StatusInternalServerError
	detail := any("internal server error")

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if httpErr.Message != "" {
			detail = httpErr.Message
		} else {
			detail = http.StatusText(code)
		}
	}

	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}
	if jsonErr := c.JSON(code, map[string]any{"detail": detail}); jsonErr != nil {
		slog.Error("Failed to write error response", "error", jsonErr)
	}
}
