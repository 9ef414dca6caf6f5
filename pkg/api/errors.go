package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/homelab-ops/warden/pkg/pipeline"
)

// mapSubmitError maps pipeline intake errors to HTTP error responses.
// Callers log with request context before mapping.
func mapSubmitError(err error) *echo.HTTPError {
	if errors.Is(err, pipeline.ErrQueueFull) {
		// 503 makes Alertmanager redeliver the group; alerts accepted
		// before the full queue will merge by fingerprint on retry.
		return echo.NewHTTPError(http.StatusServiceUnavailable, "incident queue full")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to accept alert")
}
