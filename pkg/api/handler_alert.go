package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/homelab-ops/warden/pkg/pipeline"
)

// maxAlertsPerDelivery caps one webhook group. Alertmanager batches rarely
// exceed single digits; a larger group would flood the queue in one request.
const maxAlertsPerDelivery = 32

// postAlertHandler handles POST /alert: validate, normalise, enqueue,
// return. It never waits on a pipeline worker.
func (s *Server) postAlertHandler(c *echo.Context) error {
	var payload AlertmanagerPayload
	body := http.MaxBytesReader(c.Response(), c.Request().Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("payload exceeds %d bytes", tooLarge.Limit))
		}
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload: "+err.Error())
	}

	if len(payload.Alerts) > maxAlertsPerDelivery {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("delivery carries %d alerts, limit is %d", len(payload.Alerts), maxAlertsPerDelivery))
	}

	alerts, err := payload.Normalize()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	accepted := 0
	for _, alert := range alerts {
		switch err := s.intake.Submit(alert); {
		case errors.Is(err, pipeline.ErrQueueFull):
			s.logger.Warn("Queue full, rejecting webhook delivery",
				"accepted", accepted,
				"remaining", len(alerts)-accepted)
			return mapSubmitError(err)
		case err != nil:
			s.logger.Error("Failed to accept alert", "fingerprint", alert.Fingerprint, "error", err)
			return mapSubmitError(err)
		default:
			accepted++
		}
	}

	return c.JSON(http.StatusAccepted, &AcceptedResponse{Accepted: accepted})
}
