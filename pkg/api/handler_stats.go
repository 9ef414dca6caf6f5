package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// statsHandler handles GET /stats with aggregates from vector memory.
func (s *Server) statsHandler(c *echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory is disabled")
	}

	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	stats, err := s.memory.Stats(reqCtx)
	if err != nil {
		s.logger.Error("Failed to collect stats", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory unavailable")
	}
	return c.JSON(http.StatusOK, newStatsResponse(stats))
}
