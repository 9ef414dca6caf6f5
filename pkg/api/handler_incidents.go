package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// listIncidentsHandler handles GET /incidents?limit=N&cursor=...
func (s *Server) listIncidentsHandler(c *echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	page, err := s.store.List(limit, c.QueryParam("cursor"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
	}

	return c.JSON(http.StatusOK, &IncidentListResponse{
		Items:      page.Items,
		NextCursor: page.NextCursor,
	})
}
