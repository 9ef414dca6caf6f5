package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/homelab-ops/warden/pkg/version"
)

// healthHandler handles GET /health. Memory backend trouble degrades the
// report but never fails it: incidents keep processing without memory, and
// an orchestrator should not restart the service over a dead database.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	memoryBlock := MemoryHealth{Status: healthStatusDisabled}
	chatBlock := ChatHealth{Status: healthStatusDisabled}
	if s.chat != nil && s.chat.Enabled() {
		chatBlock.Status = healthStatusHealthy
	}

	if s.memory != nil {
		switch err := s.memory.Health(reqCtx); {
		case err != nil:
			status = healthStatusDegraded
			memoryBlock = MemoryHealth{Status: healthStatusDegraded, Error: err.Error()}
		default:
			count, err := s.memory.Count(reqCtx)
			if err != nil {
				status = healthStatusDegraded
				memoryBlock = MemoryHealth{Status: healthStatusDegraded, Error: err.Error()}
			} else {
				memoryBlock = MemoryHealth{Status: healthStatusHealthy, Count: count}
			}
		}
	}

	resp := &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Memory:  memoryBlock,
		Chat:    chatBlock,
		Pipeline: PipelineHealth{
			InFlight:   s.intake.InFlight(),
			QueueDepth: s.intake.QueueDepth(),
		},
	}
	if s.scheduler != nil {
		resp.Scheduler = &SchedulerHealth{Jobs: s.scheduler.Jobs()}
	}
	return c.JSON(http.StatusOK, resp)
}
