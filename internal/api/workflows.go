package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"loanflow/internal/repository"
	"loanflow/internal/services"
	"loanflow/pkg/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// RunResponse is returned when a workflow run is requested.
type RunResponse struct {
	WorkflowID string        `json:"workflow_id"`
	Accepted   bool          `json:"accepted"`
	Status     models.Status `json:"status,omitempty"`
}

// ListWorkflows returns workflow records, newest first
// (GET /api/v1/workflows?status=&limit=)
func (s *Server) ListWorkflows(c echo.Context) error {
	filter := repository.ListFilter{Limit: defaultListLimit}

	if raw := c.QueryParam("status"); raw != "" {
		status, err := services.ParseStatus(raw)
		if err != nil {
			return err
		}
		filter.Status = status
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		}
		filter.Limit = n
	}

	records, err := s.workflows.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if records == nil {
		records = []*models.WorkflowRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

// GetWorkflow returns one workflow record
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	rec, err := s.workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// ListSteps returns a workflow's step log ordered by step, then time
// (GET /api/v1/workflows/:id/steps)
func (s *Server) ListSteps(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.workflows.Get(ctx, id); err != nil {
		return err
	}
	steps, err := s.workflows.Steps(ctx, id)
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []*models.StepLogEntry{}
	}
	return c.JSON(http.StatusOK, steps)
}

// RunWorkflow starts the controller for one workflow
// (POST /api/v1/workflows/:id/run?wait=true)
//
// Without wait the run continues in the background and 202 is returned. A
// workflow already running in this process yields 409.
func (s *Server) RunWorkflow(c echo.Context) error {
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "workflow runs are not enabled on this server")
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.workflows.Get(ctx, id); err != nil {
		return err
	}
	if !s.claim(id) {
		return echo.NewHTTPError(http.StatusConflict, "workflow "+id+" is already running")
	}

	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	if wait {
		defer s.release(id)
		status, err := s.runner.Run(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, RunResponse{WorkflowID: id, Accepted: true, Status: status})
	}

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		defer s.release(id)
		status, err := s.runner.Run(ctx, id)
		if err != nil {
			s.logger.Error("Background workflow run failed", "workflow_id", id, "error", err)
			return
		}
		s.logger.Info("Background workflow run finished", "workflow_id", id, "status", status)
	}(context.WithoutCancel(ctx))

	return c.JSON(http.StatusAccepted, RunResponse{WorkflowID: id, Accepted: true})
}

func (s *Server) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Server) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}
