// Package api contains the HTTP handlers for the loanflow ops API
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"loanflow/internal/controller"
	"loanflow/internal/logging"
	"loanflow/internal/repository"
	"loanflow/internal/services"
	"loanflow/internal/workflow"
	"loanflow/pkg/models"
)

const (
	serviceName = "loanflow"
	pingTimeout = 3 * time.Second
)

// WorkflowReader reads workflow records and their step logs.
type WorkflowReader interface {
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*models.WorkflowRecord, error)
	Steps(ctx context.Context, workflowID string) ([]*models.StepLogEntry, error)
}

// Runner runs the workflow stored under id to completion.
type Runner interface {
	Run(ctx context.Context, id string) (models.Status, error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, id string) (models.Status, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, id string) (models.Status, error) {
	return f(ctx, id)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the API server.
type Server struct {
	workflows WorkflowReader
	runner    Runner
	checks    map[string]Pinger
	logger    *logging.Logger
	version   string

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewServer creates a new Server. runner may be nil, in which case workflows
// cannot be started over HTTP.
func NewServer(workflows WorkflowReader, runner Runner, checks map[string]Pinger, logger *logging.Logger, version string) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		workflows: workflows,
		runner:    runner,
		checks:    checks,
		logger:    logger,
		version:   version,
		running:   make(map[string]struct{}),
	}
}

// Wait blocks until workflows started in the background have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   s.version,
	})
}

// HandleReady pings every dependency and returns 503 if any is down.
func (s *Server) HandleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   s.version,
		Checks:    make(map[string]string, len(names)),
	}
	code := http.StatusOK
	for _, name := range names {
		if err := s.checks[name].Ping(ctx); err != nil {
			s.logger.Warn("Readiness check failed", "dependency", name, "error", err)
			status.Checks[name] = err.Error()
			status.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	return c.JSON(code, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// handleError writes every handler error as RFC 7807 problem details.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, detail := s.classify(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}

	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(code),
		Status:   code,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, problem)
	}
	if err != nil {
		s.logger.Error("Failed to write error response", "error", err)
	}
}

func (s *Server) classify(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrUnknownStatus), errors.Is(err, workflow.ErrInvalidStep):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, controller.ErrMalformedDocument):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, controller.ErrStatusUpdate), errors.Is(err, workflow.ErrTerminal),
		errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrStepRegression):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}
