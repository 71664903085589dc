// Package controller drives a workflow document through its steps: one
// capability call per step, strictly in order, a step log entry after every
// call and exactly one terminal status update.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"loanflow/internal/agents"
	"loanflow/internal/capability"
	"loanflow/internal/logging"
	"loanflow/pkg/models"
)

const instrumentationName = "loanflow/internal/controller"

var (
	// ErrMalformedDocument is returned for documents without an id or a
	// usable step list.
	ErrMalformedDocument = errors.New("malformed workflow document")
	// ErrStatusUpdate is returned when the workflow record could not be
	// updated.
	ErrStatusUpdate = errors.New("workflow status update failed")
)

// DocumentLoader loads a workflow document by workflow id.
type DocumentLoader interface {
	Load(ctx context.Context, id string) (models.WorkflowDocument, error)
}

// Controller runs workflow documents against an Invoker that provides both
// the step capabilities and the status logging capabilities.
type Controller struct {
	invoker         capability.Invoker
	logger          *logging.Logger
	stepTimeout     time.Duration
	approvalTimeout time.Duration
	markInProgress  bool
	concurrency     int

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	steps          metric.Int64Counter
	outcomes       metric.Int64Counter
}

// New creates a Controller.
func New(invoker capability.Invoker, opts ...Option) (*Controller, error) {
	if invoker == nil {
		return nil, errors.New("capability invoker is required")
	}
	c := &Controller{
		invoker:         invoker,
		logger:          logging.Nop(),
		stepTimeout:     DefaultStepTimeout,
		approvalTimeout: DefaultApprovalTimeout,
		markInProgress:  true,
		concurrency:     DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = otel.GetMeterProvider()
	}
	c.tracer = c.tracerProvider.Tracer(instrumentationName)
	meter := c.meterProvider.Meter(instrumentationName)

	var err error
	if c.steps, err = meter.Int64Counter("loanflow.workflow.steps",
		metric.WithDescription("Workflow steps executed, by outcome")); err != nil {
		return nil, err
	}
	if c.outcomes, err = meter.Int64Counter("loanflow.workflow.outcomes",
		metric.WithDescription("Workflows that reached a terminal status")); err != nil {
		return nil, err
	}

	for _, name := range []string{agents.LogStep, agents.UpdateWorkflowStatus} {
		if _, ok := invoker.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
		}
	}
	return c, nil
}

// RunWorkflow executes doc and returns the terminal status it recorded.
// Step failures are reported through the returned status, not the error;
// the error is non-nil only for malformed documents and status writes that
// could not be made.
func (c *Controller) RunWorkflow(ctx context.Context, doc models.WorkflowDocument) (models.Status, error) {
	ctx, span := c.tracer.Start(ctx, "workflow.run", trace.WithAttributes(attribute.String("workflow.id", doc.ID)))
	defer span.End()

	logger := c.logger.With("workflow_id", doc.ID)

	steps, err := orderSteps(doc)
	if err != nil {
		logger.Error("Rejecting malformed workflow document", "error", err)
		span.SetStatus(codes.Error, err.Error())
		if doc.ID == "" {
			return models.StatusFailed, err
		}
		if uerr := c.updateStatus(ctx, doc.ID, models.StatusFailed, 0); uerr != nil {
			return models.StatusFailed, errors.Join(err, uerr)
		}
		c.recordOutcome(ctx, models.StatusFailed)
		return models.StatusFailed, err
	}

	if len(steps) == 0 {
		logger.Info("Workflow has no steps")
		if err := c.updateStatus(ctx, doc.ID, models.StatusCompleted, 0); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return models.StatusCompleted, err
		}
		c.recordOutcome(ctx, models.StatusCompleted)
		return models.StatusCompleted, nil
	}

	if c.markInProgress {
		if err := c.updateStatus(ctx, doc.ID, models.StatusInProgress, steps[0].Index); err != nil {
			logger.Error("Workflow cannot start", "error", err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	appData, err := json.Marshal(doc.Data)
	if err != nil {
		appData = []byte("{}")
	}

	final := models.StatusCompleted
	reached := 0
	for _, step := range steps {
		reached = step.Index
		ok := c.runStep(ctx, logger, doc.ID, string(appData), step)
		if !ok {
			final = models.StatusFailed
			break
		}
	}

	if err := c.updateStatus(ctx, doc.ID, final, reached); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return final, err
	}
	c.recordOutcome(ctx, final)
	logger.Info("Workflow finished", "status", final, "current_step", reached)
	if final == models.StatusFailed {
		span.SetStatus(codes.Error, "workflow failed")
	}
	return final, nil
}

// runStep executes one step and writes its log entry. It reports whether
// the step succeeded, which requires both the call and the log write.
func (c *Controller) runStep(ctx context.Context, logger *logging.Logger, workflowID, appData string, step models.Step) bool {
	ctx, span := c.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.Int("step.index", step.Index),
	))
	defer span.End()

	logger = logger.With("step", step.Index)
	name := capabilityName(step, c.invoker)
	span.SetAttributes(attribute.String("step.capability", name))

	result, err := c.invoke(ctx, workflowID, appData, step, name)

	status := models.StepSuccessful
	var comment string
	if err != nil {
		status = models.StepFailed
		comment = fmt.Sprintf("Step %d (%s) failed: %v", step.Index, describe(step, name), err)
		logger.Error("Step failed", "capability", name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		comment = fmt.Sprintf("Step %d (%s) succeeded: %s", step.Index, describe(step, name), summarize(result))
		logger.Info("Step succeeded", "capability", name)
	}

	if lerr := c.logStep(ctx, workflowID, step.Index, status, comment); lerr != nil {
		logger.Error("Failed to log step", "error", lerr)
		span.SetStatus(codes.Error, lerr.Error())
		status = models.StepFailed
	}

	c.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", status)))
	return status == models.StepSuccessful
}

func (c *Controller) invoke(ctx context.Context, workflowID, appData string, step models.Step, name string) (res capability.Result, err error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no capability named for step %d", capability.ErrNotFound, step.Index)
	}
	if isBookkeeping(name) {
		return nil, fmt.Errorf("%w: %s is reserved for workflow bookkeeping", capability.ErrNotFound, name)
	}
	capDef, ok := c.invoker.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
	}

	timeout := c.stepTimeout
	if capDef.LongRunning {
		timeout = c.approvalTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("capability %s panicked: %v", name, p)
		}
	}()

	return c.invoker.Invoke(ctx, name, buildArgs(capDef, workflowID, appData, step))
}

// buildArgs uses the step's own parameters and fills in the application
// data where the capability declares it. The workflow id always comes from
// the document so a step can never address another workflow.
func buildArgs(c capability.Capability, workflowID, appData string, step models.Step) capability.Args {
	args := make(capability.Args, len(step.Parameters)+2)
	for k, v := range step.Parameters {
		args[k] = v
	}
	if _, ok := c.Param(agents.ParamApplicationData); ok {
		if _, set := args[agents.ParamApplicationData]; !set {
			args[agents.ParamApplicationData] = appData
		}
	}
	delete(args, agents.ParamWorkflowID)
	if _, ok := c.Param(agents.ParamWorkflowID); ok {
		args[agents.ParamWorkflowID] = workflowID
	}
	return args
}

// isBookkeeping reports whether name is one of the status capabilities only
// the controller itself may call.
func isBookkeeping(name string) bool {
	return name == agents.LogStep || name == agents.UpdateWorkflowStatus
}

func (c *Controller) logStep(ctx context.Context, workflowID string, step int, status, comment string) error {
	ctx, cancel := c.bookkeepingContext(ctx)
	defer cancel()
	_, err := c.safeInvoke(ctx, agents.LogStep, capability.Args{
		"step_status_comment": comment,
		"step":                step,
		agents.ParamWorkflowID: workflowID,
		"status":              status,
	})
	return err
}

func (c *Controller) updateStatus(ctx context.Context, workflowID string, status models.Status, step int) error {
	ctx, cancel := c.bookkeepingContext(ctx)
	defer cancel()
	_, err := c.safeInvoke(ctx, agents.UpdateWorkflowStatus, capability.Args{
		"current_step":         step,
		agents.ParamWorkflowID: workflowID,
		"status":               string(status),
	})
	if err != nil {
		c.logger.Error("Failed to update workflow status", "workflow_id", workflowID, "status", status, "step", step, "error", err)
		return fmt.Errorf("%w: %s -> %s at step %d: %v", ErrStatusUpdate, workflowID, status, step, err)
	}
	return nil
}

// bookkeepingContext keeps status writes alive when the caller's context
// has been cancelled, so a cancelled step is still recorded.
func (c *Controller) bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if c.stepTimeout > 0 {
		return context.WithTimeout(ctx, c.stepTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) safeInvoke(ctx context.Context, name string, args capability.Args) (res capability.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("capability %s panicked: %v", name, p)
		}
	}()
	return c.invoker.Invoke(ctx, name, args)
}

func (c *Controller) recordOutcome(ctx context.Context, status models.Status) {
	c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// RunMany loads and runs several workflows concurrently, each one strictly
// sequential. It returns the status reached by every workflow it ran and
// the errors of those that could not be loaded or recorded.
func (c *Controller) RunMany(ctx context.Context, loader DocumentLoader, ids []string) (map[string]models.Status, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]models.Status, len(ids))
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			status, err := c.LoadAndRun(ctx, loader, id)
			mu.Lock()
			defer mu.Unlock()
			if status != "" {
				results[id] = status
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("workflow %s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// LoadAndRun loads the document for id and runs it. A document that cannot
// be loaded fails the workflow at step 0.
func (c *Controller) LoadAndRun(ctx context.Context, loader DocumentLoader, id string) (models.Status, error) {
	doc, err := loader.Load(ctx, id)
	if err != nil {
		c.logger.Error("Failed to load workflow document", "workflow_id", id, "error", err)
		if errors.Is(err, ErrMalformedDocument) {
			if uerr := c.updateStatus(ctx, id, models.StatusFailed, 0); uerr != nil {
				return models.StatusFailed, errors.Join(err, uerr)
			}
			c.recordOutcome(ctx, models.StatusFailed)
			return models.StatusFailed, err
		}
		return "", err
	}
	return c.RunWorkflow(ctx, doc)
}

// orderSteps validates the step list and returns it sorted by index.
func orderSteps(doc models.WorkflowDocument) ([]models.Step, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedDocument)
	}
	if doc.Steps == nil {
		return nil, fmt.Errorf("%w: missing Steps", ErrMalformedDocument)
	}

	steps := slices.Clone(doc.Steps)
	slices.SortStableFunc(steps, func(a, b models.Step) int { return a.Index - b.Index })
	for i, s := range steps {
		if s.Index < 1 {
			return nil, fmt.Errorf("%w: step index %d must be positive", ErrMalformedDocument, s.Index)
		}
		if i > 0 && steps[i-1].Index == s.Index {
			return nil, fmt.Errorf("%w: duplicate step index %d", ErrMalformedDocument, s.Index)
		}
	}
	return steps, nil
}

// capabilityName resolves the capability a step names. A step without a
// capability field may use the bare capability name as its instruction.
func capabilityName(step models.Step, inv capability.Invoker) string {
	if step.Capability != "" {
		return step.Capability
	}
	candidate := strings.TrimSpace(step.Instruction)
	if _, ok := inv.Lookup(candidate); ok {
		return candidate
	}
	return ""
}

func describe(step models.Step, name string) string {
	switch {
	case step.Instruction != "" && step.Instruction != name && name != "":
		return fmt.Sprintf("%s via %s", step.Instruction, name)
	case name != "":
		return name
	case step.Instruction != "":
		return step.Instruction
	}
	return "unnamed step"
}

const maxSummary = 512

func summarize(res capability.Result) string {
	if len(res) == 0 {
		return "ok"
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "ok"
	}
	if len(b) > maxSummary {
		return string(b[:maxSummary]) + "..."
	}
	return string(b)
}
