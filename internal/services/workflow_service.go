package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"loanflow/internal/logging"
	"loanflow/internal/repository"
	"loanflow/pkg/models"
)

// ErrUnknownStatus is returned for status labels that map to no workflow status.
var ErrUnknownStatus = errors.New("unknown workflow status")

// WorkflowService records workflow progress: the per-step log and the
// workflow record's status.
type WorkflowService struct {
	workflows repository.WorkflowStore
	steps     repository.StepLog
	logger    *logging.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(workflows repository.WorkflowStore, steps repository.StepLog, logger *logging.Logger) *WorkflowService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &WorkflowService{workflows: workflows, steps: steps, logger: logger}
}

// ParseStatus maps a status label to a workflow status. Matching ignores
// case; "Successful" is accepted as Completed.
func ParseStatus(label string) (models.Status, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "initial":
		return models.StatusInitial, nil
	case "inprogress", "in_progress", "in progress":
		return models.StatusInProgress, nil
	case "completed", "successful", "success":
		return models.StatusCompleted, nil
	case "failed", "failure":
		return models.StatusFailed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, label)
}

// Register creates the Initial record for a newly ingested document. It
// reports false if a record with that id already exists.
func (s *WorkflowService) Register(ctx context.Context, id string) (bool, error) {
	created, err := s.workflows.CreateIfAbsent(ctx, &models.WorkflowRecord{
		ID:          id,
		Status:      models.StatusInitial,
		CurrentStep: 1,
	})
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info("Workflow record created", "workflow_id", id, "status", models.StatusInitial)
	} else {
		s.logger.Info("Workflow record already present", "workflow_id", id)
	}
	return created, nil
}

// LogStep appends a status entry for one step of a workflow.
func (s *WorkflowService) LogStep(ctx context.Context, workflowID string, step int, status, comment string) (*models.StepLogEntry, error) {
	if workflowID == "" {
		return nil, errors.New("workflow id is required")
	}
	if step < 0 {
		return nil, fmt.Errorf("invalid step index %d", step)
	}
	if strings.TrimSpace(status) == "" {
		return nil, errors.New("step status is required")
	}

	entry := &models.StepLogEntry{
		WorkflowID: workflowID,
		Step:       step,
		Status:     status,
		Comment:    comment,
	}
	if err := s.steps.AppendStep(ctx, entry); err != nil {
		s.logger.Error("Failed to log step", "workflow_id", workflowID, "step", step, "error", err)
		return nil, err
	}
	s.logger.Info("Step logged", "workflow_id", workflowID, "step", step, "status", status)
	return entry, nil
}

// UpdateStatus moves a workflow record to the labelled status at step.
func (s *WorkflowService) UpdateStatus(ctx context.Context, workflowID, label string, step int) (*models.WorkflowRecord, error) {
	status, err := ParseStatus(label)
	if err != nil {
		return nil, err
	}
	rec, err := s.workflows.Transition(ctx, workflowID, status, step)
	if err != nil {
		s.logger.Error("Failed to update workflow status", "workflow_id", workflowID, "status", status, "step", step, "error", err)
		return nil, err
	}
	s.logger.Info("Workflow status updated", "workflow_id", workflowID, "status", rec.Status, "current_step", rec.CurrentStep)
	return rec, nil
}

// Get returns a workflow record.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	return s.workflows.Get(ctx, id)
}

// List returns workflow records, optionally filtered by status.
func (s *WorkflowService) List(ctx context.Context, filter repository.ListFilter) ([]*models.WorkflowRecord, error) {
	return s.workflows.List(ctx, filter)
}

// Steps returns a workflow's step log.
func (s *WorkflowService) Steps(ctx context.Context, workflowID string) ([]*models.StepLogEntry, error) {
	return s.steps.ListSteps(ctx, workflowID)
}
