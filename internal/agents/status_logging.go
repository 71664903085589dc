package agents

import (
	"context"
	"fmt"

	"loanflow/internal/capability"
	"loanflow/internal/logging"
	"loanflow/pkg/models"
)

// StatusRecorder persists step log entries and workflow status changes.
type StatusRecorder interface {
	LogStep(ctx context.Context, workflowID string, step int, status, comment string) (*models.StepLogEntry, error)
	UpdateStatus(ctx context.Context, workflowID, status string, step int) (*models.WorkflowRecord, error)
}

// StatusLogging returns the registry of the status logging agent.
func StatusLogging(recorder StatusRecorder, logger *logging.Logger) (*capability.Registry, error) {
	if recorder == nil {
		return nil, fmt.Errorf("status recorder is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	workflowID := capability.Param{Name: ParamWorkflowID, Type: capability.TypeString, Description: "The workflow id", Required: true}

	r := capability.NewRegistry()
	caps := []capability.Capability{
		{
			Name:        LogStep,
			Description: "Logs the status of a workflow step.",
			Params: []capability.Param{
				{Name: "step_status_comment", Type: capability.TypeString, Description: "Human readable outcome of the step", Required: true},
				{Name: "step", Type: capability.TypeInteger, Description: "The step index", Required: true},
				workflowID,
				{Name: "status", Type: capability.TypeString, Description: "Step status such as Successful or Failed", Required: true},
			},
			Handler: func(ctx context.Context, args capability.Args) (capability.Result, error) {
				id, _ := args.String(ParamWorkflowID)
				comment, _ := args.String("step_status_comment")
				status, _ := args.String("status")
				step, err := args.Int("step")
				if err != nil {
					return nil, err
				}

				logger.Debug("Logging step", "workflow_id", id, "step", step, "status", status)
				entry, err := recorder.LogStep(ctx, id, step, status, comment)
				if err != nil {
					return nil, fmt.Errorf("log step %d of %s: %w", step, id, err)
				}
				return capability.Result{"id": entry.ID, "workflow_id": id, "step": step, "status": status}, nil
			},
		},
		{
			Name:        UpdateWorkflowStatus,
			Description: "Updates the workflow status and current step.",
			Params: []capability.Param{
				{Name: "current_step", Type: capability.TypeInteger, Description: "The step the workflow reached", Required: true},
				workflowID,
				{Name: "status", Type: capability.TypeString, Description: "Initial, InProgress, Completed or Failed", Required: true},
			},
			Handler: func(ctx context.Context, args capability.Args) (capability.Result, error) {
				id, _ := args.String(ParamWorkflowID)
				status, _ := args.String("status")
				step, err := args.Int("current_step")
				if err != nil {
					return nil, err
				}

				rec, err := recorder.UpdateStatus(ctx, id, status, step)
				if err != nil {
					return nil, fmt.Errorf("update workflow %s: %w", id, err)
				}
				return capability.Result{"workflow_id": rec.ID, "status": string(rec.Status), "current_step": rec.CurrentStep}, nil
			},
		},
	}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
