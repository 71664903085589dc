package models

import (
	"time"
)

// Status is the lifecycle state of a workflow record.
type Status string

const (
	StatusInitial    Status = "Initial"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Valid reports whether s is one of the known workflow statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitial, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Step log status labels written by the controller. The step log itself
// accepts any short label.
const (
	StepSuccessful = "Successful"
	StepFailed     = "Failed"
)

// WorkflowRecord is one row of the workflow table. Exactly one exists per
// ingested document and it shares the intake document's id.
type WorkflowRecord struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	CurrentStep int       `json:"current_step"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StepLogEntry is an append-only status event for one step of a workflow.
type StepLogEntry struct {
	ID         int64     `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Step       int       `json:"step"`
	Status     string    `json:"status"`
	Comment    string    `json:"comment"`
	LoggedAt   time.Time `json:"logged_at"`
}

// WorkflowDocument is the controller's input: the application payload and
// the ordered steps to run against it.
type WorkflowDocument struct {
	ID    string         `json:"id"`
	Data  map[string]any `json:"Data"`
	Steps []Step         `json:"Steps"`
}

// Step is one unit of work in a workflow document.
type Step struct {
	Index       int            `json:"index"`
	Instruction string         `json:"instruction"`
	Capability  string         `json:"capability"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
