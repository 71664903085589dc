package repository

import (
	"context"
	"errors"

	"loanflow/pkg/models"
)

var (
	// ErrNotFound is returned when a record or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when inserting a duplicate key.
	ErrAlreadyExists = errors.New("already exists")
)

// ListFilter narrows a workflow listing. Zero values mean no filter.
type ListFilter struct {
	Status models.Status
	Limit  int
}

// WorkflowStore persists workflow records.
type WorkflowStore interface {
	// Create inserts a new record. It returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, rec *models.WorkflowRecord) error
	// CreateIfAbsent inserts rec unless a record with the same id exists.
	CreateIfAbsent(ctx context.Context, rec *models.WorkflowRecord) (bool, error)
	// Get retrieves a record by its id.
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	// List returns records, newest first.
	List(ctx context.Context, filter ListFilter) ([]*models.WorkflowRecord, error)
	// Transition atomically applies the state machine to a record and
	// persists the result.
	Transition(ctx context.Context, id string, to models.Status, step int) (*models.WorkflowRecord, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// StepLog is the append-only per-step status history.
type StepLog interface {
	// AppendStep inserts an entry and fills in its ID and LoggedAt.
	AppendStep(ctx context.Context, entry *models.StepLogEntry) error
	// ListSteps returns a workflow's entries ordered by step, then time.
	ListSteps(ctx context.Context, workflowID string) ([]*models.StepLogEntry, error)
}

// DocumentStore holds the raw intake documents.
type DocumentStore interface {
	// Put stores a document. It returns ErrAlreadyExists if the id or the
	// queue message id is already stored.
	Put(ctx context.Context, doc *models.IntakeDocument) error
	// Get retrieves a document by its id.
	Get(ctx context.Context, id string) (*models.IntakeDocument, error)
	// FindByMessageID retrieves the document stored for a queue message.
	FindByMessageID(ctx context.Context, messageID string) (*models.IntakeDocument, error)
}
