package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loanflow/internal/workflow"
	"loanflow/pkg/models"
)

// SQLStore is a database/sql implementation of WorkflowStore and StepLog.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore creates a new SQLStore over an open pool.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	switch dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates the workflow and step log tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := append([]string{createWorkflowTableSQL}, createStepTableSQL(s.dialect)...)
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Create inserts a new workflow record.
func (s *SQLStore) Create(ctx context.Context, rec *models.WorkflowRecord) error {
	if rec.ID == "" {
		return errors.New("workflow id is required")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", workflow.ErrInvalidTransition, rec.Status)
	}

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := s.dialect.rebind(`INSERT INTO workflow (id, status, current_step, created_date, updated_date) VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, rec.ID, string(rec.Status), rec.CurrentStep, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workflow %s: %w", rec.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert workflow %s: %w", rec.ID, err)
	}
	return nil
}

// CreateIfAbsent inserts rec and reports whether it was created.
func (s *SQLStore) CreateIfAbsent(ctx context.Context, rec *models.WorkflowRecord) (bool, error) {
	err := s.Create(ctx, rec)
	if errors.Is(err, ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get retrieves a workflow record by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	query := s.dialect.rebind(`SELECT id, status, current_step, created_date, updated_date FROM workflow WHERE id = ?`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// List returns workflow records, newest first.
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]*models.WorkflowRecord, error) {
	query := `SELECT id, status, current_step, created_date, updated_date FROM workflow`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_date DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var records []*models.WorkflowRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Transition locks the record, applies the state machine and writes the
// new status and step.
func (s *SQLStore) Transition(ctx context.Context, id string, to models.Status, step int) (*models.WorkflowRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.dialect.rebind(`SELECT id, status, current_step, created_date, updated_date FROM workflow WHERE id = ?` + s.dialect.forUpdate())
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := workflow.Apply(rec, to, step); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now()

	update := s.dialect.rebind(`UPDATE workflow SET status = ?, current_step = ?, updated_date = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, string(rec.Status), rec.CurrentStep, rec.UpdatedAt, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to update workflow %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workflow %s: %w", id, err)
	}
	return rec, nil
}

// AppendStep inserts a step log entry.
func (s *SQLStore) AppendStep(ctx context.Context, entry *models.StepLogEntry) error {
	if entry.WorkflowID == "" {
		return errors.New("workflow id is required")
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = s.now()
	}

	args := []any{entry.Step, entry.WorkflowID, entry.Comment, entry.LoggedAt, entry.Status}
	if s.dialect == DialectPostgres {
		// PostgreSQL drivers do not support LastInsertId.
		query := `INSERT INTO workflow_step_status (step, workflow_id, status_comment, update_date_time, status) VALUES ($1, $2, $3, $4, $5) RETURNING id`
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&entry.ID); err != nil {
			return fmt.Errorf("failed to append step for %s: %w", entry.WorkflowID, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO workflow_step_status (step, workflow_id, status_comment, update_date_time, status) VALUES (?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("failed to append step for %s: %w", entry.WorkflowID, err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read step id: %w", err)
	}
	return nil
}

// ListSteps returns a workflow's step log ordered by step, then time.
func (s *SQLStore) ListSteps(ctx context.Context, workflowID string) ([]*models.StepLogEntry, error) {
	query := s.dialect.rebind(`SELECT id, step, workflow_id, status_comment, update_date_time, status FROM workflow_step_status WHERE workflow_id = ? ORDER BY step, update_date_time, id`)
	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var entries []*models.StepLogEntry
	for rows.Next() {
		var e models.StepLogEntry
		if err := rows.Scan(&e.ID, &e.Step, &e.WorkflowID, &e.Comment, &e.LoggedAt, &e.Status); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.WorkflowRecord, error) {
	var rec models.WorkflowRecord
	var status string
	if err := row.Scan(&rec.ID, &status, &rec.CurrentStep, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	return &rec, nil
}
