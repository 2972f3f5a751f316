package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// Schema creates the tables the store needs. Invoked by the migrate command.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id UUID PRIMARY KEY,
	action TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress',
	input_text TEXT NOT NULL,
	context TEXT,
	final_output TEXT,
	agreement BOOLEAN,
	validation_passed BOOLEAN,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_steps (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id),
	step_number INT NOT NULL,
	agent TEXT NOT NULL,
	stage TEXT NOT NULL,
	input TEXT NOT NULL,
	output TEXT NOT NULL,
	tokens_used INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workflow_id, step_number)
);

CREATE INDEX IF NOT EXISTS idx_workflow_steps_workflow_id ON workflow_steps(workflow_id);
`

// CreateWorkflow inserts a new workflow in the in_progress state.
func (s *PostgresWorkflowStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflows (id, action, status, input_text, context)
		 VALUES ($1, $2, $3, $4, $5)`,
		workflow.ID, workflow.Action, models.WorkflowStatusInProgress, workflow.InputText, workflow.Context)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// AppendStep appends a step record and bumps the workflow's updated_at in
// the same transaction, so a step is never visible without the bump.
func (s *PostgresWorkflowStore) AppendStep(ctx context.Context, step *models.WorkflowStep) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO workflow_steps (id, workflow_id, step_number, agent, stage, input, output, tokens_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		step.ID, step.WorkflowID, step.StepNumber, step.Agent, step.Stage, step.Input, step.Output, step.TokensUsed)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.StepNumber, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE workflows SET updated_at = now() WHERE id = $1`, step.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to touch workflow: %w", err)
	}

	return tx.Commit(ctx)
}

// CompleteWorkflow writes the terminal completed state in a single UPDATE.
// Only an in_progress workflow can be completed; a second attempt returns
// ErrAlreadyCommitted.
func (s *PostgresWorkflowStore) CompleteWorkflow(ctx context.Context, id, finalOutput string, agreement, validationPassed bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows
		 SET status = $2, final_output = $3, agreement = $4, validation_passed = $5, updated_at = now()
		 WHERE id = $1 AND status = $6`,
		id, models.WorkflowStatusCompleted, finalOutput, agreement, validationPassed, models.WorkflowStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to complete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCommitted
	}
	return nil
}

// FailWorkflow marks an in_progress workflow failed.
func (s *PostgresWorkflowStore) FailWorkflow(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, models.WorkflowStatusFailed, models.WorkflowStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to mark workflow failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCommitted
	}
	return nil
}

// GetWorkflow retrieves a workflow by its ID.
func (s *PostgresWorkflowStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow
	err := s.db.QueryRow(ctx,
		`SELECT id, action, status, input_text, context, final_output, agreement, validation_passed, created_at, updated_at
		 FROM workflows WHERE id = $1`, id).
		Scan(&workflow.ID, &workflow.Action, &workflow.Status, &workflow.InputText, &workflow.Context,
			&workflow.FinalOutput, &workflow.Agreement, &workflow.ValidationPassed,
			&workflow.CreatedAt, &workflow.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &workflow, nil
}

// ListSteps returns a workflow's steps ordered by step number.
func (s *PostgresWorkflowStore) ListSteps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, workflow_id, step_number, agent, stage, input, output, tokens_used, created_at
		 FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_number ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		var step models.WorkflowStep
		err := rows.Scan(&step.ID, &step.WorkflowID, &step.StepNumber, &step.Agent, &step.Stage,
			&step.Input, &step.Output, &step.TokensUsed, &step.CreatedAt)
		if err != nil {
			return nil, err
		}
		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

// Ping reports store connectivity.
func (s *PostgresWorkflowStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
