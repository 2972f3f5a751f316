package repository

import (
	"context"
	"errors"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// ErrNotFound is returned when a workflow id is unknown.
var ErrNotFound = errors.New("workflow not found")

// ErrAlreadyCommitted is returned when a terminal write targets a workflow
// that already left the in_progress state.
var ErrAlreadyCommitted = errors.New("workflow already committed")

// WorkflowStore is the durable log of workflow runs and their steps. Steps
// are append-only; the summary record is mutated only by the terminal
// writes (Complete, Fail) and the updated_at bump on each step.
type WorkflowStore interface {
	// CreateWorkflow inserts a new workflow in the in_progress state.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	// AppendStep appends a step record and advances the owning workflow's
	// updated_at in the same transaction.
	AppendStep(ctx context.Context, step *models.WorkflowStep) error
	// CompleteWorkflow atomically writes the terminal completed state.
	CompleteWorkflow(ctx context.Context, id, finalOutput string, agreement, validationPassed bool) error
	// FailWorkflow marks a workflow failed.
	FailWorkflow(ctx context.Context, id string) error
	// GetWorkflow retrieves a workflow by its ID.
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// ListSteps returns a workflow's steps ordered by step number.
	ListSteps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error)
	// Ping reports store connectivity.
	Ping(ctx context.Context) error
}
