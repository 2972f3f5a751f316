package orchestrator

import (
	"context"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/repository"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// WorkflowDetail is the read model for one workflow: the summary record,
// every step in execution order, and the token total recomputed from the
// steps (never persisted as an aggregate, so it cannot drift).
type WorkflowDetail struct {
	Workflow    *models.Workflow       `json:"workflow"`
	Steps       []*models.WorkflowStep `json:"steps"`
	TotalTokens int                    `json:"total_tokens"`
}

// QueryService is the read path over the workflow store. It never mutates
// state and tolerates workflows that are still in progress; steps are
// visible as soon as they are written.
type QueryService struct {
	store repository.WorkflowStore
}

// NewQueryService creates a new QueryService.
func NewQueryService(store repository.WorkflowStore) *QueryService {
	return &QueryService{store: store}
}

// Get returns a workflow with its ordered step history, or
// repository.ErrNotFound for an unknown id.
func (s *QueryService) Get(ctx context.Context, id string) (*WorkflowDetail, error) {
	workflow, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	steps, err := s.store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, step := range steps {
		total += step.TokensUsed
	}

	return &WorkflowDetail{
		Workflow:    workflow,
		Steps:       steps,
		TotalTokens: total,
	}, nil
}
