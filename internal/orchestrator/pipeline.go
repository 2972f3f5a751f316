// Package orchestrator drives the fixed multi-agent pipeline: delegate,
// process, optional research, reflect, conclude, review, optional refine,
// commit. It is the single writer of workflow state; every stage persists
// its step record before the pipeline advances.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/agents"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/repository"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/retry"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// State is a pipeline position. FAILED absorbs from any stage.
type State int

const (
	StateSubmitted State = iota
	StateDelegated
	StateProcessed
	StateResearched
	StateReflected
	StateConcluded
	StateReviewed
	StateRefined
	StateCommitted
	StateFailed
)

var stateNames = map[State]string{
	StateSubmitted:  "SUBMITTED",
	StateDelegated:  "DELEGATED",
	StateProcessed:  "PROCESSED",
	StateResearched: "RESEARCHED",
	StateReflected:  "REFLECTED",
	StateConcluded:  "CONCLUDED",
	StateReviewed:   "REVIEWED",
	StateRefined:    "REFINED",
	StateCommitted:  "COMMITTED",
	StateFailed:     "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultAgreementThreshold is the minimum reviewer score, combined with
// approval, for a conclusion to pass without refinement.
const DefaultAgreementThreshold = 80

// maxPersistedFieldLen bounds step input/output text before it is written.
const maxPersistedFieldLen = 10000

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Options tune pipeline policy. Zero values fall back to defaults.
type Options struct {
	// AgreementThreshold is the minimum reviewer score for agreement.
	AgreementThreshold int
	// MaxRefinementRounds bounds refinement passes after a failed review.
	// The refined output is not re-reviewed.
	MaxRefinementRounds int
	// ComplexActions lists the actions that get a research stage.
	ComplexActions []string
}

// Submission is one pipeline request.
type Submission struct {
	Action  string
	Text    string
	Context string
}

// Result summarizes a committed workflow for the submitter.
type Result struct {
	WorkflowID       string `json:"workflowId"`
	FinalOutput      string `json:"finalOutput"`
	Agreement        bool   `json:"agreement"`
	ValidationPassed bool   `json:"validationPassed"`
	StepsExecuted    int    `json:"stepsExecuted"`
}

// PipelineError reports a failed pipeline run with the stage it reached.
// WorkflowID is empty when nothing was persisted.
type PipelineError struct {
	WorkflowID string
	Action     string
	Stage      State
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s for action %q: %v", e.Stage, e.Action, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Orchestrator sequences agent calls for concurrent, isolated workflows.
type Orchestrator struct {
	store     repository.WorkflowStore
	delegator agents.Delegator
	processor agents.Processor
	reviewer  agents.Reviewer
	retry     *retry.Policy
	logger    Logger

	agreementThreshold  int
	maxRefinementRounds int
	complexActions      map[string]bool

	tokensUsed metric.Int64Counter
}

// New creates an Orchestrator.
func New(store repository.WorkflowStore, delegator agents.Delegator, processor agents.Processor,
	reviewer agents.Reviewer, retryPolicy *retry.Policy, logger Logger, opts Options) *Orchestrator {

	if opts.AgreementThreshold <= 0 {
		opts.AgreementThreshold = DefaultAgreementThreshold
	}
	if opts.MaxRefinementRounds <= 0 {
		opts.MaxRefinementRounds = 1
	}
	complex := make(map[string]bool, len(opts.ComplexActions))
	for _, action := range opts.ComplexActions {
		complex[action] = true
	}

	meter := otel.Meter("orchestrator")
	tokensUsed, err := meter.Int64Counter("workflow.tokens_used",
		metric.WithDescription("Tokens consumed by agent calls"))
	if err != nil {
		logger.Error("failed to create tokens counter: %v", err)
	}

	return &Orchestrator{
		store:               store,
		delegator:           delegator,
		processor:           processor,
		reviewer:            reviewer,
		retry:               retryPolicy,
		logger:              logger,
		agreementThreshold:  opts.AgreementThreshold,
		maxRefinementRounds: opts.MaxRefinementRounds,
		complexActions:      complex,
		tokensUsed:          tokensUsed,
	}
}

// run carries one workflow's transient pipeline context. Nothing here is
// shared across workflows.
type run struct {
	workflow *models.Workflow
	sub      Submission

	stepCount   int
	taskPlan    string
	result      string
	reflection  string
	conclusion  string
	review      agents.ReviewResult
	agreement   bool
	finalOutput string
}

// stageFn executes the work that moves a run out of one state and returns
// the next state.
type stageFn func(o *Orchestrator, ctx context.Context, r *run) (State, error)

// transitions is the pipeline's transition table, keyed by current state.
var transitions = map[State]stageFn{
	StateSubmitted:  (*Orchestrator).stageDelegate,
	StateDelegated:  (*Orchestrator).stageProcess,
	StateProcessed:  (*Orchestrator).stageResearch,
	StateResearched: (*Orchestrator).stageReflect,
	StateReflected:  (*Orchestrator).stageConclude,
	StateConcluded:  (*Orchestrator).stageReview,
	StateReviewed:   (*Orchestrator).stageRefine,
	StateRefined:    (*Orchestrator).stageCommit,
}

// Run executes the full pipeline for one submission. Stages run strictly
// sequentially; a stage only begins after the previous stage's step record
// is durably written. On failure the workflow is explicitly marked failed
// and a *PipelineError is returned.
func (o *Orchestrator) Run(ctx context.Context, sub Submission) (*Result, error) {
	workflow := &models.Workflow{
		ID:        uuid.New().String(),
		Action:    sub.Action,
		Status:    models.WorkflowStatusInProgress,
		InputText: sub.Text,
	}
	if sub.Context != "" {
		workflow.Context = &sub.Context
	}

	if err := o.store.CreateWorkflow(ctx, workflow); err != nil {
		return nil, &PipelineError{Action: sub.Action, Stage: StateSubmitted, Err: err}
	}

	r := &run{workflow: workflow, sub: sub}
	state := StateSubmitted

	o.logger.Info("workflow %s started, action=%s", workflow.ID, sub.Action)

	for state != StateCommitted {
		next, err := transitions[state](o, ctx, r)
		if err != nil {
			o.fail(ctx, workflow.ID)
			return nil, &PipelineError{WorkflowID: workflow.ID, Action: sub.Action, Stage: state, Err: err}
		}
		state = next
	}

	o.logger.Info("workflow %s committed, steps=%d agreement=%t", workflow.ID, r.stepCount, r.agreement)

	return &Result{
		WorkflowID:       workflow.ID,
		FinalOutput:      r.finalOutput,
		Agreement:        r.agreement,
		ValidationPassed: r.review.Approved,
		StepsExecuted:    r.stepCount,
	}, nil
}

// fail persists the failed status. A workflow that errors mid-pipeline must
// not linger as in_progress forever.
func (o *Orchestrator) fail(ctx context.Context, id string) {
	if err := o.store.FailWorkflow(ctx, id); err != nil {
		o.logger.Error("workflow %s: failed to persist failed status: %v", id, err)
	}
}

func (o *Orchestrator) stageDelegate(ctx context.Context, r *run) (State, error) {
	var plan string
	var usage models.Usage
	err := o.retry.Do(ctx, func() error {
		var callErr error
		plan, usage, callErr = o.delegator.Delegate(ctx, r.sub.Text, r.sub.Action, r.sub.Context)
		return callErr
	})
	if err != nil {
		return StateFailed, fmt.Errorf("delegate: %w", err)
	}
	r.taskPlan = plan

	if err := o.persistStep(ctx, r, models.AgentDelegator, models.StageDelegate, r.sub.Text, plan, usage); err != nil {
		return StateFailed, err
	}
	return StateDelegated, nil
}

func (o *Orchestrator) stageProcess(ctx context.Context, r *run) (State, error) {
	var result string
	var usage models.Usage
	err := o.retry.Do(ctx, func() error {
		var callErr error
		result, usage, callErr = o.processor.Process(ctx, r.sub.Text, r.sub.Action, r.taskPlan, r.sub.Context)
		return callErr
	})
	if err != nil {
		return StateFailed, fmt.Errorf("process: %w", err)
	}
	r.result = result

	if err := o.persistStep(ctx, r, models.AgentProcessor, models.StageProcess, r.taskPlan, result, usage); err != nil {
		return StateFailed, err
	}
	return StateProcessed, nil
}

// stageResearch runs only for actions on the complex allow-list. For every
// other action the stage is skipped outright: no step record, no extra
// state.
func (o *Orchestrator) stageResearch(ctx context.Context, r *run) (State, error) {
	if !o.complexActions[r.sub.Action] {
		return StateResearched, nil
	}

	var research string
	var usage models.Usage
	err := o.retry.Do(ctx, func() error {
		var callErr error
		research, usage, callErr = o.processor.Research(ctx, r.result, r.sub.Context)
		return callErr
	})
	if err != nil {
		return StateFailed, fmt.Errorf("research: %w", err)
	}

	if err := o.persistStep(ctx, r, models.AgentProcessor, models.StageResearch, r.result, research, usage); err != nil {
		return StateFailed, err
	}
	return StateResearched, nil
}

func (o *Orchestrator) stageReflect(ctx context.Context, r *run) (State, error) {
	var reflection string
	var usage models.Usage
	err := o.retry.Do(ctx, func() error {
		var callErr error
		reflection, usage, callErr = o.processor.Reflect(ctx, r.result)
		return callErr
	})
	if err != nil {
		return StateFailed, fmt.Errorf("reflect: %w", err)
	}
	r.reflection = reflection

	if err := o.persistStep(ctx, r, models.AgentProcessor, models.StageReflect, r.result, reflection, usage); err != nil {
		return StateFailed, err
	}
	return StateReflected, nil
}

func (o *Orchestrator) stageConclude(ctx context.Context, r *run) (State, error) {
	var conclusion string
	var usage models.Usage
	err := o.retry.Do(ctx, func() error {
		var callErr error
		conclusion, usage, callErr = o.processor.Conclude(ctx, r.reflection)
		return callErr
	})
	if err != nil {
		return StateFailed, fmt.Errorf("conclude: %w", err)
	}
	r.conclusion = conclusion

	if err := o.persistStep(ctx, r, models.AgentProcessor, models.StageConclude, r.reflection, conclusion, usage); err != nil {
		return StateFailed, err
	}
	return StateConcluded, nil
}

func (o *Orchestrator) stageReview(ctx context.Context, r *run) (State, error) {
	var review agents.ReviewResult
	var usage models.Usage
	err := o.retry.Do(ctx, func() error {
		var callErr error
		review, usage, callErr = o.reviewer.Review(ctx, r.conclusion, r.sub.Action, r.sub.Context, r.sub.Action)
		return callErr
	})
	if err != nil {
		return StateFailed, fmt.Errorf("review: %w", err)
	}
	r.review = review
	r.agreement = review.Approved && review.Score >= o.agreementThreshold

	verdict, err := json.Marshal(review)
	if err != nil {
		return StateFailed, fmt.Errorf("review: %w", err)
	}
	if err := o.persistStep(ctx, r, models.AgentReviewer, models.StageReview, r.conclusion, string(verdict), usage); err != nil {
		return StateFailed, err
	}
	return StateReviewed, nil
}

// stageRefine settles the final output. When the reviewer agreed, the
// reviewed content stands as-is. Otherwise the processor refines the
// conclusion up to maxRefinementRounds times; the refined output is never
// re-reviewed.
func (o *Orchestrator) stageRefine(ctx context.Context, r *run) (State, error) {
	if r.agreement {
		r.finalOutput = r.review.ReviewedContent
		return StateRefined, nil
	}

	content := r.conclusion
	for round := 0; round < o.maxRefinementRounds; round++ {
		var refined string
		var usage models.Usage
		err := o.retry.Do(ctx, func() error {
			var callErr error
			refined, usage, callErr = o.processor.Refine(ctx, content, r.review.Feedback)
			return callErr
		})
		if err != nil {
			return StateFailed, fmt.Errorf("refine: %w", err)
		}

		if err := o.persistStep(ctx, r, models.AgentProcessor, models.StageRefine, content, refined, usage); err != nil {
			return StateFailed, err
		}
		content = refined
	}
	r.finalOutput = content
	return StateRefined, nil
}

func (o *Orchestrator) stageCommit(ctx context.Context, r *run) (State, error) {
	err := o.store.CompleteWorkflow(ctx, r.workflow.ID, r.finalOutput, r.agreement, r.review.Approved)
	if err != nil {
		return StateFailed, fmt.Errorf("commit: %w", err)
	}
	return StateCommitted, nil
}

// persistStep appends the next step record. Step numbers are assigned here,
// monotonically per workflow; a stage must not advance on an unconfirmed
// write.
func (o *Orchestrator) persistStep(ctx context.Context, r *run, agent models.AgentRole,
	stage models.Stage, input, output string, usage models.Usage) error {

	r.stepCount++
	step := &models.WorkflowStep{
		ID:         uuid.New().String(),
		WorkflowID: r.workflow.ID,
		StepNumber: r.stepCount,
		Agent:      agent,
		Stage:      stage,
		Input:      truncate(input),
		Output:     truncate(output),
		TokensUsed: usage.TotalTokens,
	}
	if err := o.store.AppendStep(ctx, step); err != nil {
		return fmt.Errorf("persist step %d (%s): %w", step.StepNumber, stage, err)
	}

	if o.tokensUsed != nil {
		o.tokensUsed.Add(ctx, int64(usage.TotalTokens),
			metric.WithAttributes(attribute.String("agent", string(agent))))
	}
	return nil
}

func truncate(s string) string {
	if len(s) > maxPersistedFieldLen {
		return s[:maxPersistedFieldLen]
	}
	return s
}
