package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/admission"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/agents"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/logging"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/orchestrator"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/repository"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/retry"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// fakeStore is an in-memory WorkflowStore for handler tests.
type fakeStore struct {
	mu        sync.Mutex
	workflows map[string]*models.Workflow
	steps     map[string][]*models.WorkflowStep
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: make(map[string]*models.Workflow),
		steps:     make(map[string][]*models.WorkflowStep),
	}
}

func (f *fakeStore) CreateWorkflow(_ context.Context, workflow *models.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *workflow
	f.workflows[workflow.ID] = &cp
	return nil
}

func (f *fakeStore) AppendStep(_ context.Context, step *models.WorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *step
	f.steps[step.WorkflowID] = append(f.steps[step.WorkflowID], &cp)
	return nil
}

func (f *fakeStore) CompleteWorkflow(_ context.Context, id, finalOutput string, agreement, validationPassed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	workflow := f.workflows[id]
	workflow.Status = models.WorkflowStatusCompleted
	workflow.FinalOutput = &finalOutput
	workflow.Agreement = &agreement
	workflow.ValidationPassed = &validationPassed
	return nil
}

func (f *fakeStore) FailWorkflow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[id].Status = models.WorkflowStatusFailed
	return nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	workflow, ok := f.workflows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *workflow
	return &cp, nil
}

func (f *fakeStore) ListSteps(_ context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.WorkflowStep(nil), f.steps[workflowID]...), nil
}

func (f *fakeStore) Ping(_ context.Context) error { return f.pingErr }

type fixedAgent struct {
	err error
}

func (a fixedAgent) Delegate(_ context.Context, _, _, _ string) (string, models.Usage, error) {
	return "plan", models.Usage{TotalTokens: 5}, nil
}

func (a fixedAgent) Process(_ context.Context, _, _, _, _ string) (string, models.Usage, error) {
	if a.err != nil {
		return "", models.Usage{}, a.err
	}
	return "result", models.Usage{TotalTokens: 5}, nil
}

func (a fixedAgent) Research(_ context.Context, _, _ string) (string, models.Usage, error) {
	return "research", models.Usage{TotalTokens: 5}, nil
}

func (a fixedAgent) Reflect(_ context.Context, _ string) (string, models.Usage, error) {
	return "reflection", models.Usage{TotalTokens: 5}, nil
}

func (a fixedAgent) Conclude(_ context.Context, _ string) (string, models.Usage, error) {
	return "conclusion", models.Usage{TotalTokens: 5}, nil
}

func (a fixedAgent) Refine(_ context.Context, _, _ string) (string, models.Usage, error) {
	return "refined", models.Usage{TotalTokens: 5}, nil
}

func (a fixedAgent) Review(_ context.Context, _, _, _, _ string) (agents.ReviewResult, models.Usage, error) {
	return agents.ReviewResult{Approved: true, ReviewedContent: "reviewed", Score: 95},
		models.Usage{TotalTokens: 5}, nil
}

func newTestHandler(store *fakeStore, agent fixedAgent, gateLimit int) (*Handler, *echo.Echo) {
	logger := logging.NewLogger()
	policy := retry.NewPolicy(3, time.Millisecond, logger)
	o := orchestrator.New(store, agent, agent, agent, policy, logger, orchestrator.Options{})
	h := NewHandler(o, orchestrator.NewQueryService(store), admission.NewGate(10*time.Second, gateLimit), store, logger)
	e := echo.New()
	RegisterRoutes(e, h)
	return h, e
}

func submit(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/workflow", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSubmitWorkflow(t *testing.T) {
	_, e := newTestHandler(newFakeStore(), fixedAgent{}, 5)

	rec := submit(e, `{"action": "SUMMARIZE", "text": "some text"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.WorkflowID)
	assert.Equal(t, "reviewed", result.FinalOutput)
	assert.True(t, result.Agreement)
	assert.True(t, result.ValidationPassed)
	assert.Equal(t, 5, result.StepsExecuted)
}

func TestSubmitWorkflowValidation(t *testing.T) {
	_, e := newTestHandler(newFakeStore(), fixedAgent{}, 5)

	rec := submit(e, `{"action": "", "text": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitWorkflowRateLimited(t *testing.T) {
	h, e := newTestHandler(newFakeStore(), fixedAgent{}, 1)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return base }

	rec := submit(e, `{"action": "SUMMARIZE", "text": "t"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = submit(e, `{"action": "SUMMARIZE", "text": "t"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
}

func TestSubmitWorkflowFailureEnvelope(t *testing.T) {
	store := newFakeStore()
	_, e := newTestHandler(store, fixedAgent{err: errors.New("upstream exploded with secrets")}, 5)

	rec := submit(e, `{"action": "SUMMARIZE", "text": "t"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var failure struct {
		Error      string `json:"error"`
		Stage      string `json:"stage"`
		WorkflowID string `json:"workflow_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	assert.Equal(t, "workflow failed", failure.Error)
	assert.Equal(t, "DELEGATED", failure.Stage)
	assert.NotEmpty(t, failure.WorkflowID)
	// Internal error detail is logged, never echoed.
	assert.NotContains(t, rec.Body.String(), "secrets")

	// The failed run is retrievable for debugging.
	req := httptest.NewRequest(http.MethodGet, "/workflow/"+failure.WorkflowID, nil)
	getRec := httptest.NewRecorder()
	e.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), `"failed"`)
}

func TestGetWorkflowNotFound(t *testing.T) {
	_, e := newTestHandler(newFakeStore(), fixedAgent{}, 5)

	req := httptest.NewRequest(http.MethodGet, "/workflow/unknown-id", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWorkflowReturnsSteps(t *testing.T) {
	store := newFakeStore()
	_, e := newTestHandler(store, fixedAgent{}, 5)

	rec := submit(e, `{"action": "SUMMARIZE", "text": "some text"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	req := httptest.NewRequest(http.MethodGet, "/workflow/"+result.WorkflowID, nil)
	getRec := httptest.NewRecorder()
	e.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)

	var detail orchestrator.WorkflowDetail
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &detail))
	assert.Len(t, detail.Steps, 5)
	assert.Equal(t, 25, detail.TotalTokens)
}

func TestHandleHealth(t *testing.T) {
	store := newFakeStore()
	_, e := newTestHandler(store, fixedAgent{}, 5)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connected"`)

	store.pingErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disconnected"`)
}
