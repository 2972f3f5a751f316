// Package api contains the HTTP handlers for the workflow orchestrator.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/admission"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/orchestrator"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/repository"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Handler holds the dependencies for the API server.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	query        *orchestrator.QueryService
	gate         *admission.Gate
	store        repository.WorkflowStore
	logger       Logger
	now          func() time.Time
}

// NewHandler creates a new Handler with required dependencies.
func NewHandler(o *orchestrator.Orchestrator, q *orchestrator.QueryService,
	gate *admission.Gate, store repository.WorkflowStore, logger Logger) *Handler {
	return &Handler{
		orchestrator: o,
		query:        q,
		gate:         gate,
		store:        store,
		logger:       logger,
		now:          time.Now,
	}
}

// RegisterRoutes mounts the API routes on an Echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.POST("/workflow", h.SubmitWorkflow)
	e.GET("/workflow/:id", h.GetWorkflow)
	e.GET("/health", h.HandleHealth)
}

// SubmitRequest is the body of POST /workflow.
type SubmitRequest struct {
	Action  string `json:"action"`
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// submitFailure is the error envelope for a failed pipeline run. WorkflowID
// is present when steps were persisted before the failure, so the query API
// can retrieve the failed run for debugging.
type submitFailure struct {
	Error      string `json:"error"`
	Action     string `json:"action"`
	Stage      string `json:"stage,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func problem(c echo.Context, status int, title, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// SubmitWorkflow runs the full pipeline for one request.
// (POST /workflow)
func (h *Handler) SubmitWorkflow(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.Action == "" || req.Text == "" {
		return problem(c, http.StatusBadRequest, "Invalid request", "action and text are required")
	}

	if !h.gate.Allow(c.RealIP(), h.now()) {
		return problem(c, http.StatusTooManyRequests, "Rate limited",
			"too many workflow submissions, slow down")
	}

	// A workflow keeps running server-side even if the client disconnects;
	// detaching from the request context makes that explicit.
	ctx := context.WithoutCancel(c.Request().Context())

	result, err := h.orchestrator.Run(ctx, orchestrator.Submission{
		Action:  req.Action,
		Text:    req.Text,
		Context: req.Context,
	})
	if err != nil {
		// Internal detail is logged, not echoed to the caller.
		h.logger.Error("workflow submission failed: %v", err)

		failure := submitFailure{Error: "workflow failed", Action: req.Action}
		var pipeErr *orchestrator.PipelineError
		if errors.As(err, &pipeErr) {
			failure.Stage = pipeErr.Stage.String()
			failure.WorkflowID = pipeErr.WorkflowID
		}
		return c.JSON(http.StatusInternalServerError, failure)
	}

	return c.JSON(http.StatusOK, result)
}

// GetWorkflow returns a workflow's record and full step history.
// (GET /workflow/:id)
func (h *Handler) GetWorkflow(c echo.Context) error {
	detail, err := h.query.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return problem(c, http.StatusNotFound, "Not found", "unknown workflow id")
		}
		h.logger.Error("workflow query failed: %v", err)
		return problem(c, http.StatusInternalServerError, "Query failed", "could not load workflow")
	}
	return c.JSON(http.StatusOK, detail)
}

// HandleHealth reports store connectivity.
// (GET /health)
func (h *Handler) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:    "healthy",
		Service:   "workflow-orchestrator",
		Version:   "1.0.0",
		Timestamp: h.now(),
		Checks:    map[string]string{"store": "connected"},
	}
	code := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store health check failed: %v", err)
		status.Status = "unhealthy"
		status.Checks["store"] = "disconnected"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, status)
}
