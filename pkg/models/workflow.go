// Package models defines the domain models for the workflow orchestrator.
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
)

// AgentRole identifies which reasoning agent produced a step.
type AgentRole string

const (
	AgentDelegator AgentRole = "delegator"
	AgentProcessor AgentRole = "processor"
	AgentReviewer  AgentRole = "reviewer"
)

// Stage is one named step in the fixed pipeline sequence.
type Stage string

const (
	StageDelegate Stage = "delegate"
	StageProcess  Stage = "process"
	StageResearch Stage = "research"
	StageReflect  Stage = "reflect"
	StageConclude Stage = "conclude"
	StageReview   Stage = "review"
	StageRefine   Stage = "refine"
)

// Workflow represents one end-to-end pipeline run.
//
// FinalOutput, Agreement and ValidationPassed stay nil until the run reaches
// a terminal status; once written the record is never edited again.
type Workflow struct {
	ID               string         `json:"id"`
	Action           string         `json:"action"`
	Status           WorkflowStatus `json:"status"`
	InputText        string         `json:"input_text"`
	Context          *string        `json:"context,omitempty"`
	FinalOutput      *string        `json:"final_output,omitempty"`
	Agreement        *bool          `json:"agreement,omitempty"`
	ValidationPassed *bool          `json:"validation_passed,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// WorkflowStep is an append-only record of a single executed pipeline stage.
// Step numbers are assigned by the orchestrator and are monotonic per
// workflow, starting at 1 with no gaps.
type WorkflowStep struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	StepNumber int       `json:"step_number"`
	Agent      AgentRole `json:"agent"`
	Stage      Stage     `json:"stage"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// Usage is the token accounting an agent reports for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// HealthStatus represents service health.
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
