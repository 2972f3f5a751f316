// Package agents defines the client contracts for the three reasoning
// agents the pipeline drives, plus HTTP implementations. Each agent is an
// opaque endpoint returning text and token usage.
package agents

import (
	"context"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// Delegator produces a task plan for a submission.
type Delegator interface {
	Delegate(ctx context.Context, text, action, contextNote string) (string, models.Usage, error)
}

// Processor performs the deep-processing stages of the pipeline.
type Processor interface {
	Process(ctx context.Context, text, action, taskPlan, contextNote string) (string, models.Usage, error)
	Research(ctx context.Context, topic, contextNote string) (string, models.Usage, error)
	Reflect(ctx context.Context, content string) (string, models.Usage, error)
	Conclude(ctx context.Context, content string) (string, models.Usage, error)
	Refine(ctx context.Context, content, feedback string) (string, models.Usage, error)
}

// ReviewResult is the peer reviewer's verdict on a conclusion.
type ReviewResult struct {
	Approved        bool     `json:"approved"`
	ReviewedContent string   `json:"reviewedContent"`
	Feedback        string   `json:"feedback"`
	Improvements    []string `json:"improvements"`
	Issues          []string `json:"issues"`
	Score           int      `json:"score"`
}

// Reviewer evaluates a conclusion and scores it 0..100.
type Reviewer interface {
	Review(ctx context.Context, text, action, contextNote, rootInstruction string) (ReviewResult, models.Usage, error)
}
