package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/pkg/models"
)

// agentResponse is the wire shape every agent endpoint replies with: free
// text plus token accounting.
type agentResponse struct {
	Text  string       `json:"text"`
	Usage models.Usage `json:"usage"`
}

// httpAgent is the shared transport for the HTTP agent clients.
type httpAgent struct {
	url    string
	client *http.Client
}

func newHTTPAgent(url string, timeout time.Duration) httpAgent {
	return httpAgent{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// post sends a JSON payload to an agent endpoint and decodes the reply.
// Non-2xx responses become errors carrying the status code and a body
// snippet, so an upstream 429 stays recognizable to the retry heuristic.
func (a httpAgent) post(ctx context.Context, path string, payload interface{}) (agentResponse, error) {
	var out agentResponse

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, fmt.Errorf("agent call %s failed: status code %d: %s", path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode response body: %w", err)
	}

	return out, nil
}

// HTTPDelegator is an HTTP implementation of the Delegator interface.
type HTTPDelegator struct {
	httpAgent
}

// NewHTTPDelegator creates a new HTTPDelegator.
func NewHTTPDelegator(url string, timeout time.Duration) *HTTPDelegator {
	return &HTTPDelegator{newHTTPAgent(url, timeout)}
}

// Delegate asks the delegator agent for a task plan.
func (c *HTTPDelegator) Delegate(ctx context.Context, text, action, contextNote string) (string, models.Usage, error) {
	resp, err := c.post(ctx, "/delegate", map[string]string{
		"text":    text,
		"action":  action,
		"context": contextNote,
	})
	if err != nil {
		return "", models.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// HTTPProcessor is an HTTP implementation of the Processor interface.
type HTTPProcessor struct {
	httpAgent
}

// NewHTTPProcessor creates a new HTTPProcessor.
func NewHTTPProcessor(url string, timeout time.Duration) *HTTPProcessor {
	return &HTTPProcessor{newHTTPAgent(url, timeout)}
}

// Process runs the deep-processing stage against the task plan.
func (c *HTTPProcessor) Process(ctx context.Context, text, action, taskPlan, contextNote string) (string, models.Usage, error) {
	resp, err := c.post(ctx, "/process", map[string]string{
		"text":      text,
		"action":    action,
		"task_plan": taskPlan,
		"context":   contextNote,
	})
	if err != nil {
		return "", models.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// Research gathers supporting material on a topic.
func (c *HTTPProcessor) Research(ctx context.Context, topic, contextNote string) (string, models.Usage, error) {
	resp, err := c.post(ctx, "/research", map[string]string{
		"topic":   topic,
		"context": contextNote,
	})
	if err != nil {
		return "", models.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// Reflect critiques intermediate content.
func (c *HTTPProcessor) Reflect(ctx context.Context, content string) (string, models.Usage, error) {
	resp, err := c.post(ctx, "/reflect", map[string]string{"content": content})
	if err != nil {
		return "", models.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// Conclude produces the candidate final output.
func (c *HTTPProcessor) Conclude(ctx context.Context, content string) (string, models.Usage, error) {
	resp, err := c.post(ctx, "/conclude", map[string]string{"content": content})
	if err != nil {
		return "", models.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// Refine reworks content using reviewer feedback.
func (c *HTTPProcessor) Refine(ctx context.Context, content, feedback string) (string, models.Usage, error) {
	resp, err := c.post(ctx, "/refine", map[string]string{
		"content":  content,
		"feedback": feedback,
	})
	if err != nil {
		return "", models.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// HTTPReviewer is an HTTP implementation of the Reviewer interface.
type HTTPReviewer struct {
	httpAgent
	logger Logger
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Warn(msg string, args ...interface{})
}

// NewHTTPReviewer creates a new HTTPReviewer.
func NewHTTPReviewer(url string, timeout time.Duration, logger Logger) *HTTPReviewer {
	return &HTTPReviewer{httpAgent: newHTTPAgent(url, timeout), logger: logger}
}

// Review asks the reviewer agent for a verdict. The agent replies with free
// text carrying a fenced JSON verdict, which is decoded tolerantly.
func (c *HTTPReviewer) Review(ctx context.Context, text, action, contextNote, rootInstruction string) (ReviewResult, models.Usage, error) {
	resp, err := c.post(ctx, "/review", map[string]string{
		"text":             text,
		"action":           action,
		"context":          contextNote,
		"root_instruction": rootInstruction,
	})
	if err != nil {
		return ReviewResult{}, models.Usage{}, err
	}

	result, ok := DecodeReview(resp.Text)
	if !ok {
		c.logger.Warn("reviewer output had no parseable verdict, approving by default")
	}
	return result, resp.Usage, nil
}
