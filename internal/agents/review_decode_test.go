package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeReviewFencedBlock(t *testing.T) {
	raw := "Here is my assessment.\n```json\n" +
		`{"approved": false, "reviewedContent": "the text", "feedback": "too vague", "score": 60}` +
		"\n```\nThanks."

	result, ok := DecodeReview(raw)
	assert.True(t, ok)
	assert.False(t, result.Approved)
	assert.Equal(t, "the text", result.ReviewedContent)
	assert.Equal(t, "too vague", result.Feedback)
	assert.Equal(t, 60, result.Score)
}

func TestDecodeReviewBareJSON(t *testing.T) {
	raw := `{"approved": true, "score": 92, "reviewedContent": "fine"}`

	result, ok := DecodeReview(raw)
	assert.True(t, ok)
	assert.True(t, result.Approved)
	assert.Equal(t, 92, result.Score)
}

func TestDecodeReviewFallsBackToApproval(t *testing.T) {
	raw := "I could not produce a structured verdict, sorry."

	result, ok := DecodeReview(raw)
	assert.False(t, ok)
	assert.True(t, result.Approved)
	assert.Equal(t, fallbackScore, result.Score)
	assert.Equal(t, raw, result.ReviewedContent)
}

func TestDecodeReviewMalformedFence(t *testing.T) {
	raw := "```json\nnot actually json\n```"

	result, ok := DecodeReview(raw)
	assert.False(t, ok)
	assert.True(t, result.Approved)
}

func TestDecodeReviewMissingContentUsesRawText(t *testing.T) {
	raw := `prefix {"approved": false, "score": 10} suffix`

	result, ok := DecodeReview(raw)
	assert.True(t, ok)
	assert.False(t, result.Approved)
	assert.Equal(t, raw, result.ReviewedContent)
}
