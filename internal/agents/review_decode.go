package agents

import (
	"encoding/json"
	"strings"
)

// fallbackScore is used when the reviewer's verdict cannot be decoded. The
// review then approves by default rather than failing the pipeline.
const fallbackScore = 100

// DecodeReview extracts the reviewer's JSON verdict from free text. The
// verdict usually arrives as a fenced ```json block, but a bare JSON object
// is accepted too. The second return value is false when no verdict could
// be decoded and the approve-by-default fallback was applied.
func DecodeReview(raw string) (ReviewResult, bool) {
	candidate := extractJSONBlock(raw)
	if candidate != "" {
		var result ReviewResult
		if err := json.Unmarshal([]byte(candidate), &result); err == nil {
			if result.ReviewedContent == "" {
				result.ReviewedContent = raw
			}
			return result, true
		}
	}

	return ReviewResult{
		Approved:        true,
		ReviewedContent: raw,
		Score:           fallbackScore,
	}, false
}

// extractJSONBlock returns the first fenced code block's contents, or the
// substring between the first '{' and last '}' when no fence is present.
func extractJSONBlock(raw string) string {
	if start := strings.Index(raw, "```"); start >= 0 {
		rest := raw[start+3:]
		// Skip an optional language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		return strings.TrimSpace(raw[start : end+1])
	}
	return ""
}
