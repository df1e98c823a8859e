package gemini

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceOpenRe  = regexp.MustCompile(`(?i)^` + "```" + `json\s*`)
	fenceCloseRe = regexp.MustCompile(`\s*` + "```" + `$`)
)

// StripJSONFence removes a leading ```json marker and a trailing ``` marker
// from a model response, if present. Models wrap JSON payloads in a fenced
// code block often enough that every parser has to strip it first.
func StripJSONFence(content string) string {
	content = strings.TrimSpace(content)
	content = fenceOpenRe.ReplaceAllString(content, "")
	content = fenceCloseRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// CategoryResponse is the expected shape of one categorization reply.
// TrackedEntityID echoes the request so replies are matched by identifier,
// never by position.
type CategoryResponse struct {
	TrackedEntityID string `json:"trackedEntityId"`
	CategoryEuSk    string `json:"categoryEuSk"`
}

// ParseCategoryResponse parses a single categorization reply: a JSON object,
// optionally fenced, optionally wrapped in a one-element array.
func ParseCategoryResponse(content string) (*CategoryResponse, error) {
	cleaned := StripJSONFence(content)

	var single CategoryResponse
	if err := json.Unmarshal([]byte(cleaned), &single); err == nil {
		return &single, nil
	}

	var list []CategoryResponse
	if err := json.Unmarshal([]byte(cleaned), &list); err != nil {
		return nil, fmt.Errorf("failed to parse category response as JSON: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("category response array is empty")
	}
	return &list[0], nil
}

// ReactionResponse is one element of the reaction generation reply: the post
// the reaction belongs to (by identifier) and the authored text.
type ReactionResponse struct {
	FacebookPostID string `json:"facebookPostId"`
	Reaction       string `json:"reaction"`
}

// ParseReactionResponse parses a reaction generation reply: a JSON array of
// reaction objects, optionally fenced. A bare object is treated as a
// one-element array, mirroring the category parser.
func ParseReactionResponse(content string) ([]ReactionResponse, error) {
	cleaned := StripJSONFence(content)

	var list []ReactionResponse
	if err := json.Unmarshal([]byte(cleaned), &list); err == nil {
		return list, nil
	}

	var single ReactionResponse
	if err := json.Unmarshal([]byte(cleaned), &single); err != nil {
		return nil, fmt.Errorf("failed to parse reaction response as JSON: %w", err)
	}
	return []ReactionResponse{single}, nil
}
