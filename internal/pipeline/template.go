package pipeline

import (
	"fmt"
	"regexp"
)

// Placeholder names accepted in a user-prompt template.
const (
	PlaceholderTrackedEntityID       = "trackedEntityId"
	PlaceholderPostID                = "postId"
	PlaceholderPromptConfigurationID = "promptConfigurationId"
	PlaceholderText                  = "text"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// PromptTemplate is a user-prompt template with named placeholders. Templates
// are validated at construction so that unknown placeholders are rejected
// before any model call instead of silently reaching the model unreplaced.
type PromptTemplate struct {
	raw string
}

// PromptVars carries the values substituted into a template. The three
// identifiers are required; Text may be empty (posts without text exist).
type PromptVars struct {
	TrackedEntityID       string
	PostID                string
	PromptConfigurationID string
	Text                  string
}

// NewPromptTemplate parses and validates a template. Every placeholder must
// be one of the four known names.
func NewPromptTemplate(raw string) (PromptTemplate, error) {
	known := map[string]bool{
		PlaceholderTrackedEntityID:       true,
		PlaceholderPostID:                true,
		PlaceholderPromptConfigurationID: true,
		PlaceholderText:                  true,
	}

	for _, match := range placeholderRe.FindAllStringSubmatch(raw, -1) {
		if !known[match[1]] {
			return PromptTemplate{}, fmt.Errorf("unknown placeholder {{%s}} in prompt template", match[1])
		}
	}

	return PromptTemplate{raw: raw}, nil
}

// Render substitutes the placeholders with the given values. The identifier
// fields must be non-empty, and the result must contain no remaining
// placeholder syntax.
func (t PromptTemplate) Render(vars PromptVars) (string, error) {
	if vars.TrackedEntityID == "" {
		return "", fmt.Errorf("prompt template var %s is required", PlaceholderTrackedEntityID)
	}
	if vars.PostID == "" {
		return "", fmt.Errorf("prompt template var %s is required", PlaceholderPostID)
	}
	if vars.PromptConfigurationID == "" {
		return "", fmt.Errorf("prompt template var %s is required", PlaceholderPromptConfigurationID)
	}

	values := map[string]string{
		PlaceholderTrackedEntityID:       vars.TrackedEntityID,
		PlaceholderPostID:                vars.PostID,
		PlaceholderPromptConfigurationID: vars.PromptConfigurationID,
		PlaceholderText:                  vars.Text,
	}

	rendered := placeholderRe.ReplaceAllStringFunc(t.raw, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return values[name]
	})

	// Substituted values could themselves smuggle placeholder syntax in.
	if rest := placeholderRe.FindString(rendered); rest != "" {
		return "", fmt.Errorf("unreplaced placeholder %s after substitution", rest)
	}

	return rendered, nil
}
