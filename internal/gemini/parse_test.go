package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripJSONFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no fence",
			input:    `{"a":1}`,
			expected: `{"a":1}`,
		},
		{
			name:     "fenced json",
			input:    "```json\n{\"a\":1}\n```",
			expected: `{"a":1}`,
		},
		{
			name:     "fenced json uppercase marker",
			input:    "```JSON\n{\"a\":1}\n```",
			expected: `{"a":1}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n```json\n{\"a\":1}\n```\n  ",
			expected: `{"a":1}`,
		},
		{
			name:     "opening fence only",
			input:    "```json\n{\"a\":1}",
			expected: `{"a":1}`,
		},
		{
			name:     "closing fence only",
			input:    "{\"a\":1}\n```",
			expected: `{"a":1}`,
		},
		{
			name:     "backticks inside body are kept",
			input:    "{\"a\":\"```json\"}",
			expected: "{\"a\":\"```json\"}",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, StripJSONFence(tc.input))
		})
	}
}

func TestParseCategoryResponse(t *testing.T) {
	t.Parallel()

	t.Run("plain object", func(t *testing.T) {
		t.Parallel()
		resp, err := ParseCategoryResponse(`{"trackedEntityId":"e1","categoryEuSk":"EU"}`)
		require.NoError(t, err)
		assert.Equal(t, "e1", resp.TrackedEntityID)
		assert.Equal(t, "EU", resp.CategoryEuSk)
	})

	t.Run("fenced object", func(t *testing.T) {
		t.Parallel()
		resp, err := ParseCategoryResponse("```json\n{\"trackedEntityId\":\"e1\",\"categoryEuSk\":\"SK\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "SK", resp.CategoryEuSk)
	})

	t.Run("array takes first element", func(t *testing.T) {
		t.Parallel()
		resp, err := ParseCategoryResponse(`[{"trackedEntityId":"e1","categoryEuSk":"NONE"},{"trackedEntityId":"e2","categoryEuSk":"EU"}]`)
		require.NoError(t, err)
		assert.Equal(t, "e1", resp.TrackedEntityID)
		assert.Equal(t, "NONE", resp.CategoryEuSk)
	})

	t.Run("empty array", func(t *testing.T) {
		t.Parallel()
		_, err := ParseCategoryResponse(`[]`)
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		t.Parallel()
		_, err := ParseCategoryResponse("The category is EU.")
		assert.Error(t, err)
	})
}

func TestParseReactionResponse(t *testing.T) {
	t.Parallel()

	t.Run("array", func(t *testing.T) {
		t.Parallel()
		items, err := ParseReactionResponse(`[{"facebookPostId":"p1","reaction":"nice"},{"facebookPostId":"p2","reaction":"ok"}]`)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "p1", items[0].FacebookPostID)
		assert.Equal(t, "nice", items[0].Reaction)
	})

	t.Run("fenced array", func(t *testing.T) {
		t.Parallel()
		items, err := ParseReactionResponse("```json\n[{\"facebookPostId\":\"p1\",\"reaction\":\"nice\"}]\n```")
		require.NoError(t, err)
		require.Len(t, items, 1)
	})

	t.Run("bare object becomes one-element list", func(t *testing.T) {
		t.Parallel()
		items, err := ParseReactionResponse(`{"facebookPostId":"p1","reaction":"nice"}`)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "p1", items[0].FacebookPostID)
	})

	t.Run("empty array is valid", func(t *testing.T) {
		t.Parallel()
		items, err := ParseReactionResponse(`[]`)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("not json", func(t *testing.T) {
		t.Parallel()
		_, err := ParseReactionResponse("no reactions today")
		assert.Error(t, err)
	})
}
