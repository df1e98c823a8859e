package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/newstate/reactor/internal/database"
	"github.com/newstate/reactor/internal/gemini"
)

// categoryRequest is the user-role payload for one categorization call. The
// tracked entity id is echoed by the model so replies carry an identifier
// instead of relying on position.
type categoryRequest struct {
	TrackedEntityID string `json:"trackedEntityId"`
	Text            string `json:"text"`
}

// categorize classifies each resolved post with one concurrent model call.
// Each call's result is bound to its own post, so replies are never matched
// across requests. A transport failure is fatal for the run; a parse failure
// or an unexpected category only defaults that post to NONE.
func (p *Pipeline) categorize(ctx context.Context, systemPrompt string, posts []resolvedPost) ([]database.Category, int, error) {
	categories := make([]database.Category, len(posts))
	var defaulted int64

	g, gCtx := errgroup.WithContext(ctx)

	for i := range posts {
		g.Go(func() error {
			post := posts[i]

			payload, err := json.Marshal(categoryRequest{
				TrackedEntityID: post.Entity.ID,
				Text:            post.Item.Text,
			})
			if err != nil {
				return fmt.Errorf("failed to encode categorization request: %w", err)
			}

			response, err := p.llm.GenerateWithRoles(gCtx, systemPrompt, string(payload))
			if err != nil {
				return fmt.Errorf("categorization call for post %s failed: %w", post.Item.PostID, err)
			}

			parsed, err := gemini.ParseCategoryResponse(response)
			if err != nil {
				p.logger.WarnContext(gCtx, "Unparseable categorization response, defaulting to NONE",
					"facebook_post_id", post.Item.PostID, "error", err)
				categories[i] = database.CategoryNone
				atomic.AddInt64(&defaulted, 1)
				return nil
			}

			if parsed.TrackedEntityID != "" && parsed.TrackedEntityID != post.Entity.ID {
				p.logger.WarnContext(gCtx, "Categorization response echoed wrong entity id, defaulting to NONE",
					"facebook_post_id", post.Item.PostID,
					"expected", post.Entity.ID, "got", parsed.TrackedEntityID)
				categories[i] = database.CategoryNone
				atomic.AddInt64(&defaulted, 1)
				return nil
			}

			switch database.Category(parsed.CategoryEuSk) {
			case database.CategoryEU:
				categories[i] = database.CategoryEU
			case database.CategorySK:
				categories[i] = database.CategorySK
			case database.CategoryNone:
				categories[i] = database.CategoryNone
			default:
				p.logger.WarnContext(gCtx, "Unexpected category value, defaulting to NONE",
					"facebook_post_id", post.Item.PostID, "category", parsed.CategoryEuSk)
				categories[i] = database.CategoryNone
				atomic.AddInt64(&defaulted, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	return categories, int(defaulted), nil
}
