package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/newstate/reactor/internal/database"
	"github.com/newstate/reactor/internal/gemini"
)

// stancePrompt selects the political-stance fragment for a post category.
// NONE posts get no stance fragment.
func stancePrompt(sysCfg *database.SystemPromptConfiguration, category database.Category) string {
	switch category {
	case database.CategoryEU:
		return sysCfg.EuPoliticsPrompt
	case database.CategorySK:
		return sysCfg.SkPoliticsPrompt
	default:
		return ""
	}
}

// generateReactions runs the reaction stage: for every (own entity, post)
// pair one model call, all calls concurrent, replies matched to posts by the
// echoed provider post id. Any call or parse failure is fatal to the stage;
// there is no partial-credit policy.
func (p *Pipeline) generateReactions(
	ctx context.Context,
	sysCfg *database.SystemPromptConfiguration,
	ownEntities []database.OwnEntity,
	posts []database.CreatedPost,
) ([]database.NewReaction, int, error) {
	// Validate every template up front so a broken configuration aborts
	// before the first model call.
	templates := make([]PromptTemplate, len(ownEntities))
	for i, entity := range ownEntities {
		tmpl, err := NewPromptTemplate(entity.PromptConfiguration.UserPrompt)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid prompt template for entity %s: %w", entity.ID, err)
		}
		templates[i] = tmpl
	}

	postsByProviderID := make(map[string]database.CreatedPost, len(posts))
	for _, post := range posts {
		postsByProviderID[post.FacebookPost.FacebookPostID] = post
	}

	// parsed[entityIdx][postIdx] holds the reply items of one call; each
	// goroutine writes only its own slot.
	parsed := make([][][]gemini.ReactionResponse, len(ownEntities))
	for i := range parsed {
		parsed[i] = make([][]gemini.ReactionResponse, len(posts))
	}

	g, gCtx := errgroup.WithContext(ctx)

	for ei := range ownEntities {
		for pi := range posts {
			g.Go(func() error {
				entity := ownEntities[ei]
				post := posts[pi]

				systemPrompt := strings.Join([]string{
					stancePrompt(sysCfg, post.Post.CategoryEuSk),
					entity.PromptConfiguration.ToneOfVoicePrompt,
				}, "\n")

				userPrompt, err := templates[ei].Render(PromptVars{
					TrackedEntityID:       entity.ID,
					PostID:                post.Post.ID,
					PromptConfigurationID: entity.PromptConfiguration.ID,
					Text:                  post.FacebookPost.Text,
				})
				if err != nil {
					return fmt.Errorf("failed to render prompt for entity %s: %w", entity.ID, err)
				}

				response, err := p.llm.GenerateWithRoles(gCtx, systemPrompt, userPrompt)
				if err != nil {
					return fmt.Errorf("reaction call for entity %s, post %s failed: %w",
						entity.ID, post.FacebookPost.FacebookPostID, err)
				}

				items, err := gemini.ParseReactionResponse(response)
				if err != nil {
					return fmt.Errorf("reaction response for entity %s, post %s: %w",
						entity.ID, post.FacebookPost.FacebookPostID, err)
				}

				parsed[ei][pi] = items
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var batch []database.NewReaction
	droppedRefs := 0

	for ei, entity := range ownEntities {
		for pi := range posts {
			for _, item := range parsed[ei][pi] {
				post, ok := postsByProviderID[item.FacebookPostID]
				if !ok {
					droppedRefs++
					p.logger.WarnContext(ctx, "Reaction references unknown post id, dropping",
						"entity_id", entity.ID, "facebook_post_id", item.FacebookPostID)
					continue
				}
				if item.Reaction == "" {
					droppedRefs++
					p.logger.WarnContext(ctx, "Empty reaction text, dropping",
						"entity_id", entity.ID, "facebook_post_id", item.FacebookPostID)
					continue
				}
				batch = append(batch, database.NewReaction{
					TrackedEntityID:       entity.ID,
					PostID:                post.Post.ID,
					PromptConfigurationID: entity.PromptConfiguration.ID,
					Text:                  item.Reaction,
				})
			}
		}
	}

	return batch, droppedRefs, nil
}
