package pipeline

import (
	"context"
	"log/slog"

	"github.com/newstate/reactor/internal/apify"
	"github.com/newstate/reactor/internal/database"
)

// resolvedPost is a fetched item matched back to the tracked entity whose
// page it came from.
type resolvedPost struct {
	Entity database.TrackedEntity
	Item   apify.PostSuccess
}

// resolvePosts maps fetched items to tracked entities by exact page URL
// equality; no URL normalization is performed. Unmatched items are dropped,
// logged, and counted so misconfigured page locators show up in run audits
// instead of vanishing silently.
func resolvePosts(ctx context.Context, logger *slog.Logger, entities []database.TrackedEntity, items []apify.PostSuccess) ([]resolvedPost, int) {
	byPageURL := make(map[string]database.TrackedEntity, len(entities))
	for _, e := range entities {
		byPageURL[e.FacebookPageURL] = e
	}

	resolved := make([]resolvedPost, 0, len(items))
	dropped := 0

	for _, item := range items {
		entity, ok := byPageURL[item.FacebookURL]
		if !ok {
			dropped++
			logger.WarnContext(ctx, "Dropping post from untracked page",
				"facebook_url", item.FacebookURL, "facebook_post_id", item.PostID)
			continue
		}
		resolved = append(resolved, resolvedPost{Entity: entity, Item: item})
	}

	logger.DebugContext(ctx, "Resolved fetched posts",
		"resolved", len(resolved), "dropped", dropped)
	return resolved, dropped
}
