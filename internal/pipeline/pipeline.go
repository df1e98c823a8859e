// Package pipeline implements the incremental ingestion-and-annotation
// pipeline: watermark-based fetching of new posts for a lane, entity
// resolution, two-stage language-model annotation (categorization, then
// reaction generation), and atomic persistence of the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/newstate/reactor/internal/apify"
	"github.com/newstate/reactor/internal/config"
	"github.com/newstate/reactor/internal/database"
	"github.com/newstate/reactor/internal/gemini"
)

// ErrNoActivePromptConfig is returned when the reaction-producing lane finds
// no own entity with an active prompt configuration.
var ErrNoActivePromptConfig = errors.New("no own entity with an active prompt configuration")

// Pipeline orchestrates one run end to end. It holds no per-run state; a run
// is one synchronous call to Run.
type Pipeline struct {
	logger  *slog.Logger
	store   database.Store
	fetcher apify.Fetcher
	llm     gemini.Client

	leaseTTL     time.Duration
	resultsLimit int
	captionText  bool
}

// New creates a pipeline with its collaborators.
func New(logger *slog.Logger, store database.Store, fetcher apify.Fetcher, llm gemini.Client, cfg *config.Config) *Pipeline {
	return &Pipeline{
		logger:       logger.With("component", "pipeline"),
		store:        store,
		fetcher:      fetcher,
		llm:          llm,
		leaseTTL:     cfg.Pipeline.LeaseTTL,
		resultsLimit: cfg.Apify.ResultsLimit,
		captionText:  cfg.Apify.CaptionText,
	}
}

// ReactionDigest is one authored reaction in a run digest.
type ReactionDigest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// PostDigest groups a persisted post with the reactions authored for it.
type PostDigest struct {
	PostURL    string           `json:"postUrl"`
	PostAuthor string           `json:"postAuthor"`
	PostText   string           `json:"postText"`
	Reactions  []ReactionDigest `json:"reactions"`
}

// RunSummary is the aggregate result of one completed run.
type RunSummary struct {
	Lane                  database.Lane `json:"lane"`
	RunID                 string        `json:"runId"`
	NewPosts              int           `json:"newPosts"`
	NewReactions          int           `json:"newReactions"`
	SkippedPosts          int           `json:"skippedPosts"`
	DroppedItems          int           `json:"droppedItems"`
	CategoryDefaulted     int           `json:"categoryDefaulted"`
	FetchErrors           int           `json:"fetchErrors"`
	ProcessingStartedAt   time.Time     `json:"processingStartedAt"`
	ProcessingCompletedAt time.Time     `json:"processingCompletedAt"`

	Digest []PostDigest `json:"-"`
}

// Run executes one pipeline run for a lane. The OWN lane ingests and
// categorizes posts from own pages; the OTHER lane additionally authors
// reactions on behalf of own entities. Any fatal error leaves the run record
// with a null completion timestamp for operational monitoring to find.
func (p *Pipeline) Run(ctx context.Context, lane database.Lane) (*RunSummary, error) {
	log := p.logger.With("lane", lane)
	now := time.Now().UTC()

	// Configuration reads come first so configuration errors abort before
	// any write.
	watermark, err := p.store.LatestCompletedRun(ctx, lane)
	if err != nil {
		return nil, err
	}

	sysCfg, err := p.store.SystemPromptConfig(ctx)
	if err != nil {
		return nil, err
	}

	entityType := database.EntityTypeOwn
	if lane == database.LaneOther {
		entityType = database.EntityTypeOther
	}
	entities, err := p.store.TrackedEntitiesByType(ctx, entityType)
	if err != nil {
		return nil, err
	}

	var ownEntities []database.OwnEntity
	if lane == database.LaneOther {
		ownEntities, err = p.store.OwnEntitiesWithActiveConfig(ctx)
		if err != nil {
			return nil, err
		}
		if len(ownEntities) == 0 {
			return nil, ErrNoActivePromptConfig
		}
	}

	// The lease rejects overlapping invocations for the lane; the ledger
	// run is only opened once the lease is held, so a rejected invocation
	// leaves no stuck run record behind.
	leaseOwner := uuid.NewString()
	if err := p.store.AcquireRunLease(ctx, lane, leaseOwner, now, p.leaseTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.store.ReleaseRunLease(ctx, lane, leaseOwner); err != nil {
			log.Warn("Failed to release run lease; it will expire on its own", "error", err)
		}
	}()

	run, err := p.store.BeginRun(ctx, lane, now)
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "Pipeline run started",
		"run_id", run.ID, "entities", len(entities), "cutoff", watermark.StartedAt)

	pageURLs := make([]string, 0, len(entities))
	for _, e := range entities {
		pageURLs = append(pageURLs, e.FacebookPageURL)
	}

	var successes []apify.PostSuccess
	var failures []apify.PostError
	if len(pageURLs) > 0 {
		successes, failures, err = p.fetcher.FetchPosts(ctx, apify.FetchInput{
			PageURLs:           pageURLs,
			ResultsLimit:       p.resultsLimit,
			CaptionText:        p.captionText,
			OnlyPostsNewerThan: watermark.StartedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("content fetch failed: %w", err)
		}
	}
	for _, f := range failures {
		log.WarnContext(ctx, "Fetch error for page", "input_url", f.InputURL,
			"error", f.Error, "description", f.ErrorDescription)
	}

	resolved, dropped := resolvePosts(ctx, log, entities, successes)

	categories, defaulted, err := p.categorize(ctx, sysCfg.CategoryEuSkPrompt, resolved)
	if err != nil {
		return nil, err
	}

	batch := make([]database.NewPost, 0, len(resolved))
	for i, rp := range resolved {
		batch = append(batch, database.NewPost{
			TrackedEntityID:   rp.Entity.ID,
			FacebookPostID:    rp.Item.PostID,
			URL:               rp.Item.URL,
			PostedAt:          rp.Item.PostedAt(),
			Text:              rp.Item.Text,
			FullResponse:      string(rp.Item.Raw),
			Likes:             rp.Item.Likes,
			Comments:          rp.Item.Comments,
			Shares:            rp.Item.Shares,
			TopReactionsCount: rp.Item.TopReactionsCount,
			IsVideo:           rp.Item.IsVideo,
			ViewsCount:        rp.Item.ViewsCount,
			Category:          categories[i],
		})
	}

	created, skipped, err := p.store.CreatePosts(ctx, batch)
	if err != nil {
		return nil, err
	}

	var reactions []database.Reaction
	droppedRefs := 0
	if lane == database.LaneOther && len(created) > 0 {
		reactionBatch, refs, err := p.generateReactions(ctx, sysCfg, ownEntities, created)
		if err != nil {
			return nil, err
		}
		droppedRefs = refs

		var skippedReactions int
		reactions, skippedReactions, err = p.store.CreateReactions(ctx, reactionBatch)
		if err != nil {
			return nil, err
		}
		if skippedReactions > 0 {
			log.InfoContext(ctx, "Duplicate reactions skipped", "count", skippedReactions)
		}
	}

	counters := database.RunCounters{
		NewPosts:     len(created),
		NewReactions: len(reactions),
		SkippedPosts: skipped,
		DroppedItems: dropped + droppedRefs,
	}

	completed, err := p.store.CompleteRun(ctx, run.ID, counters, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		Lane:                lane,
		RunID:               run.ID,
		NewPosts:            counters.NewPosts,
		NewReactions:        counters.NewReactions,
		SkippedPosts:        counters.SkippedPosts,
		DroppedItems:        counters.DroppedItems,
		CategoryDefaulted:   defaulted,
		FetchErrors:         len(failures),
		ProcessingStartedAt: completed.StartedAt,
		Digest:              buildDigest(entities, ownEntities, created, reactions),
	}
	if completed.CompletedAt.Valid {
		summary.ProcessingCompletedAt = completed.CompletedAt.Time
	}

	log.InfoContext(ctx, "Pipeline run finished",
		"run_id", run.ID,
		"new_posts", summary.NewPosts,
		"new_reactions", summary.NewReactions,
		"skipped_posts", summary.SkippedPosts,
		"dropped_items", summary.DroppedItems,
		"category_defaulted", summary.CategoryDefaulted,
		"fetch_errors", summary.FetchErrors)

	return summary, nil
}

// buildDigest assembles the per-post reaction digest used by the notifier.
func buildDigest(
	entities []database.TrackedEntity,
	ownEntities []database.OwnEntity,
	created []database.CreatedPost,
	reactions []database.Reaction,
) []PostDigest {
	if len(reactions) == 0 {
		return nil
	}

	entityNames := make(map[string]string, len(entities)+len(ownEntities))
	for _, e := range entities {
		entityNames[e.ID] = e.Name
	}
	for _, e := range ownEntities {
		entityNames[e.ID] = e.Name
	}

	reactionsByPost := make(map[string][]ReactionDigest)
	for _, r := range reactions {
		reactionsByPost[r.PostID] = append(reactionsByPost[r.PostID], ReactionDigest{
			Author: entityNames[r.TrackedEntityID],
			Text:   r.Text,
		})
	}

	var digest []PostDigest
	for _, post := range created {
		items, ok := reactionsByPost[post.Post.ID]
		if !ok {
			continue
		}
		digest = append(digest, PostDigest{
			PostURL:    post.FacebookPost.URL,
			PostAuthor: entityNames[post.Post.TrackedEntityID],
			PostText:   post.FacebookPost.Text,
			Reactions:  items,
		})
	}
	return digest
}
