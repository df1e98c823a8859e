package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Sentinel errors for the pipeline's configuration and concurrency taxonomy.
var (
	// ErrLaneNotSeeded is returned when a lane has no completed run to act
	// as the fetch cursor. Lanes must be seeded before first use; there is
	// no default cutoff.
	ErrLaneNotSeeded = errors.New("lane has no completed run, seed it before first use")

	// ErrLeaseHeld is returned when another run holds a live lease for the lane.
	ErrLeaseHeld = errors.New("run lease already held for lane")

	// ErrNoSystemPromptConfig is returned when the global prompt
	// configuration row is missing.
	ErrNoSystemPromptConfig = errors.New("no system prompt configuration found")
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// LatestCompletedRun returns the most recently started completed run for
	// a lane; its start timestamp is the watermark for the next run.
	// Returns ErrLaneNotSeeded when the lane has no completed run.
	LatestCompletedRun(ctx context.Context, lane Lane) (*ProcessingRun, error)

	// BeginRun appends a new run record with a null completion timestamp.
	BeginRun(ctx context.Context, lane Lane, now time.Time) (*ProcessingRun, error)

	// CompleteRun sets the run's completion timestamp and audit counters.
	CompleteRun(ctx context.Context, runID string, counters RunCounters, now time.Time) (*ProcessingRun, error)

	// AcquireRunLease takes the lane's lease via a conditional insert.
	// Returns ErrLeaseHeld when a live lease for the lane exists; an expired
	// lease is taken over.
	AcquireRunLease(ctx context.Context, lane Lane, runID string, now time.Time, ttl time.Duration) error

	// ReleaseRunLease releases the lane's lease if it is held by runID.
	ReleaseRunLease(ctx context.Context, lane Lane, runID string) error

	// SeedLane records an initial completed run for a lane so the lane has a
	// watermark. A lane that already has a completed run is left untouched.
	SeedLane(ctx context.Context, lane Lane, cutoff time.Time) (bool, error)

	// TrackedEntitiesByType retrieves all tracked entities of one type.
	TrackedEntitiesByType(ctx context.Context, entityType EntityType) ([]TrackedEntity, error)

	// OwnEntitiesWithActiveConfig retrieves OWN entities joined with their
	// active prompt configuration. Entities without one are excluded.
	OwnEntitiesWithActiveConfig(ctx context.Context) ([]OwnEntity, error)

	// SystemPromptConfig retrieves the global prompt configuration.
	// Returns ErrNoSystemPromptConfig when the row is missing.
	SystemPromptConfig(ctx context.Context) (*SystemPromptConfiguration, error)

	// CreatePosts materializes the batch inside a single transaction: one
	// Post plus its FacebookPost per item, all or nothing. Items whose
	// provider post id already exists (in the table or earlier in the batch)
	// are skipped, not errors.
	CreatePosts(ctx context.Context, batch []NewPost) (created []CreatedPost, skipped int, err error)

	// CreateReactions inserts reactions idempotently: duplicates of the
	// (entity, post, configuration) unique triple are skipped.
	CreateReactions(ctx context.Context, batch []NewReaction) (created []Reaction, skipped int, err error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) LatestCompletedRun(ctx context.Context, lane Lane) (*ProcessingRun, error) {
	var run ProcessingRun
	query := `
        SELECT id, processing_type, started_at, completed_at, new_posts, new_reactions, skipped_posts, dropped_items
        FROM processing_runs
        WHERE processing_type = ? AND completed_at IS NOT NULL
        ORDER BY started_at DESC
        LIMIT 1;
    `

	err := s.db.GetContext(ctx, &run, query, lane)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lane %s: %w", lane, ErrLaneNotSeeded)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting latest completed run", "lane", lane, "error", err)
		return nil, fmt.Errorf("failed to get latest completed run for lane %s: %w", lane, err)
	}

	s.logger.DebugContext(ctx, "Fetched watermark run", "lane", lane, "run_id", run.ID, "started_at", run.StartedAt)
	return &run, nil
}

func (s *sqlxStore) BeginRun(ctx context.Context, lane Lane, now time.Time) (*ProcessingRun, error) {
	run := &ProcessingRun{
		ID:             uuid.NewString(),
		ProcessingType: lane,
		StartedAt:      now.UTC(),
	}

	query := `
        INSERT INTO processing_runs (id, processing_type, started_at)
        VALUES (?, ?, ?);
    `
	if _, err := s.db.ExecContext(ctx, query, run.ID, run.ProcessingType, run.StartedAt); err != nil {
		s.logger.ErrorContext(ctx, "Error beginning run", "lane", lane, "error", err)
		return nil, fmt.Errorf("failed to begin run for lane %s: %w", lane, err)
	}

	s.logger.InfoContext(ctx, "Run started", "lane", lane, "run_id", run.ID, "started_at", run.StartedAt)
	return run, nil
}

func (s *sqlxStore) CompleteRun(ctx context.Context, runID string, counters RunCounters, now time.Time) (*ProcessingRun, error) {
	query := `
        UPDATE processing_runs
        SET completed_at = ?, new_posts = ?, new_reactions = ?, skipped_posts = ?, dropped_items = ?
        WHERE id = ? AND completed_at IS NULL;
    `

	result, err := s.db.ExecContext(ctx, query,
		now.UTC(), counters.NewPosts, counters.NewReactions, counters.SkippedPosts, counters.DroppedItems, runID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error completing run", "run_id", runID, "error", err)
		return nil, fmt.Errorf("failed to complete run %s: %w", runID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when completing run",
			"run_id", runID, "affected", affected)
	}

	var run ProcessingRun
	getQuery := `
        SELECT id, processing_type, started_at, completed_at, new_posts, new_reactions, skipped_posts, dropped_items
        FROM processing_runs WHERE id = ?;
    `
	if err := s.db.GetContext(ctx, &run, getQuery, runID); err != nil {
		return nil, fmt.Errorf("failed to reload completed run %s: %w", runID, err)
	}

	s.logger.InfoContext(ctx, "Run completed", "run_id", runID,
		"new_posts", counters.NewPosts, "new_reactions", counters.NewReactions,
		"skipped_posts", counters.SkippedPosts, "dropped_items", counters.DroppedItems)
	return &run, nil
}

func (s *sqlxStore) AcquireRunLease(ctx context.Context, lane Lane, runID string, now time.Time, ttl time.Duration) error {
	nowUTC := now.UTC()

	// Conditional upsert: the update arm only fires when the existing lease
	// has expired, so a live lease makes this a no-op with zero rows affected.
	query := `
        INSERT INTO run_leases (lane, run_id, acquired_at, expires_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (lane) DO UPDATE SET
            run_id = excluded.run_id,
            acquired_at = excluded.acquired_at,
            expires_at = excluded.expires_at
        WHERE run_leases.expires_at <= excluded.acquired_at;
    `

	result, err := s.db.ExecContext(ctx, query, lane, runID, nowUTC, nowUTC.Add(ttl))
	if err != nil {
		s.logger.ErrorContext(ctx, "Error acquiring run lease", "lane", lane, "run_id", runID, "error", err)
		return fmt.Errorf("failed to acquire run lease for lane %s: %w", lane, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run lease result for lane %s: %w", lane, err)
	}
	if affected == 0 {
		s.logger.WarnContext(ctx, "Run lease held by another run", "lane", lane, "run_id", runID)
		return fmt.Errorf("lane %s: %w", lane, ErrLeaseHeld)
	}

	s.logger.DebugContext(ctx, "Run lease acquired", "lane", lane, "run_id", runID, "ttl", ttl)
	return nil
}

func (s *sqlxStore) ReleaseRunLease(ctx context.Context, lane Lane, runID string) error {
	query := `DELETE FROM run_leases WHERE lane = ? AND run_id = ?;`

	result, err := s.db.ExecContext(ctx, query, lane, runID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error releasing run lease", "lane", lane, "run_id", runID, "error", err)
		return fmt.Errorf("failed to release run lease for lane %s: %w", lane, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		// Lease expired and was taken over mid-run; nothing to release.
		s.logger.WarnContext(ctx, "Run lease no longer held by this run", "lane", lane, "run_id", runID)
	}
	return nil
}

func (s *sqlxStore) SeedLane(ctx context.Context, lane Lane, cutoff time.Time) (bool, error) {
	_, err := s.LatestCompletedRun(ctx, lane)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "Lane already seeded, skipping", "lane", lane)
		return false, nil
	case !errors.Is(err, ErrLaneNotSeeded):
		return false, err
	}

	cutoffUTC := cutoff.UTC()
	query := `
        INSERT INTO processing_runs (id, processing_type, started_at, completed_at, new_posts, new_reactions, skipped_posts, dropped_items)
        VALUES (?, ?, ?, ?, 0, 0, 0, 0);
    `
	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), lane, cutoffUTC, cutoffUTC); err != nil {
		s.logger.ErrorContext(ctx, "Error seeding lane", "lane", lane, "error", err)
		return false, fmt.Errorf("failed to seed lane %s: %w", lane, err)
	}

	s.logger.InfoContext(ctx, "Lane seeded", "lane", lane, "cutoff", cutoffUTC)
	return true, nil
}

func (s *sqlxStore) TrackedEntitiesByType(ctx context.Context, entityType EntityType) ([]TrackedEntity, error) {
	var entities []TrackedEntity
	query := `
        SELECT id, name, facebook_page_url, type, prompt_configuration_id, created_at, updated_at
        FROM tracked_entities
        WHERE type = ?
        ORDER BY name;
    `

	if err := s.db.SelectContext(ctx, &entities, query, entityType); err != nil {
		s.logger.ErrorContext(ctx, "Error getting tracked entities", "type", entityType, "error", err)
		return nil, fmt.Errorf("failed to get tracked entities of type %s: %w", entityType, err)
	}

	s.logger.DebugContext(ctx, "Fetched tracked entities", "type", entityType, "count", len(entities))
	return entities, nil
}

func (s *sqlxStore) OwnEntitiesWithActiveConfig(ctx context.Context) ([]OwnEntity, error) {
	var entities []OwnEntity
	query := `
        SELECT t.id, t.name, t.facebook_page_url, t.type, t.prompt_configuration_id, t.created_at, t.updated_at,
               p.id AS "pc.id",
               p.tone_of_voice_prompt AS "pc.tone_of_voice_prompt",
               p.user_prompt AS "pc.user_prompt",
               p.is_active AS "pc.is_active",
               p.created_at AS "pc.created_at",
               p.updated_at AS "pc.updated_at"
        FROM tracked_entities t
        JOIN prompt_configurations p ON p.id = t.prompt_configuration_id
        WHERE t.type = 'OWN' AND p.is_active = 1
        ORDER BY t.name;
    `

	if err := s.db.SelectContext(ctx, &entities, query); err != nil {
		s.logger.ErrorContext(ctx, "Error getting own entities with active config", "error", err)
		return nil, fmt.Errorf("failed to get own entities with active config: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched own entities with active config", "count", len(entities))
	return entities, nil
}

func (s *sqlxStore) SystemPromptConfig(ctx context.Context) (*SystemPromptConfiguration, error) {
	var cfg SystemPromptConfiguration
	query := `
        SELECT id, category_eu_sk_prompt, eu_politics_prompt, sk_politics_prompt, created_at, updated_at
        FROM system_prompt_configurations
        ORDER BY created_at
        LIMIT 1;
    `

	err := s.db.GetContext(ctx, &cfg, query)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNoSystemPromptConfig
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting system prompt configuration", "error", err)
		return nil, fmt.Errorf("failed to get system prompt configuration: %w", err)
	}

	return &cfg, nil
}

func (s *sqlxStore) CreatePosts(ctx context.Context, batch []NewPost) ([]CreatedPost, int, error) {
	if len(batch) == 0 {
		return nil, 0, nil
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for creating posts", "error", err)
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	created := make([]CreatedPost, 0, len(batch))
	skipped := 0

	for _, item := range batch {
		// Skip-duplicate on the provider post id; double-ingestion safety
		// despite the watermark race lives here, not in the cursor.
		var exists int
		err := tx.GetContext(ctx, &exists,
			`SELECT 1 FROM facebook_posts WHERE facebook_post_id = ? LIMIT 1`, item.FacebookPostID)
		if err == nil {
			skipped++
			s.logger.DebugContext(ctx, "Skipping duplicate post", "facebook_post_id", item.FacebookPostID)
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, 0, fmt.Errorf("failed to check for duplicate post %s: %w", item.FacebookPostID, err)
		}

		post := Post{
			ID:              uuid.NewString(),
			TrackedEntityID: item.TrackedEntityID,
			CategoryEuSk:    item.Category,
			CreatedAt:       now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts (id, tracked_entity_id, category_eu_sk, created_at) VALUES (?, ?, ?, ?)`,
			post.ID, post.TrackedEntityID, post.CategoryEuSk, post.CreatedAt); err != nil {
			s.logger.ErrorContext(ctx, "Error creating post", "facebook_post_id", item.FacebookPostID, "error", err)
			return nil, 0, fmt.Errorf("failed to create post for %s: %w", item.FacebookPostID, err)
		}

		detail := FacebookPost{
			ID:                uuid.NewString(),
			PostID:            post.ID,
			FacebookPostID:    item.FacebookPostID,
			URL:               item.URL,
			PostedAt:          item.PostedAt.UTC(),
			Text:              item.Text,
			FullResponse:      item.FullResponse,
			Likes:             item.Likes,
			Comments:          item.Comments,
			Shares:            item.Shares,
			TopReactionsCount: item.TopReactionsCount,
			IsVideo:           item.IsVideo,
			ViewsCount:        item.ViewsCount,
			CreatedAt:         now,
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO facebook_posts
                (id, post_id, facebook_post_id, url, posted_at, text, full_response,
                 likes, comments, shares, top_reactions_count, is_video, views_count, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			detail.ID, detail.PostID, detail.FacebookPostID, detail.URL, detail.PostedAt,
			detail.Text, detail.FullResponse, detail.Likes, detail.Comments, detail.Shares,
			detail.TopReactionsCount, detail.IsVideo, detail.ViewsCount, detail.CreatedAt); err != nil {
			s.logger.ErrorContext(ctx, "Error creating facebook post detail", "facebook_post_id", item.FacebookPostID, "error", err)
			return nil, 0, fmt.Errorf("failed to create facebook post detail for %s: %w", item.FacebookPostID, err)
		}

		created = append(created, CreatedPost{Post: post, FacebookPost: detail})
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit post creation transaction", "error", err)
		return nil, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Posts created", "created", len(created), "skipped", skipped)
	return created, skipped, nil
}

func (s *sqlxStore) CreateReactions(ctx context.Context, batch []NewReaction) ([]Reaction, int, error) {
	if len(batch) == 0 {
		return nil, 0, nil
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for creating reactions", "error", err)
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	created := make([]Reaction, 0, len(batch))
	skipped := 0

	query := `
        INSERT OR IGNORE INTO reactions (id, tracked_entity_id, post_id, prompt_configuration_id, text, created_at)
        VALUES (?, ?, ?, ?, ?, ?);
    `

	for _, item := range batch {
		reaction := Reaction{
			ID:                    uuid.NewString(),
			TrackedEntityID:       item.TrackedEntityID,
			PostID:                item.PostID,
			PromptConfigurationID: item.PromptConfigurationID,
			Text:                  item.Text,
			CreatedAt:             now,
		}

		result, err := tx.ExecContext(ctx, query,
			reaction.ID, reaction.TrackedEntityID, reaction.PostID,
			reaction.PromptConfigurationID, reaction.Text, reaction.CreatedAt)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error creating reaction",
				"tracked_entity_id", item.TrackedEntityID, "post_id", item.PostID, "error", err)
			return nil, 0, fmt.Errorf("failed to create reaction for post %s: %w", item.PostID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to check reaction insert result: %w", err)
		}
		if affected == 0 {
			skipped++
			s.logger.DebugContext(ctx, "Skipping duplicate reaction",
				"tracked_entity_id", item.TrackedEntityID, "post_id", item.PostID)
			continue
		}

		created = append(created, reaction)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit reaction creation transaction", "error", err)
		return nil, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Reactions created", "created", len(created), "skipped", skipped)
	return created, skipped, nil
}
