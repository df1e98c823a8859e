package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (Store, *sqlx.DB) {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, nil), db
}

func insertEntity(t *testing.T, db *sqlx.DB, entityType EntityType, promptConfigID string) string {
	t.Helper()

	id := uuid.NewString()
	now := time.Now().UTC()

	var configID any
	if promptConfigID != "" {
		configID = promptConfigID
	}
	_, err := db.Exec(`
        INSERT INTO tracked_entities (id, name, facebook_page_url, type, prompt_configuration_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, "entity-"+id[:8], "https://www.facebook.com/"+id[:8], entityType, configID, now, now)
	require.NoError(t, err)
	return id
}

func insertPromptConfig(t *testing.T, db *sqlx.DB, active bool) string {
	t.Helper()

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := db.Exec(`
        INSERT INTO prompt_configurations (id, tone_of_voice_prompt, user_prompt, is_active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		id, "tone", "react to {{text}}", active, now, now)
	require.NoError(t, err)
	return id
}

func TestLaneSeedingAndWatermark(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.LatestCompletedRun(ctx, LaneOwn)
	require.ErrorIs(t, err, ErrLaneNotSeeded)

	cutoff := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	seeded, err := store.SeedLane(ctx, LaneOwn, cutoff)
	require.NoError(t, err)
	assert.True(t, seeded)

	// Seeding is idempotent.
	seeded, err = store.SeedLane(ctx, LaneOwn, cutoff.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, seeded)

	run, err := store.LatestCompletedRun(ctx, LaneOwn)
	require.NoError(t, err)
	assert.True(t, cutoff.Equal(run.StartedAt))

	// Lanes are independent.
	_, err = store.LatestCompletedRun(ctx, LaneOther)
	require.ErrorIs(t, err, ErrLaneNotSeeded)
}

func TestWatermarkAdvancesOnlyOnCompletion(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	_, err := store.SeedLane(ctx, LaneOwn, cutoff)
	require.NoError(t, err)

	started := cutoff.Add(24 * time.Hour)
	run, err := store.BeginRun(ctx, LaneOwn, started)
	require.NoError(t, err)

	// An in-flight run must not move the watermark.
	watermark, err := store.LatestCompletedRun(ctx, LaneOwn)
	require.NoError(t, err)
	assert.True(t, cutoff.Equal(watermark.StartedAt))

	counters := RunCounters{NewPosts: 3, NewReactions: 2, SkippedPosts: 1, DroppedItems: 1}
	completed, err := store.CompleteRun(ctx, run.ID, counters, started.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, completed.CompletedAt.Valid)
	assert.EqualValues(t, 3, completed.NewPosts.Int64)

	watermark, err = store.LatestCompletedRun(ctx, LaneOwn)
	require.NoError(t, err)
	assert.Equal(t, run.ID, watermark.ID)
	assert.True(t, started.Equal(watermark.StartedAt))
}

func TestRunLease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AcquireRunLease(ctx, LaneOwn, "run1", now, time.Minute))

	// A live lease blocks everyone else.
	err := store.AcquireRunLease(ctx, LaneOwn, "run2", now.Add(time.Second), time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	// The other lane's lease is independent.
	require.NoError(t, store.AcquireRunLease(ctx, LaneOther, "run3", now, time.Minute))

	// Releasing with the wrong holder is a no-op.
	require.NoError(t, store.ReleaseRunLease(ctx, LaneOwn, "run2"))
	err = store.AcquireRunLease(ctx, LaneOwn, "run2", now.Add(2*time.Second), time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	// Release by the holder frees the lane.
	require.NoError(t, store.ReleaseRunLease(ctx, LaneOwn, "run1"))
	require.NoError(t, store.AcquireRunLease(ctx, LaneOwn, "run2", now.Add(3*time.Second), time.Minute))
}

func TestRunLeaseExpiryTakeover(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AcquireRunLease(ctx, LaneOwn, "run1", now, time.Minute))

	// After the TTL the lease is up for grabs.
	err := store.AcquireRunLease(ctx, LaneOwn, "run2", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)

	// The original holder can no longer release it.
	require.NoError(t, store.ReleaseRunLease(ctx, LaneOwn, "run1"))
	err = store.AcquireRunLease(ctx, LaneOwn, "run3", now.Add(2*time.Minute+30*time.Second), time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)
}

func TestCreatePostsSkipsDuplicates(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	entityID := insertEntity(t, db, EntityTypeOther, "")
	postedAt := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)

	batch := []NewPost{
		{
			TrackedEntityID: entityID, FacebookPostID: "fb-p1", URL: "https://fb.example/p1",
			PostedAt: postedAt, Text: "first", FullResponse: `{"postId":"fb-p1"}`,
			Likes: 10, Category: CategoryEU,
		},
		{
			TrackedEntityID: entityID, FacebookPostID: "fb-p2", URL: "https://fb.example/p2",
			PostedAt: postedAt, Text: "second", FullResponse: `{"postId":"fb-p2"}`,
			Category: CategoryNone,
		},
	}

	created, skipped, err := store.CreatePosts(ctx, batch)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Zero(t, skipped)
	assert.Equal(t, CategoryEU, created[0].Post.CategoryEuSk)
	assert.Equal(t, "fb-p1", created[0].FacebookPost.FacebookPostID)

	// Replaying the same batch plus one new item only creates the new item.
	batch = append(batch, NewPost{
		TrackedEntityID: entityID, FacebookPostID: "fb-p3", URL: "https://fb.example/p3",
		PostedAt: postedAt, Text: "third", FullResponse: `{"postId":"fb-p3"}`,
		Category: CategorySK,
	})

	created, skipped, err = store.CreatePosts(ctx, batch)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, "fb-p3", created[0].FacebookPost.FacebookPostID)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM posts`))
	assert.Equal(t, 3, count)
}

func TestCreatePostsDuplicateWithinBatch(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	entityID := insertEntity(t, db, EntityTypeOther, "")
	postedAt := time.Now().UTC()

	batch := []NewPost{
		{TrackedEntityID: entityID, FacebookPostID: "fb-dup", PostedAt: postedAt, Category: CategoryNone},
		{TrackedEntityID: entityID, FacebookPostID: "fb-dup", PostedAt: postedAt, Category: CategoryNone},
	}

	created, skipped, err := store.CreatePosts(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Equal(t, 1, skipped)
}

func TestCreateReactionsIdempotent(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	configID := insertPromptConfig(t, db, true)
	ownID := insertEntity(t, db, EntityTypeOwn, configID)
	otherID := insertEntity(t, db, EntityTypeOther, "")

	created, _, err := store.CreatePosts(ctx, []NewPost{
		{TrackedEntityID: otherID, FacebookPostID: "fb-p1", PostedAt: time.Now().UTC(), Category: CategoryEU},
	})
	require.NoError(t, err)
	postID := created[0].Post.ID

	batch := []NewReaction{
		{TrackedEntityID: ownID, PostID: postID, PromptConfigurationID: configID, Text: "nice"},
	}

	reactions, skipped, err := store.CreateReactions(ctx, batch)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Zero(t, skipped)

	// The same triple again is skipped, not an error.
	reactions, skipped, err = store.CreateReactions(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, reactions)
	assert.Equal(t, 1, skipped)
}

func TestOwnEntitiesWithActiveConfig(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	activeConfig := insertPromptConfig(t, db, true)
	inactiveConfig := insertPromptConfig(t, db, false)

	withActive := insertEntity(t, db, EntityTypeOwn, activeConfig)
	insertEntity(t, db, EntityTypeOwn, inactiveConfig)
	insertEntity(t, db, EntityTypeOwn, "")
	insertEntity(t, db, EntityTypeOther, "")

	entities, err := store.OwnEntitiesWithActiveConfig(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, withActive, entities[0].ID)
	assert.Equal(t, activeConfig, entities[0].PromptConfiguration.ID)
	assert.Equal(t, "react to {{text}}", entities[0].PromptConfiguration.UserPrompt)
}

func TestSystemPromptConfig(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	_, err := store.SystemPromptConfig(ctx)
	require.ErrorIs(t, err, ErrNoSystemPromptConfig)

	now := time.Now().UTC()
	_, err = db.Exec(`
        INSERT INTO system_prompt_configurations (id, category_eu_sk_prompt, eu_politics_prompt, sk_politics_prompt, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), "categorize", "eu stance", "sk stance", now, now)
	require.NoError(t, err)

	cfg, err := store.SystemPromptConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "categorize", cfg.CategoryEuSkPrompt)
}

func TestTrackedEntitiesByType(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	insertEntity(t, db, EntityTypeOwn, "")
	insertEntity(t, db, EntityTypeOther, "")
	insertEntity(t, db, EntityTypeOther, "")

	own, err := store.TrackedEntitiesByType(ctx, EntityTypeOwn)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	other, err := store.TrackedEntitiesByType(ctx, EntityTypeOther)
	require.NoError(t, err)
	assert.Len(t, other, 2)
}
