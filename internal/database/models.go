package database

import (
	"database/sql"
	"time"
)

// EntityType distinguishes pages the system posts on behalf of (OWN) from
// pages it only monitors (OTHER).
type EntityType string

const (
	EntityTypeOwn   EntityType = "OWN"
	EntityTypeOther EntityType = "OTHER"
)

// Lane identifies an independent processing track with its own watermark
// and run ledger.
type Lane string

const (
	LaneOwn   Lane = "OWN"
	LaneOther Lane = "OTHER"
)

// Category is the coarse topical classification assigned to a post.
type Category string

const (
	CategoryEU   Category = "EU"
	CategorySK   Category = "SK"
	CategoryNone Category = "NONE"
)

// TrackedEntity is a Facebook page the system monitors. OWN entities carry a
// prompt configuration used to author reactions on their behalf. Entities are
// created by configuration and never mutated by the pipeline.
type TrackedEntity struct {
	ID                    string         `db:"id"`
	Name                  string         `db:"name"`
	FacebookPageURL       string         `db:"facebook_page_url"`
	Type                  EntityType     `db:"type"`
	PromptConfigurationID sql.NullString `db:"prompt_configuration_id"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

// PromptConfiguration holds the tone-of-voice fragment and the user-prompt
// template for one OWN entity. Only active configurations participate in
// reaction generation.
type PromptConfiguration struct {
	ID                string    `db:"id"`
	ToneOfVoicePrompt string    `db:"tone_of_voice_prompt"`
	UserPrompt        string    `db:"user_prompt"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// OwnEntity is an OWN tracked entity joined with its active prompt
// configuration, as used by the reaction generation stage.
type OwnEntity struct {
	TrackedEntity
	PromptConfiguration PromptConfiguration `db:"pc"`
}

// SystemPromptConfiguration holds the global prompt fragments: the
// categorization system prompt and the per-category political-stance
// fragments prepended to reaction prompts.
type SystemPromptConfiguration struct {
	ID                 string    `db:"id"`
	CategoryEuSkPrompt string    `db:"category_eu_sk_prompt"`
	EuPoliticsPrompt   string    `db:"eu_politics_prompt"`
	SkPoliticsPrompt   string    `db:"sk_politics_prompt"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// Post is one ingested item. Its category is assigned at creation and never
// revised afterwards.
type Post struct {
	ID              string    `db:"id"`
	TrackedEntityID string    `db:"tracked_entity_id"`
	CategoryEuSk    Category  `db:"category_eu_sk"`
	CreatedAt       time.Time `db:"created_at"`
}

// FacebookPost is the engagement snapshot for a Post, 1:1 and created in the
// same transaction. FullResponse carries the raw provider payload as JSON.
type FacebookPost struct {
	ID                string    `db:"id"`
	PostID            string    `db:"post_id"`
	FacebookPostID    string    `db:"facebook_post_id"`
	URL               string    `db:"url"`
	PostedAt          time.Time `db:"posted_at"`
	Text              string    `db:"text"`
	FullResponse      string    `db:"full_response"`
	Likes             int       `db:"likes"`
	Comments          int       `db:"comments"`
	Shares            int       `db:"shares"`
	TopReactionsCount int       `db:"top_reactions_count"`
	IsVideo           bool      `db:"is_video"`
	ViewsCount        int       `db:"views_count"`
	CreatedAt         time.Time `db:"created_at"`
}

// Reaction is AI-authored text tied to the (entity, post, configuration)
// triple. Append-only; never mutated after creation.
type Reaction struct {
	ID                    string    `db:"id"`
	TrackedEntityID       string    `db:"tracked_entity_id"`
	PostID                string    `db:"post_id"`
	PromptConfigurationID string    `db:"prompt_configuration_id"`
	Text                  string    `db:"text"`
	CreatedAt             time.Time `db:"created_at"`
}

// ProcessingRun is one entry in the append-only run ledger. A null
// CompletedAt marks a run that is in flight or died mid-way.
type ProcessingRun struct {
	ID             string        `db:"id"`
	ProcessingType Lane          `db:"processing_type"`
	StartedAt      time.Time     `db:"started_at"`
	CompletedAt    sql.NullTime  `db:"completed_at"`
	NewPosts       sql.NullInt64 `db:"new_posts"`
	NewReactions   sql.NullInt64 `db:"new_reactions"`
	SkippedPosts   sql.NullInt64 `db:"skipped_posts"`
	DroppedItems   sql.NullInt64 `db:"dropped_items"`
}

// RunLease guards a lane against overlapping runs. A lease is taken with a
// conditional insert and expires after its TTL, so a crashed run cannot
// wedge the lane permanently.
type RunLease struct {
	Lane       Lane      `db:"lane"`
	RunID      string    `db:"run_id"`
	AcquiredAt time.Time `db:"acquired_at"`
	ExpiresAt  time.Time `db:"expires_at"`
}

// NewPost is the input for the persistence transaction: one resolved,
// categorized item from the fetch adapter.
type NewPost struct {
	TrackedEntityID   string
	FacebookPostID    string
	URL               string
	PostedAt          time.Time
	Text              string
	FullResponse      string
	Likes             int
	Comments          int
	Shares            int
	TopReactionsCount int
	IsVideo           bool
	ViewsCount        int
	Category          Category
}

// NewReaction is the input for the idempotent reaction insert.
type NewReaction struct {
	TrackedEntityID       string
	PostID                string
	PromptConfigurationID string
	Text                  string
}

// CreatedPost pairs a created Post with its FacebookPost detail record.
type CreatedPost struct {
	Post         Post
	FacebookPost FacebookPost
}

// RunCounters are the aggregate counts recorded on run completion.
type RunCounters struct {
	NewPosts     int
	NewReactions int
	SkippedPosts int
	DroppedItems int
}
