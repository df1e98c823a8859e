// Package apify wraps the Apify Facebook posts scraper actor behind a narrow
// fetch contract. It runs the actor synchronously and returns the dataset
// items, discriminated into per-page success and error records.
package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/newstate/reactor/internal/config"
)

// FetchInput describes one fetch call: the pages to scrape and the cutoff
// below which posts have already been ingested.
type FetchInput struct {
	PageURLs           []string
	ResultsLimit       int
	CaptionText        bool
	OnlyPostsNewerThan time.Time
}

// Fetcher is the content fetch contract consumed by the pipeline.
type Fetcher interface {
	FetchPosts(ctx context.Context, input FetchInput) ([]PostSuccess, []PostError, error)
}

type client struct {
	http    *resty.Client
	actorID string
	logger  *slog.Logger
}

// NewClient creates a fetch adapter for the configured Apify actor.
func NewClient(cfg config.ApifyConfig, logger *slog.Logger) Fetcher {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetQueryParam("token", cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &client{
		http:    http,
		actorID: cfg.ActorID,
		logger:  logger.With("component", "apify_client"),
	}
}

// FetchPosts runs the actor synchronously and returns its dataset items.
// The adapter performs no retries; any transport failure is fatal for the
// whole call, never per-item.
func (c *client) FetchPosts(ctx context.Context, input FetchInput) ([]PostSuccess, []PostError, error) {
	body := actorInput{
		StartURLs:    make([]startURL, 0, len(input.PageURLs)),
		ResultsLimit: input.ResultsLimit,
		CaptionText:  input.CaptionText,
	}
	for _, u := range input.PageURLs {
		body.StartURLs = append(body.StartURLs, startURL{URL: u})
	}
	if !input.OnlyPostsNewerThan.IsZero() {
		body.OnlyPostsNewerThan = input.OnlyPostsNewerThan.UTC().Format(time.RFC3339)
	}

	c.logger.InfoContext(ctx, "Starting actor run",
		"actor_id", c.actorID, "pages", len(input.PageURLs),
		"newer_than", body.OnlyPostsNewerThan, "results_limit", input.ResultsLimit)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/v2/acts/%s/run-sync-get-dataset-items", c.actorID))
	if err != nil {
		c.logger.ErrorContext(ctx, "Actor run request failed", "actor_id", c.actorID, "error", err)
		return nil, nil, fmt.Errorf("apify actor run failed: %w", err)
	}
	if resp.IsError() {
		c.logger.ErrorContext(ctx, "Actor run returned error status",
			"actor_id", c.actorID, "status", resp.Status(), "body", resp.String())
		return nil, nil, fmt.Errorf("apify actor run returned status %s", resp.Status())
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, nil, fmt.Errorf("failed to decode actor dataset items: %w", err)
	}

	var successes []PostSuccess
	var failures []PostError

	for _, raw := range items {
		var marker rawItem
		if err := json.Unmarshal(raw, &marker); err != nil {
			return nil, nil, fmt.Errorf("failed to decode actor dataset item: %w", err)
		}

		if marker.Error != "" || marker.ErrorDescription != "" {
			var item PostError
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, nil, fmt.Errorf("failed to decode actor error item: %w", err)
			}
			failures = append(failures, item)
			continue
		}

		var item PostSuccess
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, nil, fmt.Errorf("failed to decode actor post item: %w", err)
		}
		item.Raw = raw
		successes = append(successes, item)
	}

	c.logger.InfoContext(ctx, "Actor run finished",
		"actor_id", c.actorID, "posts", len(successes), "errors", len(failures))
	return successes, failures, nil
}

// PostedAt parses the post's publish time. The actor reports both an ISO
// string and a unix timestamp; the string wins when it parses.
func (p *PostSuccess) PostedAt() time.Time {
	if t, err := time.Parse(time.RFC3339, p.Time); err == nil {
		return t
	}
	if p.Timestamp > 0 {
		return time.Unix(p.Timestamp, 0).UTC()
	}
	return time.Time{}
}
