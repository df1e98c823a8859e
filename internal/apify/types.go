package apify

import "encoding/json"

// PostSuccess is one scraped post returned by the Facebook posts scraper
// actor. Raw preserves the full provider payload for storage.
type PostSuccess struct {
	FacebookURL       string `json:"facebookUrl"`
	PostID            string `json:"postId"`
	PageName          string `json:"pageName"`
	URL               string `json:"url"`
	Time              string `json:"time"`
	Timestamp         int64  `json:"timestamp"`
	Text              string `json:"text"`
	Likes             int    `json:"likes"`
	Comments          int    `json:"comments"`
	Shares            int    `json:"shares"`
	TopReactionsCount int    `json:"topReactionsCount"`
	IsVideo           bool   `json:"isVideo"`
	ViewsCount        int    `json:"viewsCount"`
	InputURL          string `json:"inputUrl"`

	Raw json.RawMessage `json:"-"`
}

// PostError is the actor's per-page failure record.
type PostError struct {
	InputURL         string `json:"inputUrl"`
	Error            string `json:"error"`
	ErrorDescription string `json:"errorDescription"`
}

// actorInput is the request body for the Facebook posts scraper actor.
type actorInput struct {
	StartURLs          []startURL `json:"startUrls"`
	ResultsLimit       int        `json:"resultsLimit,omitempty"`
	CaptionText        bool       `json:"captionText,omitempty"`
	OnlyPostsNewerThan string     `json:"onlyPostsNewerThan,omitempty"`
	OnlyPostsOlderThan string     `json:"onlyPostsOlderThan,omitempty"`
}

type startURL struct {
	URL string `json:"url"`
}

// rawItem is used to discriminate success records from error records before
// decoding the full shape.
type rawItem struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"errorDescription"`
}
