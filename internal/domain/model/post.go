package model

import "time"

// Platform identifies which backend a post (or credential) belongs to.
type Platform string

const (
	// PlatformMastodon is the federated backend: many independent instances
	// speaking the same protocol, each requiring its own OAuth client.
	PlatformMastodon Platform = "mastodon"
	// PlatformBluesky is the session backend: a single authentication origin
	// using identifier+app-password login.
	PlatformBluesky Platform = "bluesky"
)

// EngagementKind names a toggleable engagement flag on a post.
type EngagementKind string

const (
	EngagementLike     EngagementKind = "like"
	EngagementBookmark EngagementKind = "bookmark"
)

// Counts holds the shared engagement counters. Both backends' native counter
// fields map onto this shape; absent counters default to zero.
type Counts struct {
	Replies  int `json:"replies"`
	Reshares int `json:"reshares"`
	Likes    int `json:"likes"`
}

// MediaRef is a normalized reference to an attached image or video.
type MediaRef struct {
	URL         string `json:"url"`
	PreviewURL  string `json:"preview_url,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// UnifiedPost is the single post shape both backends normalize into.
// ID is backend-qualified ("mastodon:<id>", "bluesky:<at-uri>") and stable
// across repeated fetches of the same underlying post, so merging feeds is a
// set union keyed by ID.
type UnifiedPost struct {
	ID                string    `json:"id"`
	Platform          Platform  `json:"platform"`
	AuthorHandle      string    `json:"author_handle"`
	AuthorDisplayName string    `json:"author_display_name"`
	AvatarURL         string    `json:"avatar_url,omitempty"`
	BodyText          string    `json:"body_text"`
	BodyHTML          string    `json:"body_html,omitempty"`
	URL               string    `json:"url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	Counts            Counts    `json:"counts"`
	Liked             bool      `json:"liked"`
	// Bookmarked is always false for Bluesky posts; that backend has no
	// bookmark concept.
	Bookmarked bool       `json:"bookmarked"`
	MediaRefs  []MediaRef `json:"media_refs"`
	Hashtags   []string   `json:"hashtags"`
	// ResharedBy carries the boosting/reposting account's handle when this
	// post reached the timeline through a reshare.
	ResharedBy string `json:"reshared_by,omitempty"`

	// Routing fields for engagement calls against the owning backend.
	// NativeID is the Mastodon status ID or the Bluesky post at-uri.
	NativeID string `json:"native_id"`
	// NativeCID is the Bluesky record CID; empty for Mastodon posts.
	NativeCID string `json:"native_cid,omitempty"`
	// ViewerLikeURI is the at-uri of the viewer's own like record on a
	// Bluesky post. Deleting that record is how an unlike is expressed.
	ViewerLikeURI string `json:"viewer_like_uri,omitempty"`
}

// FeedPage is one page of normalized posts plus the cursor for the next page.
// An empty NextCursor means the feed is exhausted.
type FeedPage struct {
	Posts      []UnifiedPost
	NextCursor string
}
