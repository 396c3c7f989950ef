package bluesky

import (
	"time"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// timelineResponse is the native getTimeline/getAuthorFeed shape.
type timelineResponse struct {
	Feed   []feedItem `json:"feed"`
	Cursor string     `json:"cursor"`
}

type feedItem struct {
	Post   postView    `json:"post"`
	Reason *feedReason `json:"reason"`
}

type feedReason struct {
	Type string `json:"$type"`
	By   *actor `json:"by"`
}

type postView struct {
	URI         string      `json:"uri"`
	CID         string      `json:"cid"`
	Author      actor       `json:"author"`
	Record      postRecord  `json:"record"`
	Embed       *embedView  `json:"embed"`
	ReplyCount  int         `json:"replyCount"`
	RepostCount int         `json:"repostCount"`
	LikeCount   int         `json:"likeCount"`
	IndexedAt   time.Time   `json:"indexedAt"`
	Viewer      viewerState `json:"viewer"`
}

type actor struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type postRecord struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Facets    []facet   `json:"facets"`
}

type facet struct {
	Features []facetFeature `json:"features"`
}

type facetFeature struct {
	Type string `json:"$type"`
	Tag  string `json:"tag"`
}

type embedView struct {
	Images []embedImage `json:"images"`
}

type embedImage struct {
	Fullsize string `json:"fullsize"`
	Thumb    string `json:"thumb"`
	Alt      string `json:"alt"`
}

type viewerState struct {
	Like string `json:"like"`
}

// normalizeFeedItem converts a native feed item into the unified shape.
// A repost is represented by the inner post with the reposter recorded in
// ResharedBy, keyed by the inner post's at-uri so repeated appearances
// de-dup. Bookmarked is always false: the backend has no bookmark concept.
// Pure and idempotent.
func normalizeFeedItem(item feedItem) model.UnifiedPost {
	p := item.Post

	createdAt := p.Record.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.IndexedAt
	}

	post := model.UnifiedPost{
		ID:                "bluesky:" + p.URI,
		Platform:          model.PlatformBluesky,
		AuthorHandle:      p.Author.Handle,
		AuthorDisplayName: p.Author.DisplayName,
		AvatarURL:         p.Author.Avatar,
		BodyText:          p.Record.Text,
		CreatedAt:         createdAt,
		Counts: model.Counts{
			Replies:  p.ReplyCount,
			Reshares: p.RepostCount,
			Likes:    p.LikeCount,
		},
		Liked:         p.Viewer.Like != "",
		Bookmarked:    false,
		MediaRefs:     []model.MediaRef{},
		Hashtags:      []string{},
		NativeID:      p.URI,
		NativeCID:     p.CID,
		ViewerLikeURI: p.Viewer.Like,
	}

	if item.Reason != nil && item.Reason.By != nil {
		post.ResharedBy = item.Reason.By.Handle
	}

	if p.Embed != nil {
		for _, img := range p.Embed.Images {
			post.MediaRefs = append(post.MediaRefs, model.MediaRef{
				URL:         img.Fullsize,
				PreviewURL:  img.Thumb,
				Type:        "image",
				Description: img.Alt,
			})
		}
	}

	for _, f := range p.Record.Facets {
		for _, feat := range f.Features {
			if feat.Type == "app.bsky.richtext.facet#tag" && feat.Tag != "" {
				post.Hashtags = append(post.Hashtags, feat.Tag)
			}
		}
	}

	return post
}
