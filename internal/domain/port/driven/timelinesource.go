package driven

import (
	"context"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// TimelineSource defines the driven port a backend adapter implements to
// serve the fetch engine and the engagement synchronizer. One implementation
// exists per platform; both hide their native wire shapes behind
// model.UnifiedPost.
type TimelineSource interface {
	// Platform identifies which backend this source talks to.
	Platform() model.Platform

	// FetchPage retrieves one page of the selected feed. cursor is the opaque
	// pagination token from the previous page, or "" for the first page.
	// The returned page's NextCursor is "" when the feed is exhausted.
	// An HTTP 429 from the backend surfaces as *model.RateLimitError.
	FetchPage(ctx context.Context, cursor string, limit int) (model.FeedPage, error)

	// Like marks the post as liked. For Bluesky it returns the at-uri of the
	// created like record, which the caller must retain to unlike later;
	// Mastodon returns "".
	Like(ctx context.Context, post model.UnifiedPost) (likeRef string, err error)

	// Unlike removes the viewer's like from the post.
	Unlike(ctx context.Context, post model.UnifiedPost) error

	// Bookmark marks the post as bookmarked. Backends without a bookmark
	// concept return model.ErrUnsupportedEngagement.
	Bookmark(ctx context.Context, post model.UnifiedPost) error

	// Unbookmark removes the viewer's bookmark from the post.
	Unbookmark(ctx context.Context, post model.UnifiedPost) error
}
