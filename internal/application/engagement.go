package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
	"github.com/mhsenkow/snapfeed/internal/domain/port/driven"
)

// SourceProvider resolves the authenticated source for a platform.
// TimelineService satisfies it.
type SourceProvider interface {
	Source(platform model.Platform) (driven.TimelineSource, bool)
}

// EngagementSync applies like/bookmark toggles optimistically to the local
// store, confirms them remotely, and rolls the local mutation back when the
// remote call fails. Toggles on the same post serialize through a per-post
// lock so a rollback from one request can never clobber the optimistic
// state of the next.
type EngagementSync struct {
	store   *Store
	sources SourceProvider
	locks   keyedMutex
}

// NewEngagementSync creates an EngagementSync over the shared store.
func NewEngagementSync(store *Store, sources SourceProvider) *EngagementSync {
	return &EngagementSync{store: store, sources: sources}
}

// undoToken captures a post's pre-toggle engagement state so a failed
// remote call can restore it exactly.
type undoToken struct {
	postID        string
	liked         bool
	bookmarked    bool
	counts        model.Counts
	viewerLikeURI string
}

// Toggle flips the named engagement flag on the post: read current state,
// mutate locally first (UI responsiveness is never coupled to network
// latency), then confirm with the owning backend. On remote failure the
// local mutation is rolled back before the error surfaces.
func (e *EngagementSync) Toggle(ctx context.Context, postID string, kind model.EngagementKind) error {
	unlock := e.locks.lock(postID)
	defer unlock()

	post, ok := e.store.Get(postID)
	if !ok {
		return fmt.Errorf("toggle %s: unknown post %q", kind, postID)
	}

	src, ok := e.sources.Source(post.Platform)
	if !ok {
		return errNotAuthenticated(post.Platform)
	}

	// Reject unsupported kinds before any local mutation.
	if kind == model.EngagementBookmark && post.Platform == model.PlatformBluesky {
		return model.ErrUnsupportedEngagement
	}

	target, err := targetState(post, kind)
	if err != nil {
		return err
	}

	token := e.applyOptimistic(post, kind, target)

	likeRef, err := e.confirmRemote(ctx, src, post, kind, target)
	if err != nil {
		e.rollback(token)
		return &model.ToggleError{PostID: postID, Kind: kind, Err: err}
	}

	e.commit(token, kind, target, likeRef)
	return nil
}

// targetState computes the inverse of the post's current flag for kind.
func targetState(post model.UnifiedPost, kind model.EngagementKind) (bool, error) {
	switch kind {
	case model.EngagementLike:
		return !post.Liked, nil
	case model.EngagementBookmark:
		return !post.Bookmarked, nil
	default:
		return false, fmt.Errorf("unknown engagement kind %q", kind)
	}
}

// applyOptimistic mutates the stored post immediately (flag flip, count
// adjusted by one) and returns the token that can undo it.
func (e *EngagementSync) applyOptimistic(post model.UnifiedPost, kind model.EngagementKind, target bool) undoToken {
	token := undoToken{
		postID:        post.ID,
		liked:         post.Liked,
		bookmarked:    post.Bookmarked,
		counts:        post.Counts,
		viewerLikeURI: post.ViewerLikeURI,
	}

	e.store.Apply(post.ID, func(p *model.UnifiedPost) {
		switch kind {
		case model.EngagementLike:
			p.Liked = target
			if target {
				p.Counts.Likes++
			} else if p.Counts.Likes > 0 {
				p.Counts.Likes--
			}
		case model.EngagementBookmark:
			p.Bookmarked = target
		}
	})

	return token
}

// confirmRemote fires the backend call matching the toggle. For a Bluesky
// like it returns the created like record's at-uri.
func (e *EngagementSync) confirmRemote(ctx context.Context, src driven.TimelineSource, post model.UnifiedPost, kind model.EngagementKind, target bool) (string, error) {
	switch kind {
	case model.EngagementLike:
		if target {
			return src.Like(ctx, post)
		}
		return "", src.Unlike(ctx, post)
	case model.EngagementBookmark:
		if target {
			return "", src.Bookmark(ctx, post)
		}
		return "", src.Unbookmark(ctx, post)
	default:
		return "", fmt.Errorf("unknown engagement kind %q", kind)
	}
}

// commit finalizes a confirmed toggle. The optimistic state already matches
// the remote state; only the like record reference needs recording.
func (e *EngagementSync) commit(token undoToken, kind model.EngagementKind, target bool, likeRef string) {
	if kind != model.EngagementLike {
		return
	}
	e.store.Apply(token.postID, func(p *model.UnifiedPost) {
		if target {
			if likeRef != "" {
				p.ViewerLikeURI = likeRef
			}
		} else {
			p.ViewerLikeURI = ""
		}
	})
}

// rollback restores the post's pre-toggle engagement state.
func (e *EngagementSync) rollback(token undoToken) {
	e.store.Apply(token.postID, func(p *model.UnifiedPost) {
		p.Liked = token.liked
		p.Bookmarked = token.bookmarked
		p.Counts = token.counts
		p.ViewerLikeURI = token.viewerLikeURI
	})
}

// keyedMutex serializes operations per key. Entries are retained for the
// process lifetime; the key space is bounded by posts seen in the session.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for key, creating it on first use, and returns
// the matching unlock.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
