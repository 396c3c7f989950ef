package application

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
	"github.com/mhsenkow/snapfeed/internal/domain/port/driven"
)

// Store is the shared in-memory unified post collection. Merging is a set
// union keyed by post ID; fetches from both backends and engagement toggles
// all contend here and nowhere else.
type Store struct {
	mu       sync.RWMutex
	posts    map[string]model.UnifiedPost
	onChange func()
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{posts: make(map[string]model.UnifiedPost)}
}

// SetOnChange installs an observer invoked after every mutation. Used by the
// driving layer to push updates; may be nil.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Merge unions posts into the store keyed by ID, replacing stale copies of
// posts already present. Returns the number of newly added posts.
func (s *Store) Merge(posts []model.UnifiedPost) int {
	s.mu.Lock()
	added := 0
	for _, p := range posts {
		if _, exists := s.posts[p.ID]; !exists {
			added++
		}
		s.posts[p.ID] = p
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil && len(posts) > 0 {
		fn()
	}
	return added
}

// Get returns a copy of the post with the given ID.
func (s *Store) Get(id string) (model.UnifiedPost, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	return p, ok
}

// Apply runs fn against the stored post under the write lock and notifies
// the observer. Returns false when the post is absent.
func (s *Store) Apply(id string, fn func(*model.UnifiedPost)) bool {
	s.mu.Lock()
	p, ok := s.posts[id]
	if ok {
		fn(&p)
		s.posts[id] = p
	}
	notify := s.onChange
	s.mu.Unlock()

	if ok && notify != nil {
		notify()
	}
	return ok
}

// Snapshot returns a flat, de-duplicated, newest-first copy of the timeline
// for the presentation layer.
func (s *Store) Snapshot() []model.UnifiedPost {
	s.mu.RLock()
	out := make([]model.UnifiedPost, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reset drops every post, e.g. when the user switches feed type.
func (s *Store) Reset() {
	s.mu.Lock()
	s.posts = make(map[string]model.UnifiedPost)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Len returns the number of posts currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// BackendStatus reports one backend's share of a refresh: how much it
// contributed and whether it degraded.
type BackendStatus struct {
	Platform model.Platform
	Fetched  int
	HasMore  bool
	Partial  bool
	Err      error
}

// TimelineService orchestrates fetching both backends into the shared store.
// Backends run concurrently; a failure on one never blocks the other's
// posts. Cursors are tracked per backend and discarded on refresh or feed
// switch.
type TimelineService struct {
	fetcher *Fetcher
	store   *Store

	mu      sync.Mutex
	sources map[model.Platform]driven.TimelineSource
	cursors map[model.Platform]string
}

// NewTimelineService creates a TimelineService over the given fetch engine
// and store. Sources register as backends authenticate.
func NewTimelineService(fetcher *Fetcher, store *Store) *TimelineService {
	return &TimelineService{
		fetcher: fetcher,
		store:   store,
		sources: make(map[model.Platform]driven.TimelineSource),
		cursors: make(map[model.Platform]string),
	}
}

// SetSource registers or replaces the source for its platform and discards
// that platform's cursor.
func (s *TimelineService) SetSource(src driven.TimelineSource) {
	s.mu.Lock()
	s.sources[src.Platform()] = src
	delete(s.cursors, src.Platform())
	s.mu.Unlock()
}

// RemoveSource unregisters a platform, e.g. on logout.
func (s *TimelineService) RemoveSource(platform model.Platform) {
	s.mu.Lock()
	delete(s.sources, platform)
	delete(s.cursors, platform)
	s.mu.Unlock()
}

// Source returns the registered source for a platform.
func (s *TimelineService) Source(platform model.Platform) (driven.TimelineSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[platform]
	return src, ok
}

// ResetFeed drops all collected posts and cursors, for a feed-type switch.
func (s *TimelineService) ResetFeed() {
	s.mu.Lock()
	s.cursors = make(map[model.Platform]string)
	s.mu.Unlock()
	s.store.Reset()
}

// Refresh fetches up to perBackendLimit fresh posts from every registered
// backend concurrently, starting from the top of each feed, and merges them
// into the store. Per-backend degradation is reported in the returned
// statuses, never raised: partial aggregation beats no aggregation.
func (s *TimelineService) Refresh(ctx context.Context, perBackendLimit int) []BackendStatus {
	s.mu.Lock()
	sources := make([]driven.TimelineSource, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	s.mu.Unlock()

	statuses := make([]BackendStatus, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			statuses[i] = s.fetchInto(ctx, src, "", perBackendLimit)
			return nil
		})
	}
	_ = g.Wait()

	return statuses
}

// LoadMore continues one backend's feed from its stored cursor.
func (s *TimelineService) LoadMore(ctx context.Context, platform model.Platform, limit int) BackendStatus {
	s.mu.Lock()
	src, ok := s.sources[platform]
	cursor := s.cursors[platform]
	s.mu.Unlock()

	if !ok {
		return BackendStatus{Platform: platform, Err: errNotAuthenticated(platform)}
	}
	return s.fetchInto(ctx, src, cursor, limit)
}

// Snapshot returns the merged, time-ordered timeline.
func (s *TimelineService) Snapshot() []model.UnifiedPost {
	return s.store.Snapshot()
}

// Store exposes the shared post collection.
func (s *TimelineService) Store() *Store {
	return s.store
}

func (s *TimelineService) fetchInto(ctx context.Context, src driven.TimelineSource, cursor string, limit int) BackendStatus {
	res := s.fetcher.FetchN(ctx, src, cursor, limit)

	added := s.store.Merge(res.Posts)

	s.mu.Lock()
	s.cursors[src.Platform()] = res.NextCursor
	s.mu.Unlock()

	if res.Err != nil {
		slog.Warn("backend fetch degraded",
			"platform", src.Platform(),
			"fetched", len(res.Posts),
			"error", res.Err,
		)
	} else {
		slog.Debug("backend fetch complete",
			"platform", src.Platform(),
			"fetched", len(res.Posts),
			"added", added,
			"has_more", res.HasMore,
		)
	}

	return BackendStatus{
		Platform: src.Platform(),
		Fetched:  len(res.Posts),
		HasMore:  res.HasMore,
		Partial:  res.Partial,
		Err:      res.Err,
	}
}
