package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// fetchCall records one FetchPage invocation.
type fetchCall struct {
	cursor string
	limit  int
}

// fetchResponse is one scripted FetchPage outcome.
type fetchResponse struct {
	page model.FeedPage
	err  error
}

// scriptedSource is a TimelineSource that plays back scripted FetchPage
// responses in order and records engagement calls.
type scriptedSource struct {
	mu        sync.Mutex
	platform  model.Platform
	responses []fetchResponse
	calls     []fetchCall

	likeRef     string
	likeErr     error
	unlikeErr   error
	bookmarkErr error

	likedPosts   []model.UnifiedPost
	unlikedPosts []model.UnifiedPost
	bookmarked   []model.UnifiedPost
	unbookmarked []model.UnifiedPost
}

func newScriptedSource(platform model.Platform, responses ...fetchResponse) *scriptedSource {
	return &scriptedSource{platform: platform, responses: responses}
}

func (s *scriptedSource) Platform() model.Platform { return s.platform }

func (s *scriptedSource) FetchPage(ctx context.Context, cursor string, limit int) (model.FeedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, fetchCall{cursor: cursor, limit: limit})
	if len(s.responses) == 0 {
		return model.FeedPage{}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r.page, r.err
}

func (s *scriptedSource) Like(ctx context.Context, post model.UnifiedPost) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likedPosts = append(s.likedPosts, post)
	if s.likeErr != nil {
		return "", s.likeErr
	}
	return s.likeRef, nil
}

func (s *scriptedSource) Unlike(ctx context.Context, post model.UnifiedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlikedPosts = append(s.unlikedPosts, post)
	return s.unlikeErr
}

func (s *scriptedSource) Bookmark(ctx context.Context, post model.UnifiedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarked = append(s.bookmarked, post)
	return s.bookmarkErr
}

func (s *scriptedSource) Unbookmark(ctx context.Context, post model.UnifiedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbookmarked = append(s.unbookmarked, post)
	return s.bookmarkErr
}

func (s *scriptedSource) fetchCalls() []fetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fetchCall(nil), s.calls...)
}

// makePosts builds n posts for the platform with IDs seq, seq+1, ... and
// strictly descending timestamps so ordering assertions are deterministic.
func makePosts(platform model.Platform, seq, n int) []model.UnifiedPost {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	posts := make([]model.UnifiedPost, 0, n)
	for i := 0; i < n; i++ {
		id := seq + i
		posts = append(posts, model.UnifiedPost{
			ID:        fmt.Sprintf("%s:%06d", platform, id),
			Platform:  platform,
			NativeID:  fmt.Sprintf("%06d", id),
			BodyText:  fmt.Sprintf("post %d", id),
			CreatedAt: base.Add(-time.Duration(id) * time.Minute),
		})
	}
	return posts
}

// pageOf wraps posts in a successful fetchResponse with the given cursor.
func pageOf(posts []model.UnifiedPost, cursor string) fetchResponse {
	return fetchResponse{page: model.FeedPage{Posts: posts, NextCursor: cursor}}
}

// memCredStore is an in-memory CredentialStore.
type memCredStore struct {
	mu    sync.Mutex
	creds map[model.Platform]model.Credential

	saveErr error
	loadErr error
}

func newMemCredStore() *memCredStore {
	return &memCredStore{creds: make(map[model.Platform]model.Credential)}
}

func (m *memCredStore) Save(ctx context.Context, cred model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.creds[cred.BackendID] = cred
	return nil
}

func (m *memCredStore) Load(ctx context.Context, backendID model.Platform) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	cred, ok := m.creds[backendID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (m *memCredStore) Clear(ctx context.Context, backendID model.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, backendID)
	return nil
}
