// Package bluesky implements the TimelineSource port for the session
// backend over AT Protocol XRPC: identifier+app-password login, session
// resumption, cursor-paginated timeline fetch, and like records.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
	"github.com/mhsenkow/snapfeed/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TimelineSource = (*Client)(nil)

const defaultPDS = "https://bsky.social"

const requestTimeout = 30 * time.Second

// Session is the pair returned by createSession plus the account identity.
type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// Client talks to one PDS (personal data server). Login or SetSession must
// run before any authenticated call.
type Client struct {
	pds        string
	httpClient *http.Client

	accessJwt string
	did       string
	feed      Feed
	actor     string // handle or DID for the author feed
}

// Feed selects which feed endpoint FetchPage reads.
type Feed string

const (
	// FeedTimeline is the viewer's following timeline.
	FeedTimeline Feed = "timeline"
	// FeedAuthor is a single actor's post feed.
	FeedAuthor Feed = "author"
)

// NewClient creates a client for the given PDS. An empty pds defaults to
// https://bsky.social.
func NewClient(pds string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	return &Client{
		pds: strings.TrimRight(pds, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		feed: FeedTimeline,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client,
// intended for injecting an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, pds string) *Client {
	return &Client{
		pds:        strings.TrimRight(pds, "/"),
		httpClient: httpClient,
		feed:       FeedTimeline,
	}
}

// SetSession installs a previously established session, e.g. one restored
// from the credential store.
func (c *Client) SetSession(did, accessJwt string) {
	c.did = did
	c.accessJwt = accessJwt
}

// SetFeed selects which feed FetchPage reads. actor is required for
// FeedAuthor and ignored otherwise. Callers discard any held cursor when
// switching.
func (c *Client) SetFeed(feed Feed, actor string) {
	c.feed = feed
	c.actor = actor
}

// Platform identifies this source as the session backend.
func (c *Client) Platform() model.Platform { return model.PlatformBluesky }

// DID returns the authenticated account's DID; empty before login.
func (c *Client) DID() string { return c.did }

// Login authenticates against com.atproto.server.createSession with an
// identifier and app password, installs the session on the client, and
// returns it for persistence.
func (c *Client) Login(ctx context.Context, identifier, password string) (Session, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var sess Session
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &sess); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = sess.AccessJwt
	c.did = sess.DID
	return sess, nil
}

// ValidateSession checks a stored access token against
// com.atproto.server.getSession. It returns false (with no error) when the
// server rejects the token, so callers can fall back to a fresh login.
func (c *Client) ValidateSession(ctx context.Context, did, accessJwt string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pds+"/xrpc/com.atproto.server.getSession", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}

	c.did = did
	c.accessJwt = accessJwt
	return true, nil
}

// RefreshSession trades a refresh token for a new session pair via
// com.atproto.server.refreshSession and installs it on the client.
func (c *Client) RefreshSession(ctx context.Context, refreshJwt string) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return Session{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, fmt.Errorf("refresh session: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}

	c.accessJwt = sess.AccessJwt
	c.did = sess.DID
	return sess, nil
}

// Profile is the subset of an actor profile the engine reads after login.
type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// GetProfile fetches an actor's profile. Login treats a failure here as
// non-fatal.
func (c *Client) GetProfile(ctx context.Context, actor string) (Profile, error) {
	var profile Profile
	path := "/xrpc/app.bsky.actor.getProfile?actor=" + url.QueryEscape(actor)
	if err := c.get(ctx, path, &profile); err != nil {
		return Profile{}, fmt.Errorf("get profile for %s: %w", actor, err)
	}
	return profile, nil
}

// FetchPage retrieves one feed page. The cursor is the opaque token the
// previous page returned; the server omits it when the feed is exhausted.
func (c *Client) FetchPage(ctx context.Context, cursor string, limit int) (model.FeedPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	path := "/xrpc/app.bsky.feed.getTimeline"
	if c.feed == FeedAuthor {
		path = "/xrpc/app.bsky.feed.getAuthorFeed"
		q.Set("actor", c.actor)
	}

	var resp timelineResponse
	if err := c.get(ctx, path+"?"+q.Encode(), &resp); err != nil {
		return model.FeedPage{}, fmt.Errorf("fetch %s feed: %w", c.feed, err)
	}

	page := model.FeedPage{
		Posts:      make([]model.UnifiedPost, 0, len(resp.Feed)),
		NextCursor: resp.Cursor,
	}
	for _, item := range resp.Feed {
		page.Posts = append(page.Posts, normalizeFeedItem(item))
	}
	return page, nil
}

// likeRecord is the app.bsky.feed.like record body.
type likeRecord struct {
	Type      string  `json:"$type"`
	Subject   postRef `json:"subject"`
	CreatedAt string  `json:"createdAt"`
}

type postRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Like creates an app.bsky.feed.like record pointing at the post and
// returns the created record's at-uri. Unliking later deletes that record,
// so the caller must retain the reference.
func (c *Client) Like(ctx context.Context, post model.UnifiedPost) (string, error) {
	if c.accessJwt == "" {
		return "", fmt.Errorf("not authenticated: call Login first")
	}

	body := map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.like",
		"record": likeRecord{
			Type:      "app.bsky.feed.like",
			Subject:   postRef{URI: post.NativeID, CID: post.NativeCID},
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}

	var resp struct {
		URI string `json:"uri"`
	}
	if err := c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp); err != nil {
		return "", fmt.Errorf("create like record: %w", err)
	}
	return resp.URI, nil
}

// Unlike deletes the viewer's like record for the post.
func (c *Client) Unlike(ctx context.Context, post model.UnifiedPost) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}

	rkey, err := recordKey(post.ViewerLikeURI)
	if err != nil {
		return fmt.Errorf("unlike %s: %w", post.NativeID, err)
	}

	body := map[string]string{
		"repo":       c.did,
		"collection": "app.bsky.feed.like",
		"rkey":       rkey,
	}

	if err := c.post(ctx, "/xrpc/com.atproto.repo.deleteRecord", body, nil); err != nil {
		return fmt.Errorf("delete like record: %w", err)
	}
	return nil
}

// Bookmark is not a concept on this backend.
func (c *Client) Bookmark(ctx context.Context, post model.UnifiedPost) error {
	return model.ErrUnsupportedEngagement
}

// Unbookmark is not a concept on this backend.
func (c *Client) Unbookmark(ctx context.Context, post model.UnifiedPost) error {
	return model.ErrUnsupportedEngagement
}

// recordKey extracts the rkey from an at-uri like
// at://did:plc:abc/app.bsky.feed.like/3kxyz.
func recordKey(atURI string) (string, error) {
	idx := strings.LastIndex(atURI, "/")
	if atURI == "" || idx < 0 || idx == len(atURI)-1 {
		return "", fmt.Errorf("no record key in %q", atURI)
	}
	return atURI[idx+1:], nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pds+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &model.RateLimitError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &model.RateLimitError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
