// Package mastodon implements the TimelineSource port for the federated
// backend: per-instance OAuth client registration, code exchange, timeline
// fetch with max_id cursors, and favourite/bookmark mutations.
package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
	"github.com/mhsenkow/snapfeed/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TimelineSource = (*Client)(nil)

// Feed selects which timeline endpoint FetchPage reads.
type Feed string

const (
	// FeedPublic is the instance's federated public timeline.
	FeedPublic Feed = "public"
	// FeedLocal is the public timeline restricted to local accounts.
	FeedLocal Feed = "local"
	// FeedHome is the authenticated user's home timeline.
	FeedHome Feed = "home"
)

const requestTimeout = 30 * time.Second

// Client talks to one Mastodon instance. The zero token is valid for the
// unauthenticated registration and exchange calls; timeline and engagement
// calls require a token.
type Client struct {
	instanceURL string
	httpClient  *http.Client
	token       string
	feed        Feed
}

// NewClient creates a client for the given instance URL. Timeline GETs go
// through an in-memory ETag cache so unchanged pages cost the instance a
// conditional request only.
func NewClient(instanceURL, token string) *Client {
	return &Client{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		httpClient: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   requestTimeout,
		},
		token: token,
		feed:  FeedPublic,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client,
// intended for injecting an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, instanceURL, token string) *Client {
	return &Client{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		httpClient:  httpClient,
		token:       token,
		feed:        FeedPublic,
	}
}

// SetToken installs the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// SetFeed selects which timeline FetchPage reads. Callers are responsible
// for discarding any held cursor when switching feeds.
func (c *Client) SetFeed(feed Feed) { c.feed = feed }

// Platform identifies this source as the federated backend.
func (c *Client) Platform() model.Platform { return model.PlatformMastodon }

// InstanceURL returns the instance this client is bound to.
func (c *Client) InstanceURL() string { return c.instanceURL }

// Account is the subset of a Mastodon account used for identity verification.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

// RegisterApp registers a new OAuth client with the instance via POST
// /api/v1/apps. If the instance answers 429 the call retries exactly once
// with a timestamp-suffixed client name: some instances rate-limit
// registration per client name, and a distinguishing name dodges that limit.
// This is a workaround for that one behavior, not a general retry policy.
// Any other non-2xx response is a terminal *model.RegistrationError.
func (c *Client) RegisterApp(ctx context.Context, clientName, redirectURI, scopes string) (model.ClientRegistration, error) {
	reg, status, err := c.registerOnce(ctx, clientName, redirectURI, scopes)
	if err == nil {
		return reg, nil
	}
	if status != http.StatusTooManyRequests {
		return model.ClientRegistration{}, err
	}

	suffixed := fmt.Sprintf("%s-%d", clientName, time.Now().Unix())
	reg, _, err = c.registerOnce(ctx, suffixed, redirectURI, scopes)
	if err != nil {
		return model.ClientRegistration{}, err
	}
	return reg, nil
}

func (c *Client) registerOnce(ctx context.Context, clientName, redirectURI, scopes string) (model.ClientRegistration, int, error) {
	form := url.Values{
		"client_name":   {clientName},
		"redirect_uris": {redirectURI},
		"scopes":        {scopes},
	}

	body, status, err := c.postForm(ctx, "/api/v1/apps", form)
	if err != nil {
		return model.ClientRegistration{}, 0, fmt.Errorf("register app with %s: %w", c.instanceURL, err)
	}
	if status < 200 || status >= 300 {
		return model.ClientRegistration{}, status, &model.RegistrationError{
			Instance:   c.instanceURL,
			StatusCode: status,
			Body:       truncate(string(body), 200),
		}
	}

	var resp struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.ClientRegistration{}, status, fmt.Errorf("decode app registration from %s: %w", c.instanceURL, err)
	}

	return model.ClientRegistration{
		InstanceURL:  c.instanceURL,
		ClientID:     resp.ClientID,
		ClientSecret: resp.ClientSecret,
	}, status, nil
}

// AuthorizeURL builds the browser URL that starts the authorization-code
// grant. The engine hands this to an external user-interaction surface and
// waits for the redirect callback.
func (c *Client) AuthorizeURL(reg model.ClientRegistration, redirectURI, scopes string) string {
	q := url.Values{
		"client_id":     {reg.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {scopes},
	}
	return c.instanceURL + "/oauth/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for an access token via POST
// /oauth/token. A non-2xx response or a body without access_token is a
// terminal *model.AuthExchangeError carrying the instance's
// error_description when it sent one.
func (c *Client) ExchangeCode(ctx context.Context, reg model.ClientRegistration, redirectURI, code string) (string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}

	body, status, err := c.postForm(ctx, "/oauth/token", form)
	if err != nil {
		return "", fmt.Errorf("exchange code with %s: %w", c.instanceURL, err)
	}

	var resp struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	// Best-effort decode: error bodies are JSON too.
	_ = json.Unmarshal(body, &resp)

	if status < 200 || status >= 300 || resp.AccessToken == "" {
		return "", &model.AuthExchangeError{
			Instance:    c.instanceURL,
			StatusCode:  status,
			Description: resp.ErrorDescription,
		}
	}

	return resp.AccessToken, nil
}

// VerifyCredentials resolves the canonical identity behind a token via GET
// /api/v1/accounts/verify_credentials. A token that cannot resolve an
// identity must not be persisted, so any failure wraps
// model.ErrCredentialVerification.
func (c *Client) VerifyCredentials(ctx context.Context, token string) (Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.instanceURL+"/api/v1/accounts/verify_credentials", nil)
	if err != nil {
		return Account{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", model.ErrCredentialVerification, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Account{}, fmt.Errorf("%w: read response: %v", model.ErrCredentialVerification, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Account{}, fmt.Errorf("%w: %s returned status %d", model.ErrCredentialVerification, c.instanceURL, resp.StatusCode)
	}

	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return Account{}, fmt.Errorf("%w: decode account: %v", model.ErrCredentialVerification, err)
	}
	return account, nil
}

// FetchPage retrieves one timeline page. The cursor is the max_id boundary:
// the instance returns statuses strictly older than it, and the next cursor
// is the trailing status's ID (the platform's documented pagination
// contract).
func (c *Client) FetchPage(ctx context.Context, cursor string, limit int) (model.FeedPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("max_id", cursor)
	}

	path := "/api/v1/timelines/public"
	switch c.feed {
	case FeedLocal:
		q.Set("local", "true")
	case FeedHome:
		path = "/api/v1/timelines/home"
	}

	body, status, header, err := c.get(ctx, path+"?"+q.Encode())
	if err != nil {
		return model.FeedPage{}, fmt.Errorf("fetch %s timeline from %s: %w", c.feed, c.instanceURL, err)
	}
	if status == http.StatusTooManyRequests {
		return model.FeedPage{}, &model.RateLimitError{RetryAfter: retryAfter(header)}
	}
	if status < 200 || status >= 300 {
		return model.FeedPage{}, fmt.Errorf("fetch %s timeline from %s: status %d", c.feed, c.instanceURL, status)
	}

	var statuses []apiStatus
	if err := json.Unmarshal(body, &statuses); err != nil {
		return model.FeedPage{}, fmt.Errorf("decode timeline from %s: %w", c.instanceURL, err)
	}

	page := model.FeedPage{Posts: make([]model.UnifiedPost, 0, len(statuses))}
	for _, s := range statuses {
		page.Posts = append(page.Posts, normalizeStatus(s))
	}
	if len(statuses) > 0 {
		page.NextCursor = statuses[len(statuses)-1].ID
	}
	return page, nil
}

// Like favourites the status. The returned like reference is always empty
// for Mastodon; unfavouriting needs only the status ID.
func (c *Client) Like(ctx context.Context, post model.UnifiedPost) (string, error) {
	return "", c.statusAction(ctx, post.NativeID, "favourite")
}

// Unlike removes the viewer's favourite from the status.
func (c *Client) Unlike(ctx context.Context, post model.UnifiedPost) error {
	return c.statusAction(ctx, post.NativeID, "unfavourite")
}

// Bookmark adds the status to the viewer's bookmarks.
func (c *Client) Bookmark(ctx context.Context, post model.UnifiedPost) error {
	return c.statusAction(ctx, post.NativeID, "bookmark")
}

// Unbookmark removes the status from the viewer's bookmarks.
func (c *Client) Unbookmark(ctx context.Context, post model.UnifiedPost) error {
	return c.statusAction(ctx, post.NativeID, "unbookmark")
}

// statusAction POSTs to /api/v1/statuses/{id}/{action}.
func (c *Client) statusAction(ctx context.Context, statusID, action string) error {
	path := fmt.Sprintf("/api/v1/statuses/%s/%s", url.PathEscape(statusID), action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s status %s: %w", action, statusID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &model.RateLimitError{RetryAfter: retryAfter(resp.Header)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s status %s: status %d", action, statusID, resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.instanceURL+path, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// retryAfter parses the Retry-After header as delay seconds; absent or
// unparseable values return zero.
func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
