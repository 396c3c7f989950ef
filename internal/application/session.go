package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mhsenkow/snapfeed/internal/adapter/driven/bluesky"
	"github.com/mhsenkow/snapfeed/internal/adapter/driven/mastodon"
	"github.com/mhsenkow/snapfeed/internal/domain/model"
	"github.com/mhsenkow/snapfeed/internal/domain/port/driven"
)

// FlowState tracks one Mastodon login attempt through the
// authorization-code grant. State is per attempt, not global: a completed
// or failed attempt resets to Unauthenticated for the next login.
type FlowState int

const (
	FlowUnauthenticated FlowState = iota
	FlowInstanceSelected
	FlowClientRegistered
	FlowAuthorizationPending
	FlowTokenExchanged
	FlowAuthenticated
)

// mastodonFlow is the single-use state of one in-progress login attempt.
type mastodonFlow struct {
	state        FlowState
	instanceURL  string
	registration model.ClientRegistration
	client       *mastodon.Client
}

// BackendState describes one backend's session for the presentation layer.
type BackendState struct {
	Platform      model.Platform `json:"platform"`
	Authenticated bool           `json:"authenticated"`
	Handle        string         `json:"handle,omitempty"`
	Instance      string         `json:"instance,omitempty"`
}

// SessionManager owns the auth lifecycle for both backends: restoring
// stored sessions at startup, running login flows, registering the
// resulting clients as timeline sources, and clearing everything on logout.
type SessionManager struct {
	creds    driven.CredentialStore
	timeline *TimelineService

	appName     string
	redirectURI string
	scopes      string
	blueskyPDS  string

	// Constructor hooks, overridden in tests to point at httptest servers.
	newMastodon func(instanceURL, token string) *mastodon.Client
	newBluesky  func(pds string) *bluesky.Client

	mu sync.Mutex
	// registrations caches per-instance OAuth clients for the process
	// lifetime; registration is never persisted.
	registrations map[string]model.ClientRegistration
	pending       *mastodonFlow
	handles       map[model.Platform]string
	instances     map[model.Platform]string
}

// NewSessionManager creates a SessionManager. redirectURI must match the
// URI later passed to the instance's authorize endpoint.
func NewSessionManager(creds driven.CredentialStore, timeline *TimelineService, appName, redirectURI, scopes, blueskyPDS string) *SessionManager {
	return &SessionManager{
		creds:         creds,
		timeline:      timeline,
		appName:       appName,
		redirectURI:   redirectURI,
		scopes:        scopes,
		blueskyPDS:    blueskyPDS,
		newMastodon:   mastodon.NewClient,
		newBluesky:    bluesky.NewClient,
		registrations: make(map[string]model.ClientRegistration),
		handles:       make(map[model.Platform]string),
		instances:     make(map[model.Platform]string),
	}
}

// Restore brings stored sessions back to life at startup. Each backend is
// independent: one failing to resume never blocks the other.
func (s *SessionManager) Restore(ctx context.Context) {
	if ok, err := s.restoreMastodon(ctx); err != nil {
		slog.Warn("mastodon session restore failed", "error", err)
	} else if ok {
		slog.Info("mastodon session restored")
	}

	if ok, err := s.ResumeBluesky(ctx); err != nil {
		slog.Warn("bluesky session resume failed", "error", err)
	} else if ok {
		slog.Info("bluesky session resumed")
	}
}

// restoreMastodon reinstates a stored Mastodon credential. Bearer tokens do
// not expire server-side, so no revalidation round-trip is made here; a
// revoked token surfaces as a fetch failure instead.
func (s *SessionManager) restoreMastodon(ctx context.Context) (bool, error) {
	cred, err := s.creds.Load(ctx, model.PlatformMastodon)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, nil
	}

	client := s.newMastodon(cred.Instance, cred.AccessToken)
	s.activate(client.Platform(), cred.OwnerHandle, cred.Instance)
	s.timeline.SetSource(client)
	return true, nil
}

// ResumeBluesky re-validates a stored Bluesky session with the backend.
// An expired or invalid session clears the stored credential and returns
// false rather than an error, so callers fall back to a fresh login prompt
// without crashing. When the access token is stale but a refresh token is
// held, one refresh attempt is made first.
func (s *SessionManager) ResumeBluesky(ctx context.Context) (bool, error) {
	cred, err := s.creds.Load(ctx, model.PlatformBluesky)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, nil
	}

	client := s.newBluesky(s.blueskyPDS)

	valid, err := client.ValidateSession(ctx, cred.DID, cred.AccessJWT)
	if err != nil {
		return false, err
	}

	if !valid && cred.Refreshable {
		sess, refreshErr := client.RefreshSession(ctx, cred.RefreshJWT)
		if refreshErr == nil {
			updated := *cred
			updated.AccessJWT = sess.AccessJwt
			updated.RefreshJWT = sess.RefreshJwt
			if saveErr := s.creds.Save(ctx, updated); saveErr != nil {
				slog.Warn("persisting refreshed bluesky session failed", "error", saveErr)
			}
			valid = true
		} else {
			slog.Debug("bluesky session refresh failed", "error", refreshErr)
		}
	}

	if !valid {
		if clearErr := s.creds.Clear(ctx, model.PlatformBluesky); clearErr != nil {
			slog.Warn("clearing stale bluesky credential failed", "error", clearErr)
		}
		return false, nil
	}

	s.activate(client.Platform(), cred.OwnerHandle, "")
	s.timeline.SetSource(client)
	return true, nil
}

// BeginMastodonLogin starts a login attempt against the chosen instance:
// register (or reuse) the OAuth client and build the authorization URL for
// the external user-interaction surface. The attempt stays pending until
// CompleteMastodonLogin consumes the redirect code.
func (s *SessionManager) BeginMastodonLogin(ctx context.Context, instanceURL string) (string, error) {
	flow := &mastodonFlow{state: FlowInstanceSelected, instanceURL: instanceURL}
	flow.client = s.newMastodon(instanceURL, "")

	s.mu.Lock()
	reg, cached := s.registrations[instanceURL]
	s.mu.Unlock()

	if !cached {
		var err error
		reg, err = flow.client.RegisterApp(ctx, s.appName, s.redirectURI, s.scopes)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.registrations[instanceURL] = reg
		s.mu.Unlock()
	}

	flow.registration = reg
	flow.state = FlowClientRegistered

	authURL := flow.client.AuthorizeURL(reg, s.redirectURI, s.scopes)
	flow.state = FlowAuthorizationPending

	s.mu.Lock()
	s.pending = flow
	s.mu.Unlock()

	return authURL, nil
}

// CompleteMastodonLogin exchanges the redirect code, verifies the identity
// behind the new token, and persists the credential. Any failure abandons
// the attempt; a token that cannot resolve an identity is never saved.
func (s *SessionManager) CompleteMastodonLogin(ctx context.Context, code string) (BackendState, error) {
	s.mu.Lock()
	flow := s.pending
	s.pending = nil
	s.mu.Unlock()

	if flow == nil || flow.state != FlowAuthorizationPending {
		return BackendState{}, fmt.Errorf("no mastodon login attempt in progress")
	}

	token, err := flow.client.ExchangeCode(ctx, flow.registration, s.redirectURI, code)
	if err != nil {
		return BackendState{}, err
	}
	flow.state = FlowTokenExchanged

	account, err := flow.client.VerifyCredentials(ctx, token)
	if err != nil {
		return BackendState{}, err
	}
	flow.state = FlowAuthenticated

	cred := model.Credential{
		BackendID:   model.PlatformMastodon,
		OwnerHandle: account.Acct,
		Instance:    flow.instanceURL,
		AccessToken: token,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.creds.Save(ctx, cred); err != nil {
		return BackendState{}, fmt.Errorf("persist mastodon credential: %w", err)
	}

	flow.client.SetToken(token)
	s.activate(model.PlatformMastodon, account.Acct, flow.instanceURL)
	s.timeline.SetSource(flow.client)

	slog.Info("mastodon login complete", "instance", flow.instanceURL, "handle", account.Acct)
	return s.backendState(model.PlatformMastodon), nil
}

// LoginBluesky performs the direct identifier+app-password login. The
// profile fetch afterwards is best-effort: its failure never fails the
// login.
func (s *SessionManager) LoginBluesky(ctx context.Context, identifier, password string) (BackendState, error) {
	client := s.newBluesky(s.blueskyPDS)

	sess, err := client.Login(ctx, identifier, password)
	if err != nil {
		return BackendState{}, fmt.Errorf("bluesky login: %w", err)
	}

	cred := model.Credential{
		BackendID:   model.PlatformBluesky,
		OwnerHandle: sess.Handle,
		DID:         sess.DID,
		AccessJWT:   sess.AccessJwt,
		RefreshJWT:  sess.RefreshJwt,
		Refreshable: sess.RefreshJwt != "",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.creds.Save(ctx, cred); err != nil {
		return BackendState{}, fmt.Errorf("persist bluesky credential: %w", err)
	}

	if profile, profileErr := client.GetProfile(ctx, sess.DID); profileErr != nil {
		slog.Debug("bluesky profile fetch failed after login", "error", profileErr)
	} else if profile.Handle != "" {
		cred.OwnerHandle = profile.Handle
	}

	s.activate(model.PlatformBluesky, cred.OwnerHandle, "")
	s.timeline.SetSource(client)

	slog.Info("bluesky login complete", "handle", cred.OwnerHandle)
	return s.backendState(model.PlatformBluesky), nil
}

// Logout clears the stored credential and unregisters the backend's source.
func (s *SessionManager) Logout(ctx context.Context, platform model.Platform) error {
	if err := s.creds.Clear(ctx, platform); err != nil {
		return fmt.Errorf("clear credential for %s: %w", platform, err)
	}

	s.mu.Lock()
	delete(s.handles, platform)
	delete(s.instances, platform)
	s.mu.Unlock()

	s.timeline.RemoveSource(platform)
	slog.Info("logged out", "platform", platform)
	return nil
}

// States reports both backends' session state.
func (s *SessionManager) States() []BackendState {
	return []BackendState{
		s.backendState(model.PlatformMastodon),
		s.backendState(model.PlatformBluesky),
	}
}

func (s *SessionManager) backendState(platform model.Platform) BackendState {
	s.mu.Lock()
	handle, ok := s.handles[platform]
	instance := s.instances[platform]
	s.mu.Unlock()

	return BackendState{
		Platform:      platform,
		Authenticated: ok,
		Handle:        handle,
		Instance:      instance,
	}
}

func (s *SessionManager) activate(platform model.Platform, handle, instance string) {
	s.mu.Lock()
	s.handles[platform] = handle
	if instance != "" {
		s.instances[platform] = instance
	}
	s.mu.Unlock()
}

func errNotAuthenticated(platform model.Platform) error {
	return fmt.Errorf("backend %s is not authenticated", platform)
}
