package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrCredentialVerification indicates a freshly exchanged token could not
// resolve an identity. A token that cannot be verified is never persisted.
var ErrCredentialVerification = errors.New("credential verification failed")

// ErrUnsupportedEngagement is returned when an engagement kind has no
// equivalent on the post's backend (bookmarks on Bluesky).
var ErrUnsupportedEngagement = errors.New("engagement kind not supported by this backend")

// RegistrationError is a terminal failure registering an OAuth client with a
// Mastodon instance. It carries the instance and status so the caller can
// retry manually.
type RegistrationError struct {
	Instance   string
	StatusCode int
	Body       string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("client registration with %s failed (status %d): %s", e.Instance, e.StatusCode, e.Body)
}

// AuthExchangeError is a terminal failure exchanging an authorization code
// for an access token. Description is the instance-provided
// error_description when present.
type AuthExchangeError struct {
	Instance    string
	StatusCode  int
	Description string
}

func (e *AuthExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token exchange with %s failed (status %d): %s", e.Instance, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("token exchange with %s failed (status %d)", e.Instance, e.StatusCode)
}

// RateLimitError signals an HTTP 429 from a backend. The fetch engine
// recovers from it internally with a single cooldown-and-retry; it only
// escapes to callers when that retry also fails.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// ToggleError reports a failed engagement toggle. By the time a caller sees
// it the optimistic local mutation has already been rolled back.
type ToggleError struct {
	PostID string
	Kind   EngagementKind
	Err    error
}

func (e *ToggleError) Error() string {
	return fmt.Sprintf("toggle %s on %s failed: %v", e.Kind, e.PostID, e.Err)
}

func (e *ToggleError) Unwrap() error { return e.Err }
