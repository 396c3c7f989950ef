package model

import "time"

// Credential holds the session material for one backend. It is created on
// successful auth, destroyed on logout or resumption failure, and owned
// exclusively by the credential store; every other component treats it as
// read-only.
type Credential struct {
	BackendID   Platform  `json:"backend_id"`
	OwnerHandle string    `json:"owner_handle"`
	CreatedAt   time.Time `json:"created_at"`

	// Mastodon fields.
	Instance    string `json:"instance,omitempty"`
	AccessToken string `json:"access_token,omitempty"`

	// Bluesky fields. Refreshable is true when a refresh JWT is present.
	DID         string `json:"did,omitempty"`
	AccessJWT   string `json:"access_jwt,omitempty"`
	RefreshJWT  string `json:"refresh_jwt,omitempty"`
	Refreshable bool   `json:"refreshable"`
}

// ClientRegistration is a per-instance OAuth client created lazily on the
// first auth attempt against a Mastodon instance. It is cached for the
// process lifetime and never persisted: registration is instance-specific
// and re-deriving it after a restart is cheaper than storing a secret.
type ClientRegistration struct {
	InstanceURL  string
	ClientID     string
	ClientSecret string
}
