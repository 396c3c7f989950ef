package driven

import (
	"context"
	"errors"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// SNAPFEED_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set SNAPFEED_SECRET_KEY")

// CredentialStore defines the driven port for durable credential persistence,
// one record per backend. The adapter encrypts at rest; this interface
// operates on plaintext Credential values at the domain boundary. The store
// never validates token freshness -- that is the auth clients' job.
type CredentialStore interface {
	// Save stores or replaces the credential for its backend.
	// A storage failure is reported synchronously to the caller.
	Save(ctx context.Context, cred model.Credential) error

	// Load retrieves the credential for the given backend.
	// Returns (nil, nil) when none is stored.
	Load(ctx context.Context, backendID model.Platform) (*model.Credential, error)

	// Clear removes the credential for the given backend. Clearing an absent
	// credential is not an error.
	Clear(ctx context.Context, backendID model.Platform) error
}
