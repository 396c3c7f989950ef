package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
	"github.com/mhsenkow/snapfeed/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// Each backend's credential is serialized to JSON and encrypted with
// AES-256-GCM before write; the stored blob is opaque to everything outside
// this adapter.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable credential storage (all operations return
// driven.ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Save stores or replaces the credential for its backend.
func (r *CredentialRepo) Save(ctx context.Context, cred model.Credential) error {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential for %q: %w", cred.BackendID, err)
	}

	encrypted, err := r.encrypt(plaintext)
	if err != nil {
		return err
	}

	const query = `INSERT OR REPLACE INTO credentials (backend_id, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`
	_, err = r.db.Writer.ExecContext(ctx, query, string(cred.BackendID), encrypted)
	if err != nil {
		return fmt.Errorf("save credential for %q: %w", cred.BackendID, err)
	}
	return nil
}

// Load retrieves the credential for the given backend.
// Returns (nil, nil) when none is stored.
func (r *CredentialRepo) Load(ctx context.Context, backendID model.Platform) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT value FROM credentials WHERE backend_id = ?`
	var encrypted string
	err := r.db.Reader.QueryRowContext(ctx, query, string(backendID)).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential for %q: %w", backendID, err)
	}

	plaintext, err := r.decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential for %q: %w", backendID, err)
	}

	var cred model.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential for %q: %w", backendID, err)
	}
	return &cred, nil
}

// Clear removes the credential for the given backend.
func (r *CredentialRepo) Clear(ctx context.Context, backendID model.Platform) error {
	const query = `DELETE FROM credentials WHERE backend_id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, string(backendID))
	if err != nil {
		return fmt.Errorf("clear credential for %q: %w", backendID, err)
	}
	return nil
}

// encrypt encrypts plaintext with AES-256-GCM and returns a base64 string of
// nonce || ciphertext || tag.
func (r *CredentialRepo) encrypt(plaintext []byte) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}

	return plaintext, nil
}
