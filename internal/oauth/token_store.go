package oauth

import (
	"context"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sheetgate/pkg/logging"
)

// TokenStore persists one TokenPair per principal.
type TokenStore interface {
	Save(ctx context.Context, principal string, pair *TokenPair) error
	// Load returns (nil, nil) when the principal has never stored a credential.
	Load(ctx context.Context, principal string) (*TokenPair, error)
	Delete(ctx context.Context, principal string) error
	List(ctx context.Context) ([]string, error)
}

const (
	tokenFileExt    = ".json"
	tempFilePattern = ".tmp-*"
)

// EncryptedTokenStore keeps each principal's TokenPair in its own AES-256-GCM
// envelope file.
//
// SECURITY:
//   - The directory is created 0700 and files are written 0600
//   - Files are replaced by write-to-temp-then-rename, never edited in place
//   - A record that fails authentication is reported as KindTokenStoreCorrupted,
//     never as "absent"
//   - Token values are never logged
type EncryptedTokenStore struct {
	dir     string
	aead    cipher.AEAD
	locks   keyedMutex
	metrics *Metrics
}

// NewEncryptedTokenStore creates the store rooted at dir with a 32-byte key.
func NewEncryptedTokenStore(dir string, key []byte, metrics *Metrics) (*EncryptedTokenStore, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}
	return &EncryptedTokenStore{
		dir:     dir,
		aead:    aead,
		metrics: metrics,
	}, nil
}

// Dir returns the storage directory.
func (s *EncryptedTokenStore) Dir() string {
	return s.dir
}

// PrincipalKey maps a principal to its filesystem-safe file key.
func PrincipalKey(principal string) string {
	hash := sha256.Sum256([]byte(principal))
	return hex.EncodeToString(hash[:16])
}

func (s *EncryptedTokenStore) path(principal string) string {
	return filepath.Join(s.dir, PrincipalKey(principal)+tokenFileExt)
}

// Save encrypts pair and atomically replaces the principal's record.
func (s *EncryptedTokenStore) Save(_ context.Context, principal string, pair *TokenPair) error {
	unlock := s.locks.Lock(principal)
	defer unlock()

	rec, err := sealTokenPair(s.aead, principal, pair)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode token record: %w", err)
	}
	if err := writeFileAtomic(s.dir, s.path(principal), data); err != nil {
		s.metrics.storeFailure("")
		return fmt.Errorf("failed to write token record: %w", err)
	}

	logging.Debug("TokenStore", "Saved credential for principal=%s", logging.TruncateID(principal))
	return nil
}

// Load decrypts the principal's record.
func (s *EncryptedTokenStore) Load(_ context.Context, principal string) (*TokenPair, error) {
	unlock := s.locks.Lock(principal)
	defer unlock()

	pair, err := s.load(principal)
	if err != nil && KindOf(err) == KindTokenStoreCorrupted {
		s.metrics.storeFailure(KindTokenStoreCorrupted)
		logging.Audit("token_store_corrupted",
			"principal", logging.TruncateID(principal),
			"reason", MessageOf(err))
	}
	return pair, err
}

func (s *EncryptedTokenStore) load(principal string) (*TokenPair, error) {
	// #nosec G304 -- path is derived from a hash of the principal
	data, err := os.ReadFile(s.path(principal))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token record: %w", err)
	}

	var rec EncryptedTokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, newError(KindTokenStoreCorrupted, "token record is not a valid envelope", err)
	}
	return openTokenPair(s.aead, principal, &rec)
}

// Delete removes the principal's record. Deleting a missing record is not an error.
func (s *EncryptedTokenStore) Delete(_ context.Context, principal string) error {
	unlock := s.locks.Lock(principal)
	defer unlock()

	err := os.Remove(s.path(principal))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	logging.Audit("token_deleted", "principal", logging.TruncateID(principal))
	return nil
}

// List returns the principals with a stored record, sorted. Unreadable
// envelopes are skipped with a warning; Load reports them precisely.
func (s *EncryptedTokenStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list token records: %w", err)
	}

	var principals []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, tokenFileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		// #nosec G304 -- name comes from our own directory listing
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var rec EncryptedTokenRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.Principal == "" {
			logging.Warn("TokenStore", "Skipping unreadable token record %s", name)
			continue
		}
		if PrincipalKey(rec.Principal)+tokenFileExt != name {
			logging.Warn("TokenStore", "Skipping token record %s with mismatched principal", name)
			continue
		}
		principals = append(principals, rec.Principal)
	}
	sort.Strings(principals)
	return principals, nil
}

// writeFileAtomic writes data to a temp file in dir and renames it over path,
// so readers see either the old or the new record in full.
func writeFileAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}
	return syncDir(dir)
}

// syncDir flushes dir so a completed rename or removal survives a crash.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
