// Package keyring stores client secrets on the local filesystem.
//
// The encrypted private key, the session token and a cached copy of the
// user's public key each live in their own file under a directory that is
// only readable by the current user.
package keyring

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/signsure/signsure/internal/signing"
)

const (
	dirName = "signsure"

	encryptedKeyFile = "encrypted_private_key"
	sessionFile      = "session"
	publicKeyFile    = "public_key"

	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// Keyring errors.
var (
	ErrNoKey       = errors.New("no encrypted private key stored")
	ErrNoSession   = errors.New("not logged in")
	ErrNoPublicKey = errors.New("no public key stored")
)

// Keyring is a directory of client secrets.
type Keyring struct {
	dir string
}

// DefaultDir returns the keyring directory under the user config dir.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	return filepath.Join(base, dirName), nil
}

// Open returns a Keyring rooted at dir, creating it if needed.
func Open(dir string) (*Keyring, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create keyring dir: %w", err)
	}
	return &Keyring{dir: dir}, nil
}

// Dir returns the keyring directory.
func (k *Keyring) Dir() string {
	return k.dir
}

// SaveEncryptedKey stores an encrypted private key blob, replacing any
// existing one. The blob's framing is checked before it is written.
func (k *Keyring) SaveEncryptedKey(blob string) error {
	blob = strings.TrimSpace(blob)
	if err := signing.ValidateBlob(blob); err != nil {
		return err
	}
	return k.write(encryptedKeyFile, blob)
}

// LoadEncryptedKey returns the stored blob or ErrNoKey.
func (k *Keyring) LoadEncryptedKey() (string, error) {
	return k.read(encryptedKeyFile, ErrNoKey)
}

// HasEncryptedKey reports whether a blob is stored.
func (k *Keyring) HasEncryptedKey() bool {
	_, err := k.LoadEncryptedKey()
	return err == nil
}

// SaveSession stores the session token.
func (k *Keyring) SaveSession(token string) error {
	return k.write(sessionFile, token)
}

// LoadSession returns the session token or ErrNoSession.
func (k *Keyring) LoadSession() (string, error) {
	return k.read(sessionFile, ErrNoSession)
}

// ClearSession removes the session token. It is not an error if none exists.
func (k *Keyring) ClearSession() error {
	err := os.Remove(k.path(sessionFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// SavePublicKey caches the user's base64 SPKI public key.
func (k *Keyring) SavePublicKey(publicKey string) error {
	return k.write(publicKeyFile, publicKey)
}

// LoadPublicKey returns the cached public key or ErrNoPublicKey.
func (k *Keyring) LoadPublicKey() (string, error) {
	return k.read(publicKeyFile, ErrNoPublicKey)
}

func (k *Keyring) path(name string) string {
	return filepath.Join(k.dir, name)
}

// write replaces the file atomically via a temp file in the same directory.
func (k *Keyring) write(name, value string) error {
	tmp, err := os.CreateTemp(k.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, k.path(name)); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

func (k *Keyring) read(name string, missing error) (string, error) {
	data, err := os.ReadFile(k.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", missing
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", missing
	}
	return value, nil
}
