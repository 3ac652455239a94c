package signing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

// Key wrapping parameters. The blob layout is base64(salt || iv || ciphertext).
const (
	pbkdf2Iterations = 100_000
	saltSize         = 16
	ivSize           = 12
	aesKeySize       = 32

	// MinPassphraseLength is the shortest passphrase, in characters, that
	// EncryptPrivateKey accepts.
	MinPassphraseLength = 8

	minBlobSize = saltSize + ivSize
)

// Key wrapping errors.
var (
	ErrWeakPassphrase   = errors.New("passphrase must be at least 8 characters")
	ErrInvalidBlob      = errors.New("encrypted key is not valid base64")
	ErrBlobTooShort     = errors.New("encrypted key is too short")
	ErrDecryptionFailed = errors.New("incorrect passphrase or corrupted data")
)

// StrongEnough reports whether passphrase has at least MinPassphraseLength
// characters. Multi-byte characters count once.
func StrongEnough(passphrase string) bool {
	return utf8.RuneCountInString(passphrase) >= MinPassphraseLength
}

// EncryptPrivateKey wraps PKCS#8 key material under a passphrase.
// The AES-256-GCM key is derived with PBKDF2-HMAC-SHA256 over a random salt.
func EncryptPrivateKey(der []byte, passphrase string) (string, error) {
	if !StrongEnough(passphrase) {
		return "", ErrWeakPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, saltSize+ivSize+len(der)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = gcm.Seal(blob, iv, der, nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey. A wrong passphrase and a
// tampered blob both fail GCM authentication and return ErrDecryptionFailed.
func DecryptPrivateKey(blob, passphrase string) ([]byte, error) {
	if blob == "" {
		return nil, ErrInvalidBlob
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrInvalidBlob
	}
	if len(raw) < minBlobSize {
		return nil, ErrBlobTooShort
	}

	salt := raw[:saltSize]
	iv := raw[saltSize:minBlobSize]
	ciphertext := raw[minBlobSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// ValidateBlob checks the blob's framing without decrypting it.
func ValidateBlob(blob string) error {
	if blob == "" {
		return ErrInvalidBlob
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return ErrInvalidBlob
	}
	if len(raw) < minBlobSize {
		return ErrBlobTooShort
	}
	return nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, aesKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
