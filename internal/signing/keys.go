// Package signing implements the client-side cryptography for SignSure.
//
// Keys are ECDSA P-384. Public keys travel as base64 SPKI, private keys as
// PKCS#8 DER wrapped under a passphrase (see EncryptPrivateKey). Signatures
// are SHA-384 digests signed in raw r||s form.
package signing

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Key errors.
var (
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrUnsupportedCurve  = errors.New("key is not an ECDSA P-384 key")
)

// KeyPair is a freshly generated signing identity.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	// PublicKey is the base64 SPKI encoding sent to the server.
	PublicKey string
	// PrivateKeyDER is the PKCS#8 DER encoding that gets wrapped for storage.
	PrivateKeyDER []byte
}

// GenerateKeyPair creates a new P-384 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	pub, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		Private:       priv,
		PublicKey:     pub,
		PrivateKeyDER: der,
	}, nil
}

// MarshalPublicKey encodes a public key as base64 SPKI.
func MarshalPublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ParsePublicKey accepts base64 SPKI or a PEM "PUBLIC KEY" block.
func ParsePublicKey(text string) (*ecdsa.PublicKey, error) {
	der, err := decodeText(text)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return nil, ErrUnsupportedCurve
	}
	return pub, nil
}

// ParsePrivateKey accepts PKCS#8 DER bytes, base64 text, or PEM text.
// SEC 1 "EC PRIVATE KEY" blocks are accepted as well.
func ParsePrivateKey(material []byte) (*ecdsa.PrivateKey, error) {
	if len(material) == 0 {
		return nil, ErrInvalidPrivateKey
	}

	if key, err := x509.ParsePKCS8PrivateKey(material); err == nil {
		return asP384(key)
	}

	der, err := decodeText(string(material))
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return asP384(key)
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return asP384(key)
	}

	return nil, ErrInvalidPrivateKey
}

func asP384(key any) (*ecdsa.PrivateKey, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok || priv.Curve != elliptic.P384() {
		return nil, ErrUnsupportedCurve
	}
	return priv, nil
}

// decodeText unwraps PEM or base64 text into DER bytes.
func decodeText(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty key material")
	}

	if strings.HasPrefix(trimmed, "-----BEGIN") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil {
			return nil, errors.New("malformed PEM block")
		}
		return block.Bytes, nil
	}

	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, trimmed)

	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, err
	}
	return der, nil
}

// EncodePublicKeyPEM renders a base64 SPKI key as PEM, for users who want
// a file other tools can read.
func EncodePublicKeyPEM(publicKey string) (string, error) {
	der, err := decodeText(publicKey)
	if err != nil {
		return "", ErrInvalidPublicKey
	}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "PUBLIC KEY", Bytes: der}); err != nil {
		return "", fmt.Errorf("failed to encode PEM: %w", err)
	}
	return buf.String(), nil
}
