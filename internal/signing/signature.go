package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// P-384 scalars are 48 bytes, so a raw r||s signature is 96.
const (
	scalarSize    = 48
	SignatureSize = 2 * scalarSize
)

// ErrInvalidSignature is returned when a signature cannot be decoded.
var ErrInvalidSignature = errors.New("invalid signature encoding")

// Digest returns the SHA-384 digest of data.
func Digest(data []byte) []byte {
	sum := sha512.Sum384(data)
	return sum[:]
}

// Sign hashes data with SHA-384 and signs it. The signature is returned in
// raw r||s form, each half left-padded to 48 bytes.
func Sign(data []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, ErrInvalidPrivateKey
	}

	r, s, err := ecdsa.Sign(rand.Reader, priv, Digest(data))
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:scalarSize])
	s.FillBytes(sig[scalarSize:])
	return sig, nil
}

// Verify checks a raw r||s signature over data. It returns false for any
// signature that does not verify, including ones of the wrong length.
func Verify(data, sig []byte, pub *ecdsa.PublicKey) bool {
	if pub == nil || len(sig) != SignatureSize {
		return false
	}

	r := new(big.Int).SetBytes(sig[:scalarSize])
	s := new(big.Int).SetBytes(sig[scalarSize:])

	return ecdsa.Verify(pub, Digest(data), r, s)
}

// DecodeSignatureHex parses a hex encoded signature.
func DecodeSignatureHex(text string) ([]byte, error) {
	sig, err := hex.DecodeString(text)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return sig, nil
}
