package signing

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MaxDocumentSize is the largest document SignDocument accepts (10 MiB).
	MaxDocumentSize = 10 << 20

	// ArtifactSuffix is appended to the document name to form the artifact file name.
	ArtifactSuffix = ".sig.txt"

	artifactHeader     = "Signed by SignSure"
	fileLinePrefix     = "Original File: "
	hashLinePrefix     = "SHA-384 Hash: "
	signatureLineLabel = "Signature (hex, raw r||s, ECDSA P-384):"
)

// Artifact errors.
var (
	ErrDocumentTooLarge  = errors.New("document exceeds 10 MiB limit")
	ErrSignatureNotFound = errors.New("no hex signature found in signature file")
)

var hexLinePattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// Artifact is the human readable signature file produced by SignDocument.
type Artifact struct {
	FileName     string
	HashHex      string
	SignatureHex string
}

// FileNameFor returns the artifact file name for a document.
func FileNameFor(document string) string {
	return filepath.Base(document) + ArtifactSuffix
}

// Marshal renders the artifact text.
func (a *Artifact) Marshal() string {
	lines := []string{
		artifactHeader,
		fileLinePrefix + a.FileName,
		hashLinePrefix + a.HashHex,
		signatureLineLabel,
		a.SignatureHex,
	}
	return strings.Join(lines, "\n")
}

// ParseArtifact extracts the signature from artifact text. The signature is
// the first line consisting solely of hex digits; a bare hex string is also
// accepted. File name and hash are filled in when their lines are present.
func ParseArtifact(text string) (*Artifact, error) {
	a := &Artifact{}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, fileLinePrefix) && a.FileName == "":
			a.FileName = strings.TrimPrefix(line, fileLinePrefix)
		case strings.HasPrefix(line, hashLinePrefix) && a.HashHex == "":
			a.HashHex = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, hashLinePrefix)))
		case a.SignatureHex == "" && hexLinePattern.MatchString(line):
			a.SignatureHex = line
		}
	}

	if a.SignatureHex == "" {
		return nil, ErrSignatureNotFound
	}
	return a, nil
}

// SignDocument signs a document and returns its artifact.
func SignDocument(name string, data []byte, priv *ecdsa.PrivateKey) (*Artifact, error) {
	if len(data) > MaxDocumentSize {
		return nil, ErrDocumentTooLarge
	}

	sig, err := Sign(data, priv)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		FileName:     filepath.Base(name),
		HashHex:      hex.EncodeToString(Digest(data)),
		SignatureHex: hex.EncodeToString(sig),
	}, nil
}

// VerifyResult reports the outcome of VerifyDocument.
type VerifyResult struct {
	// Valid is true when the signature verifies against the document.
	Valid bool
	// HashMatches is true when the artifact's recorded hash equals the
	// document's digest. It is false when the artifact carries no hash.
	HashMatches bool
	Artifact    *Artifact
}

// VerifyDocument checks a document against artifact text and a public key.
// Only the signature decides validity; the recorded hash is informational.
// A signature line that does not decode, such as odd-length hex, verifies
// as not valid rather than failing.
func VerifyDocument(data []byte, artifactText, publicKey string) (*VerifyResult, error) {
	if len(data) > MaxDocumentSize {
		return nil, ErrDocumentTooLarge
	}

	artifact, err := ParseArtifact(artifactText)
	if err != nil {
		return nil, err
	}

	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	digest := hex.EncodeToString(Digest(data))

	valid := false
	if sig, err := DecodeSignatureHex(artifact.SignatureHex); err == nil {
		valid = Verify(data, sig, pub)
	}

	return &VerifyResult{
		Valid:       valid,
		HashMatches: artifact.HashHex != "" && artifact.HashHex == digest,
		Artifact:    artifact,
	}, nil
}
