package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func TestGenerateKeyPair(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)

	require.Equal(t, elliptic.P384(), kp.Private.Curve)

	pub, err := ParsePublicKey(kp.PublicKey)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&kp.Private.PublicKey))

	priv, err := ParsePrivateKey(kp.PrivateKeyDER)
	require.NoError(t, err)
	assert.True(t, priv.Equal(kp.Private))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)
	blob, err := EncryptPrivateKey(kp.PrivateKeyDER, "correct horse battery")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	// salt + iv + ciphertext + 16 byte GCM tag
	assert.Equal(t, saltSize+ivSize+len(kp.PrivateKeyDER)+16, len(raw))

	plain, err := DecryptPrivateKey(blob, "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKeyDER, plain)
}

func TestEncryptPrivateKey_UsesFreshSalt(t *testing.T) {
	t.Parallel()

	der := []byte("same key material")
	a, err := EncryptPrivateKey(der, "passphrase-1")
	require.NoError(t, err)
	b, err := EncryptPrivateKey(der, "passphrase-1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptPrivateKey_WeakPassphrase(t *testing.T) {
	t.Parallel()

	_, err := EncryptPrivateKey([]byte("key"), "short")
	require.ErrorIs(t, err, ErrWeakPassphrase)

	// six Cyrillic letters are twelve bytes
	_, err = EncryptPrivateKey([]byte("key"), "ключик")
	require.ErrorIs(t, err, ErrWeakPassphrase)

	_, err = EncryptPrivateKey([]byte("key"), "ключикии")
	require.NoError(t, err)
}

func TestStrongEnough(t *testing.T) {
	t.Parallel()

	for pass, want := range map[string]bool{
		"":          false,
		"1234567":   false,
		"12345678":  true,
		"ключик":    false,
		"пароль123": true,
		"🔑🔑🔑🔑🔑🔑🔑🔑":  true,
	} {
		assert.Equal(t, want, StrongEnough(pass), pass)
	}
}

func TestDecryptPrivateKey_Errors(t *testing.T) {
	t.Parallel()

	good, err := EncryptPrivateKey([]byte("key material"), "passphrase-1")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(good)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name       string
		blob       string
		passphrase string
		want       error
	}{
		{"empty blob", "", "passphrase-1", ErrInvalidBlob},
		{"not base64", "!!!not base64!!!", "passphrase-1", ErrInvalidBlob},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, 27)), "passphrase-1", ErrBlobTooShort},
		{"wrong passphrase", good, "passphrase-2", ErrDecryptionFailed},
		{"tampered ciphertext", tampered, "passphrase-1", ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plain, err := DecryptPrivateKey(tt.blob, tt.passphrase)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, plain)
		})
	}
}

func TestValidateBlob(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateBlob(base64.StdEncoding.EncodeToString(make([]byte, 28))))
	require.ErrorIs(t, ValidateBlob("%%%"), ErrInvalidBlob)
	require.ErrorIs(t, ValidateBlob(base64.StdEncoding.EncodeToString([]byte("tiny"))), ErrBlobTooShort)
}

func TestSignVerify(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)
	msg := []byte("the quick brown fox")

	sig, err := Sign(msg, kp.Private)
	require.NoError(t, err)
	require.Len(t, sig, SignatureSize)

	assert.True(t, Verify(msg, sig, &kp.Private.PublicKey))

	t.Run("tampered message", func(t *testing.T) {
		assert.False(t, Verify([]byte("the quick brown fix"), sig, &kp.Private.PublicKey))
	})

	t.Run("tampered signature", func(t *testing.T) {
		bad := append([]byte(nil), sig...)
		bad[10] ^= 0x01
		assert.False(t, Verify(msg, bad, &kp.Private.PublicKey))
	})

	t.Run("wrong length", func(t *testing.T) {
		assert.False(t, Verify(msg, sig[:95], &kp.Private.PublicKey))
	})

	t.Run("other key", func(t *testing.T) {
		other := newKeyPair(t)
		assert.False(t, Verify(msg, sig, &other.Private.PublicKey))
	})
}

func TestParsePublicKey_Formats(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)
	pemText, err := EncodePublicKeyPEM(kp.PublicKey)
	require.NoError(t, err)

	for name, text := range map[string]string{
		"base64":          kp.PublicKey,
		"base64 with eol": kp.PublicKey + "\n",
		"pem":             pemText,
	} {
		t.Run(name, func(t *testing.T) {
			pub, err := ParsePublicKey(text)
			require.NoError(t, err)
			assert.True(t, pub.Equal(&kp.Private.PublicKey))
		})
	}

	_, err = ParsePublicKey("not a key")
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestParsePublicKey_RejectsOtherCurves(t *testing.T) {
	t.Parallel()

	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&p256.PublicKey)
	require.NoError(t, err)

	_, err = ParsePublicKey(base64.StdEncoding.EncodeToString(der))
	require.ErrorIs(t, err, ErrUnsupportedCurve)
}

func TestParsePrivateKey_Formats(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)
	b64 := base64.StdEncoding.EncodeToString(kp.PrivateKeyDER)
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: kp.PrivateKeyDER}))

	for name, material := range map[string][]byte{
		"der":    kp.PrivateKeyDER,
		"base64": []byte(b64),
		"pem":    []byte(pemText),
	} {
		t.Run(name, func(t *testing.T) {
			priv, err := ParsePrivateKey(material)
			require.NoError(t, err)
			assert.True(t, priv.Equal(kp.Private))
		})
	}

	_, err := ParsePrivateKey(nil)
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestArtifactMarshalParse(t *testing.T) {
	t.Parallel()

	a := &Artifact{
		FileName:     "contract.pdf",
		HashHex:      strings.Repeat("ab", 48),
		SignatureHex: strings.Repeat("cd", 96),
	}

	text := a.Marshal()
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Signed by SignSure", lines[0])
	assert.Equal(t, "Original File: contract.pdf", lines[1])
	assert.Equal(t, "Signature (hex, raw r||s, ECDSA P-384):", lines[3])

	parsed, err := ParseArtifact(text)
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseArtifact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		wantSig string
		wantErr error
	}{
		{"bare hex", "deadbeef\n", "deadbeef", nil},
		{"crlf", "Signed by SignSure\r\nfeed\r\n", "feed", nil},
		{"first hex line wins", "abc1\nabc2", "abc1", nil},
		{"no hex", "Signed by SignSure\nnothing here", "", ErrSignatureNotFound},
		{"empty", "", "", ErrSignatureNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, err := ParseArtifact(tt.text)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSig, a.SignatureHex)
		})
	}
}

func TestSignDocumentVerifyDocument(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)
	doc := []byte("%PDF-1.7 pretend this is a contract")

	a, err := SignDocument("/tmp/contract.pdf", doc, kp.Private)
	require.NoError(t, err)
	assert.Equal(t, "contract.pdf", a.FileName)
	assert.Equal(t, hex.EncodeToString(Digest(doc)), a.HashHex)

	res, err := VerifyDocument(doc, a.Marshal(), kp.PublicKey)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.HashMatches)

	res, err = VerifyDocument([]byte("altered"), a.Marshal(), kp.PublicKey)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.HashMatches)

	res, err = VerifyDocument(doc, a.SignatureHex, kp.PublicKey)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.HashMatches)
}

func TestSignDocument_Limits(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)

	_, err := SignDocument("big.bin", make([]byte, MaxDocumentSize+1), kp.Private)
	require.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestSignDocument_EmptyDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)

	a, err := SignDocument("empty.txt", []byte{}, kp.Private)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(Digest(nil)), a.HashHex)

	res, err := VerifyDocument(nil, a.Marshal(), kp.PublicKey)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.HashMatches)

	res, err = VerifyDocument([]byte{0}, a.Marshal(), kp.PublicKey)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVerifyDocument_UndecodableSignatureIsInvalid(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)
	doc := []byte("contract v1")

	for _, line := range []string{"abc", "ab", strings.Repeat("f", 193)} {
		res, err := VerifyDocument(doc, "SHA-384 Hash: 00\n"+line+"\n", kp.PublicKey)
		require.NoError(t, err, line)
		assert.False(t, res.Valid, line)
	}
}

func TestFileNameFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "report.pdf.sig.txt", FileNameFor("docs/report.pdf"))
}

func TestFullFlow_EncryptedKeySigns(t *testing.T) {
	t.Parallel()

	kp := newKeyPair(t)
	blob, err := EncryptPrivateKey(kp.PrivateKeyDER, "passphrase-1")
	require.NoError(t, err)

	der, err := DecryptPrivateKey(blob, "passphrase-1")
	require.NoError(t, err)
	priv, err := ParsePrivateKey(der)
	require.NoError(t, err)

	a, err := SignDocument("note.txt", []byte("hello"), priv)
	require.NoError(t, err)

	res, err := VerifyDocument([]byte("hello"), a.Marshal(), kp.PublicKey)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
