package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/signsure/signsure/internal/keyring"
	"github.com/signsure/signsure/internal/signing"
)

var errSignatureInvalid = errors.New("signature is NOT valid for this document")

func (a *app) signCommand() *cli.Command {
	return &cli.Command{
		Name:      "sign",
		Usage:     "Sign a document with the stored private key",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "passphrase", Usage: "key passphrase (prompted when empty)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "signature file (default: FILE.sig.txt)"},
		},
		Action: a.runSign,
	}
}

func (a *app) runSign(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return errors.New("usage: signsure sign FILE")
	}
	path := cmd.Args().First()

	kr, err := a.openKeyring(cmd)
	if err != nil {
		return err
	}
	blob, err := kr.LoadEncryptedKey()
	if errors.Is(err, keyring.ErrNoKey) {
		return errors.New("no private key found on this device; register or run `signsure qr import IMAGE`")
	}
	if err != nil {
		return err
	}

	data, err := readDocument(path)
	if err != nil {
		return err
	}

	passphrase, err := a.flagOrSecret(cmd, "passphrase", "Key passphrase", false)
	if err != nil {
		return err
	}
	der, err := signing.DecryptPrivateKey(blob, passphrase)
	if err != nil {
		return err
	}
	priv, err := signing.ParsePrivateKey(der)
	if err != nil {
		return err
	}

	artifact, err := signing.SignDocument(path, data, priv)
	if err != nil {
		return err
	}

	out := cmd.String("out")
	if out == "" {
		out = path + signing.ArtifactSuffix
	}
	if err := os.WriteFile(out, []byte(artifact.Marshal()+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write signature: %w", err)
	}

	a.printf("SHA-384: %s\nSignature written to %s\n", artifact.HashHex, out)
	return nil
}

func (a *app) verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify a document against a signature file and a public key",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "signature", Aliases: []string{"s"}, Usage: "signature file (default: FILE.sig.txt)"},
			&cli.StringFlag{Name: "public-key", Aliases: []string{"k"}, Usage: "signer's public key file, base64 SPKI or PEM (default: your own)"},
		},
		Action: a.runVerify,
	}
}

func (a *app) runVerify(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return errors.New("usage: signsure verify FILE --signature SIG --public-key KEY")
	}
	path := cmd.Args().First()

	data, err := readDocument(path)
	if err != nil {
		return err
	}

	sigPath := cmd.String("signature")
	if sigPath == "" {
		sigPath = path + signing.ArtifactSuffix
	}
	sigText, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("failed to read signature file: %w", err)
	}

	publicKey, err := a.verifierKey(cmd)
	if err != nil {
		return err
	}

	res, err := signing.VerifyDocument(data, string(sigText), publicKey)
	if err != nil {
		return err
	}

	if res.Artifact.FileName != "" {
		a.printf("Signed file: %s\n", res.Artifact.FileName)
	}
	switch {
	case res.Artifact.HashHex == "":
		a.printf("Recorded hash: none\n")
	case res.HashMatches:
		a.printf("Recorded hash: matches\n")
	default:
		a.printf("Recorded hash: DIFFERS from this document\n")
	}

	if !res.Valid {
		return errSignatureInvalid
	}
	a.printf("Signature is valid\n")
	return nil
}

// verifierKey reads --public-key or falls back to the caller's cached key.
func (a *app) verifierKey(cmd *cli.Command) (string, error) {
	if path := cmd.String("public-key"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read public key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	kr, err := a.openKeyring(cmd)
	if err != nil {
		return "", err
	}
	key, err := kr.LoadPublicKey()
	if errors.Is(err, keyring.ErrNoPublicKey) {
		return "", errors.New("no public key given; pass --public-key or run `signsure public-key` first")
	}
	return key, err
}

// readDocument reads a file, refusing anything over the signing size limit
// before loading it.
func readDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > signing.MaxDocumentSize {
		return nil, signing.ErrDocumentTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}
