package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/signsure/signsure/internal/keyring"
	"github.com/signsure/signsure/internal/qr"
)

const defaultQRFile = "signsure-key-backup.png"

func (a *app) qrCommand() *cli.Command {
	return &cli.Command{
		Name:  "qr",
		Usage: "Back up or restore the encrypted private key as a QR code",
		Commands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Write the encrypted private key to a QR PNG",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: defaultQRFile, Usage: "PNG file to write"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					kr, err := a.openKeyring(cmd)
					if err != nil {
						return err
					}
					blob, err := kr.LoadEncryptedKey()
					if err != nil {
						return err
					}
					out := cmd.String("out")
					if err := qr.WriteFile(out, blob); err != nil {
						return err
					}
					a.printf("QR backup written to %s\n", out)
					return nil
				},
			},
			{
				Name:      "import",
				Usage:     "Restore the encrypted private key from a QR PNG or JPEG",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "replace an encrypted key already stored on this device"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return errors.New("usage: signsure qr import IMAGE")
					}
					kr, err := a.openKeyring(cmd)
					if err != nil {
						return err
					}
					if kr.HasEncryptedKey() && !cmd.Bool("force") {
						return errKeyExists
					}

					blob, err := qr.ReadFile(cmd.Args().First())
					if err != nil {
						return err
					}
					if err := kr.SaveEncryptedKey(blob); err != nil {
						return err
					}
					a.printf("Encrypted private key imported\n")
					return nil
				},
			},
		},
	}
}

func (a *app) keyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Inspect the local keyring",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show what is stored on this device",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					kr, err := a.openKeyring(cmd)
					if err != nil {
						return err
					}

					a.printf("Keyring: %s\n", kr.Dir())
					a.printf("Private key: %s\n", presence(kr.HasEncryptedKey(), "stored (encrypted)", "missing"))

					_, err = kr.LoadSession()
					a.printf("Session: %s\n", presence(err == nil, "logged in", "not logged in"))
					if err != nil && !errors.Is(err, keyring.ErrNoSession) {
						return err
					}

					_, err = kr.LoadPublicKey()
					a.printf("Public key: %s\n", presence(err == nil, "cached", "not cached"))
					if err != nil && !errors.Is(err, keyring.ErrNoPublicKey) {
						return err
					}
					return nil
				},
			},
		},
	}
}

func presence(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
