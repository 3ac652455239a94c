package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/signsure/signsure/internal/client"
	"github.com/signsure/signsure/internal/keyring"
	"github.com/signsure/signsure/internal/qr"
	"github.com/signsure/signsure/internal/signing"
)

var errKeyExists = errors.New("an encrypted key is already stored on this device; pass --force to replace it")

func (a *app) registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account and a new signing key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "display name"},
			&cli.StringFlag{Name: "email", Usage: "account email"},
			&cli.StringFlag{Name: "password", Usage: "account password (prompted when empty)"},
			&cli.StringFlag{Name: "passphrase", Usage: "passphrase protecting the private key, at least 8 characters"},
			&cli.StringFlag{Name: "qr", Usage: "also write a QR backup of the encrypted key to this PNG file"},
			&cli.BoolFlag{Name: "force", Usage: "replace an encrypted key already stored on this device"},
		},
		Action: a.runRegister,
	}
}

func (a *app) runRegister(ctx context.Context, cmd *cli.Command) error {
	kr, err := a.openKeyring(cmd)
	if err != nil {
		return err
	}
	if kr.HasEncryptedKey() && !cmd.Bool("force") {
		return errKeyExists
	}

	name, err := a.flagOrLine(cmd, "name", "Name")
	if err != nil {
		return err
	}
	email, err := a.flagOrLine(cmd, "email", "Email")
	if err != nil {
		return err
	}
	password, err := a.flagOrSecret(cmd, "password", "Password", true)
	if err != nil {
		return err
	}
	passphrase, err := a.flagOrSecret(cmd, "passphrase", "Key passphrase", true)
	if err != nil {
		return err
	}
	if !signing.StrongEnough(passphrase) {
		return signing.ErrWeakPassphrase
	}

	kp, err := signing.GenerateKeyPair()
	if err != nil {
		return err
	}
	blob, err := signing.EncryptPrivateKey(kp.PrivateKeyDER, passphrase)
	if err != nil {
		return err
	}

	// The key is kept even if the server call fails so the user can retry
	// registration or restore from the QR backup.
	if err := kr.SaveEncryptedKey(blob); err != nil {
		return err
	}
	if out := cmd.String("qr"); out != "" {
		if err := qr.WriteFile(out, blob); err != nil {
			return err
		}
		a.printf("QR backup written to %s\n", out)
	}

	msg, err := a.apiClient(cmd).Register(ctx, client.RegisterRequest{
		Name:      name,
		Email:     email,
		Password:  password,
		PublicKey: kp.PublicKey,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if err := kr.SavePublicKey(kp.PublicKey); err != nil {
		return err
	}

	a.printf("%s\nEncrypted private key stored in %s\n", msg, kr.Dir())
	return nil
}

func (a *app) loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in and store the session on this device",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "account email"},
			&cli.StringFlag{Name: "password", Usage: "account password (prompted when empty)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kr, err := a.openKeyring(cmd)
			if err != nil {
				return err
			}
			email, err := a.flagOrLine(cmd, "email", "Email")
			if err != nil {
				return err
			}
			password, err := a.flagOrSecret(cmd, "password", "Password", false)
			if err != nil {
				return err
			}

			res, err := a.apiClient(cmd).Login(ctx, email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := kr.SaveSession(res.Session); err != nil {
				return err
			}
			if res.User.PublicKey != "" {
				if err := kr.SavePublicKey(res.User.PublicKey); err != nil {
					return err
				}
			}

			a.printf("%s\n", res.Message)
			if !kr.HasEncryptedKey() {
				a.printf("No private key on this device. Restore one with `signsure qr import IMAGE`.\n")
			}
			return nil
		},
	}
}

func (a *app) logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Revoke the stored session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kr, err := a.openKeyring(cmd)
			if err != nil {
				return err
			}
			c, err := a.sessionClient(cmd, kr)
			if errors.Is(err, keyring.ErrNoSession) {
				a.printf("Not logged in\n")
				return nil
			}
			if err != nil {
				return err
			}

			// An already rejected session only needs to be forgotten locally.
			if err := c.Logout(ctx); err != nil && !client.IsStatus(err, http.StatusUnauthorized) {
				return fmt.Errorf("logout failed: %w", err)
			}
			if err := kr.ClearSession(); err != nil {
				return err
			}
			a.printf("Logout successful\n")
			return nil
		},
	}
}

func (a *app) publicKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "public-key",
		Usage: "Fetch your public key so others can verify your signatures",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write the key to this file instead of stdout"},
			&cli.BoolFlag{Name: "pem", Usage: "encode the key as PEM instead of base64 SPKI"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kr, err := a.openKeyring(cmd)
			if err != nil {
				return err
			}
			c, err := a.sessionClient(cmd, kr)
			if err != nil {
				return err
			}

			key, err := c.PublicKey(ctx)
			if client.IsStatus(err, http.StatusUnauthorized) {
				_ = kr.ClearSession()
				return errors.New("session expired; run `signsure login` again")
			}
			if err != nil {
				return fmt.Errorf("failed to fetch public key: %w", err)
			}
			if err := kr.SavePublicKey(key); err != nil {
				return err
			}

			if cmd.Bool("pem") {
				if key, err = signing.EncodePublicKeyPEM(key); err != nil {
					return err
				}
			}

			out := cmd.String("out")
			if out == "" {
				a.printf("%s\n", key)
				return nil
			}
			if err := os.WriteFile(out, []byte(key+"\n"), 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}
			a.printf("Public key written to %s\n", out)
			return nil
		},
	}
}

func (a *app) passwordCommand() *cli.Command {
	return &cli.Command{
		Name:  "password",
		Usage: "Reset a forgotten account password",
		Commands: []*cli.Command{
			{
				Name:  "forgot",
				Usage: "Request a one-time reset code by email",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					email, err := a.flagOrLine(cmd, "email", "Email")
					if err != nil {
						return err
					}
					msg, err := a.apiClient(cmd).ForgotPassword(ctx, email)
					if err != nil {
						return err
					}
					a.printf("%s\n", msg)
					return nil
				},
			},
			{
				Name:  "verify",
				Usage: "Check a reset code",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email"},
					&cli.StringFlag{Name: "otp", Usage: "6-digit code from the email"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					email, err := a.flagOrLine(cmd, "email", "Email")
					if err != nil {
						return err
					}
					otp, err := a.flagOrLine(cmd, "otp", "Code")
					if err != nil {
						return err
					}
					msg, err := a.apiClient(cmd).VerifyOTP(ctx, email, otp)
					if err != nil {
						return err
					}
					a.printf("%s\n", msg)
					return nil
				},
			},
			{
				Name:  "reset",
				Usage: "Set a new password using a reset code",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email"},
					&cli.StringFlag{Name: "otp", Usage: "6-digit code from the email"},
					&cli.StringFlag{Name: "new-password", Usage: "new password (prompted when empty)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					email, err := a.flagOrLine(cmd, "email", "Email")
					if err != nil {
						return err
					}
					otp, err := a.flagOrLine(cmd, "otp", "Code")
					if err != nil {
						return err
					}
					password, err := a.flagOrSecret(cmd, "new-password", "New password", true)
					if err != nil {
						return err
					}
					msg, err := a.apiClient(cmd).ResetPassword(ctx, email, otp, password)
					if err != nil {
						return err
					}
					a.printf("%s\n", msg)
					return nil
				},
			},
		},
	}
}
