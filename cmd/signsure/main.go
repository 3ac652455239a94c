// Package main is the SignSure command line client. It keeps the encrypted
// signing key on this machine and signs and verifies documents locally.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/signsure/signsure/internal/client"
	"github.com/signsure/signsure/internal/keyring"
)

const defaultServer = "http://localhost:8080"

func main() {
	a := newApp(os.Stdin, os.Stdout, &http.Client{Timeout: 30 * time.Second})
	if err := a.command().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "signsure:", err)
		os.Exit(1)
	}
}

// app carries the I/O and transport shared by all commands.
type app struct {
	out        io.Writer
	prompt     *prompter
	httpClient client.HTTPClient
}

func newApp(in io.Reader, out io.Writer, httpClient client.HTTPClient) *app {
	p := &prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.readSecret = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return &app{out: out, prompt: p, httpClient: httpClient}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "signsure",
		Usage: "Sign and verify documents with a locally held ECDSA P-384 key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "SignSure API base URL",
				Value:   defaultServer,
				Sources: cli.EnvVars("SIGNSURE_SERVER"),
			},
			&cli.StringFlag{
				Name:    "home",
				Usage:   "keyring directory (default: user config dir)",
				Sources: cli.EnvVars("SIGNSURE_HOME"),
			},
		},
		Writer: a.out,
		Commands: []*cli.Command{
			a.registerCommand(),
			a.loginCommand(),
			a.logoutCommand(),
			a.publicKeyCommand(),
			a.signCommand(),
			a.verifyCommand(),
			a.qrCommand(),
			a.keyCommand(),
			a.passwordCommand(),
		},
	}
}

func (a *app) openKeyring(cmd *cli.Command) (*keyring.Keyring, error) {
	return keyring.Open(cmd.String("home"))
}

func (a *app) apiClient(cmd *cli.Command) *client.Client {
	return client.New(cmd.String("server"), a.httpClient)
}

// sessionClient returns a client carrying the stored session token.
func (a *app) sessionClient(cmd *cli.Command, kr *keyring.Keyring) (*client.Client, error) {
	token, err := kr.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("%w; run `signsure login` first", err)
	}
	return a.apiClient(cmd).WithSession(token), nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
