package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"
)

var errMismatch = errors.New("entries do not match")

// prompter reads answers from stdin. Secrets are read without echo when
// stdin is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	// readSecret is nil when stdin is not a terminal.
	readSecret func() ([]byte, error)
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) secret(label string) (string, error) {
	if p.readSecret == nil {
		return p.line(label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := p.readSecret()
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return string(b), nil
}

// confirmed asks for a secret twice.
func (p *prompter) confirmed(label string) (string, error) {
	first, err := p.secret(label)
	if err != nil {
		return "", err
	}
	second, err := p.secret("Confirm " + strings.ToLower(label))
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errMismatch
	}
	return first, nil
}

// flagOrLine returns the flag value or prompts for it.
func (a *app) flagOrLine(cmd *cli.Command, flag, label string) (string, error) {
	if v := strings.TrimSpace(cmd.String(flag)); v != "" {
		return v, nil
	}
	return a.prompt.line(label)
}

// flagOrSecret returns the flag value or prompts for it without echo.
// A prompted value is asked twice when confirm is set.
func (a *app) flagOrSecret(cmd *cli.Command, flag, label string, confirm bool) (string, error) {
	if v := cmd.String(flag); v != "" {
		return v, nil
	}
	if confirm {
		return a.prompt.confirmed(label)
	}
	return a.prompt.secret(label)
}
