// Package mail delivers password reset codes.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Mailer sends transactional mail.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, name, otp string) error
}

// Message is a rendered plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// PasswordResetMessage renders the reset mail for a user.
func PasswordResetMessage(to, name, otp string, ttlMinutes int) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\r\n\r\n", name)
	fmt.Fprintf(&b, "Your SignSure password reset code is %s.\r\n", otp)
	fmt.Fprintf(&b, "It expires in %d minutes.\r\n\r\n", ttlMinutes)
	b.WriteString("If you did not request a password reset, you can ignore this message.\r\n")

	return Message{
		To:      to,
		Subject: "SignSure password reset",
		Body:    b.String(),
	}
}

// LogMailer logs mail events instead of sending them.
// The code itself is never logged.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendPasswordReset logs that a reset mail would be sent.
func (m *LogMailer) SendPasswordReset(ctx context.Context, to, name, otp string) error {
	m.logger.InfoContext(ctx, "password reset mail suppressed",
		"to", maskAddress(to),
		"otp_length", len(otp),
	)
	return nil
}

// maskAddress keeps the first character of the local part and the domain.
func maskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
