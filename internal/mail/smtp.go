package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Retry delays between SMTP attempts.
var retryDelays = []time.Duration{
	500 * time.Millisecond,
	2 * time.Second,
	5 * time.Second,
}

const (
	// DefaultMaxAttempts is the number of delivery attempts per mail.
	DefaultMaxAttempts = 3

	// JitterFactor is the ±percentage of jitter applied to delays.
	JitterFactor = 0.2
)

// ErrInvalidRecipient is returned for addresses that could inject headers.
var ErrInvalidRecipient = errors.New("invalid recipient address")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	OTPTTLMins int
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	cfg         SMTPConfig
	logger      *slog.Logger
	send        sendFunc
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:         cfg,
		logger:      logger,
		send:        smtp.SendMail,
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepContext,
	}
}

// SendPasswordReset sends the reset code, retrying transient failures.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, name, otp string) error {
	if strings.ContainsAny(to, "\r\n") || !strings.Contains(to, "@") {
		return ErrInvalidRecipient
	}

	msg := PasswordResetMessage(to, sanitizeHeader(name), otp, m.cfg.OTPTTLMins)
	raw := m.render(msg)
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	var lastErr error
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, nextRetryDelay(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = m.send(addr, auth, m.cfg.From, []string{to}, raw)
		if lastErr == nil {
			m.logger.InfoContext(ctx, "password reset mail sent",
				"to", maskAddress(to),
				"attempts", attempt+1,
			)
			return nil
		}

		m.logger.WarnContext(ctx, "smtp delivery failed",
			"to", maskAddress(to),
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	return fmt.Errorf("send password reset mail: %w", lastErr)
}

func (m *SMTPMailer) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// nextRetryDelay returns the backoff for a 0-indexed failed attempt, with jitter.
func nextRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(retryDelays) {
		attempt = len(retryDelays) - 1
	}

	base := retryDelays[attempt]
	jitterRange := float64(base) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(base) + jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
