// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/signsure/signsure/internal/auth"
	"github.com/signsure/signsure/internal/mail"
	"github.com/signsure/signsure/internal/metrics"
	"github.com/signsure/signsure/internal/model"
	"github.com/signsure/signsure/internal/repository"
	"github.com/signsure/signsure/internal/signing"
)

// Service errors.
var (
	ErrMissingFields      = errors.New("missing required fields")
	ErrInvalidPublicKey   = errors.New("invalid public key")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidOTP         = errors.New("invalid or expired otp")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetResetOTP(ctx context.Context, userID, otpHash string, expiresAt time.Time) error
	ClearResetOTP(ctx context.Context, userID string) error
	// UpdatePassword replaces the password only while otpHash is the
	// stored, unexpired reset code, and consumes that code.
	UpdatePassword(ctx context.Context, userID, otpHash, passwordHash string) error
}

// SessionStore holds short-lived session and reset state.
type SessionStore interface {
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IncrOTPAttempts(ctx context.Context, userID string, ttl time.Duration) (int64, error)
	OTPAttempts(ctx context.Context, userID string) (int64, error)
	ResetOTPAttempts(ctx context.Context, userID string) error
	GetPublicKey(ctx context.Context, userID string) (string, bool, error)
	SetPublicKey(ctx context.Context, userID, publicKey string) error
	DeletePublicKey(ctx context.Context, userID string) error
}

// AuditRecorder receives account events. Record must not block the caller.
type AuditRecorder interface {
	Record(kind, userID, outcome string)
}

type noopAudit struct{}

func (noopAudit) Record(kind, userID, outcome string) {}

// UserServiceConfig holds password reset settings.
type UserServiceConfig struct {
	OTPTTL         time.Duration
	OTPMaxAttempts int
}

// UserService handles accounts, sessions and password resets.
type UserService struct {
	users    UserStore
	sessions SessionStore
	tokens   *auth.TokenIssuer
	mailer   mail.Mailer
	metrics  metrics.Recorder
	audit    AuditRecorder
	logger   *slog.Logger
	cfg      UserServiceConfig
	now      func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(
	users UserStore,
	sessions SessionStore,
	tokens *auth.TokenIssuer,
	mailer mail.Mailer,
	recorder metrics.Recorder,
	logger *slog.Logger,
	cfg UserServiceConfig,
) *UserService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	if cfg.OTPMaxAttempts < 1 {
		cfg.OTPMaxAttempts = 5
	}
	return &UserService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		mailer:   mailer,
		metrics:  recorder,
		audit:    noopAudit{},
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetAuditRecorder routes account events to r. A nil r disables auditing.
func (s *UserService) SetAuditRecorder(r AuditRecorder) {
	if r == nil {
		r = noopAudit{}
	}
	s.audit = r
}

// RegisterInput defines input for registering a user.
type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	PublicKey string
}

// Register creates an account. The public key is stored in base64 SPKI form.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	name := strings.TrimSpace(input.Name)
	email := model.NormalizeEmail(input.Email)
	if name == "" || email == "" || input.Password == "" || strings.TrimSpace(input.PublicKey) == "" {
		s.metrics.IncRegistration(metrics.StatusInvalid)
		return nil, ErrMissingFields
	}

	pub, err := signing.ParsePublicKey(input.PublicKey)
	if err != nil {
		s.metrics.IncRegistration(metrics.StatusInvalid)
		return nil, ErrInvalidPublicKey
	}
	publicKey, err := signing.MarshalPublicKey(pub)
	if err != nil {
		s.metrics.IncRegistration(metrics.StatusInvalid)
		return nil, ErrInvalidPublicKey
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		s.metrics.IncRegistration(metrics.StatusError)
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           ulid.Make().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		PublicKey:    publicKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.metrics.IncRegistration(metrics.StatusConflict)
			s.audit.Record(model.EventRegister, "", model.OutcomeFailure)
			return nil, ErrEmailExists
		}
		s.metrics.IncRegistration(metrics.StatusError)
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	if err := s.sessions.DeletePublicKey(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate cached public key", "error", err)
	}

	s.metrics.IncRegistration(metrics.StatusSuccess)
	s.audit.Record(model.EventRegister, user.ID, model.OutcomeSuccess)
	return user, nil
}

// LoginResult is a verified user plus a freshly issued session token.
type LoginResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Login checks credentials and issues a session token. Unknown emails and
// wrong passwords both return ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		s.metrics.IncLogin(metrics.StatusInvalid)
		return nil, ErrMissingFields
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			auth.BurnPasswordCheck(password)
			s.metrics.IncLogin(metrics.StatusFailed)
			s.audit.Record(model.EventLogin, "", model.OutcomeFailure)
			return nil, ErrInvalidCredentials
		}
		s.metrics.IncLogin(metrics.StatusError)
		return nil, err
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.metrics.IncLogin(metrics.StatusError)
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.metrics.IncLogin(metrics.StatusFailed)
		s.audit.Record(model.EventLogin, user.ID, model.OutcomeFailure)
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.metrics.IncLogin(metrics.StatusError)
		return nil, err
	}

	s.metrics.IncLogin(metrics.StatusSuccess)
	s.audit.Record(model.EventLogin, user.ID, model.OutcomeSuccess)
	return &LoginResult{
		User:      user,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the presented token. Invalid or missing tokens are ignored
// since there is no session to end.
func (s *UserService) Logout(ctx context.Context, token string) error {
	s.metrics.IncLogout()
	if token == "" {
		return nil
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}

	if err := s.sessions.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.audit.Record(model.EventLogout, claims.UserID, model.OutcomeSuccess)
	return nil
}

// PublicKey returns the stored public key for a user, reading through the cache.
func (s *UserService) PublicKey(ctx context.Context, userID string) (string, error) {
	if key, found, err := s.sessions.GetPublicKey(ctx, userID); err == nil && found {
		s.metrics.IncPublicKeyFetch(metrics.StatusSuccess)
		return key, nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "public key cache unavailable", "error", err)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.metrics.IncPublicKeyFetch(metrics.StatusFailed)
			return "", ErrUserNotFound
		}
		s.metrics.IncPublicKeyFetch(metrics.StatusError)
		return "", err
	}

	if err := s.sessions.SetPublicKey(ctx, userID, user.PublicKey); err != nil {
		s.logger.WarnContext(ctx, "failed to cache public key", "error", err)
	}

	s.metrics.IncPublicKeyFetch(metrics.StatusSuccess)
	return user.PublicKey, nil
}

// RequestPasswordReset issues and mails a reset code. Unknown emails succeed
// silently so callers cannot probe for accounts.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	email = model.NormalizeEmail(email)
	if email == "" {
		s.metrics.IncPasswordReset(metrics.StageRequest, metrics.StatusInvalid)
		return ErrMissingFields
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.metrics.IncPasswordReset(metrics.StageRequest, metrics.StatusFailed)
			return nil
		}
		s.metrics.IncPasswordReset(metrics.StageRequest, metrics.StatusError)
		return err
	}

	otp, err := auth.GenerateOTP()
	if err != nil {
		s.metrics.IncPasswordReset(metrics.StageRequest, metrics.StatusError)
		return err
	}

	expiresAt := s.now().Add(s.cfg.OTPTTL).UTC()
	if err := s.users.SetResetOTP(ctx, user.ID, auth.HashOTP(otp), expiresAt); err != nil {
		s.metrics.IncPasswordReset(metrics.StageRequest, metrics.StatusError)
		return fmt.Errorf("failed to store reset code: %w", err)
	}
	if err := s.sessions.ResetOTPAttempts(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to reset otp attempts", "error", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Name, otp); err != nil {
		s.metrics.IncPasswordReset(metrics.StageRequest, metrics.StatusError)
		return fmt.Errorf("failed to send reset code: %w", err)
	}

	s.metrics.IncPasswordReset(metrics.StageRequest, metrics.StatusSuccess)
	s.audit.Record(model.EventPasswordResetRequest, user.ID, model.OutcomeSuccess)
	return nil
}

// VerifyResetOTP checks a reset code without consuming it.
func (s *UserService) VerifyResetOTP(ctx context.Context, email, otp string) error {
	user, err := s.checkOTP(ctx, email, otp)
	if err != nil {
		s.metrics.IncPasswordReset(metrics.StageVerify, statusFor(err))
		s.auditOTPFailure(model.EventPasswordResetVerify, err)
		return err
	}
	s.metrics.IncPasswordReset(metrics.StageVerify, metrics.StatusSuccess)
	s.audit.Record(model.EventPasswordResetVerify, user.ID, model.OutcomeSuccess)
	return nil
}

// ResetPassword re-checks the reset code, then replaces the password and
// clears the code. The store redeems the code atomically, so of two
// concurrent resets with one code only the first succeeds.
func (s *UserService) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	if newPassword == "" {
		s.metrics.IncPasswordReset(metrics.StageReset, metrics.StatusInvalid)
		return ErrMissingFields
	}

	user, err := s.checkOTP(ctx, email, otp)
	if err != nil {
		s.metrics.IncPasswordReset(metrics.StageReset, statusFor(err))
		s.auditOTPFailure(model.EventPasswordReset, err)
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		s.metrics.IncPasswordReset(metrics.StageReset, metrics.StatusError)
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, user.ResetOTPHash, hash); err != nil {
		if errors.Is(err, repository.ErrResetNotPending) {
			s.metrics.IncPasswordReset(metrics.StageReset, metrics.StatusFailed)
			s.auditOTPFailure(model.EventPasswordReset, ErrInvalidOTP)
			return ErrInvalidOTP
		}
		s.metrics.IncPasswordReset(metrics.StageReset, metrics.StatusError)
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.sessions.ResetOTPAttempts(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to reset otp attempts", "error", err)
	}

	s.metrics.IncPasswordReset(metrics.StageReset, metrics.StatusSuccess)
	s.audit.Record(model.EventPasswordReset, user.ID, model.OutcomeSuccess)
	return nil
}

// checkOTP validates a reset code and counts failures. Once the failure
// limit is reached the stored code is cleared.
func (s *UserService) checkOTP(ctx context.Context, email, otp string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" {
		return nil, ErrMissingFields
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, err
	}

	if !user.HasPendingReset(s.now()) {
		return nil, ErrInvalidOTP
	}

	attempts, err := s.sessions.OTPAttempts(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if attempts >= int64(s.cfg.OTPMaxAttempts) {
		return nil, ErrInvalidOTP
	}

	if !auth.CompareOTP(otp, user.ResetOTPHash) {
		n, err := s.sessions.IncrOTPAttempts(ctx, user.ID, s.cfg.OTPTTL)
		if err != nil {
			return nil, err
		}
		if n >= int64(s.cfg.OTPMaxAttempts) {
			if err := s.users.ClearResetOTP(ctx, user.ID); err != nil {
				s.logger.WarnContext(ctx, "failed to clear reset code", "error", err)
			}
			s.logger.WarnContext(ctx, "reset code locked after repeated failures", "user_id", user.ID)
		}
		return nil, ErrInvalidOTP
	}

	return user, nil
}

// auditOTPFailure records rejected reset codes. Malformed requests and
// internal errors are not account activity.
func (s *UserService) auditOTPFailure(kind string, err error) {
	if errors.Is(err, ErrInvalidOTP) {
		s.audit.Record(kind, "", model.OutcomeFailure)
	}
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingFields):
		return metrics.StatusInvalid
	case errors.Is(err, ErrInvalidOTP):
		return metrics.StatusFailed
	default:
		return metrics.StatusError
	}
}
