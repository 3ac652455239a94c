package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/signsure/signsure/internal/handler/dto"
	"github.com/signsure/signsure/internal/middleware"
	"github.com/signsure/signsure/internal/model"
	"github.com/signsure/signsure/internal/service"
)

// User-facing messages.
const (
	msgAllFieldsRequired   = "All fields are required."
	msgEmailTaken          = "Email already registered."
	msgRegistered          = "User registered successfully."
	msgInvalidPublicKey    = "Invalid public key."
	msgInvalidEmail        = "Invalid email address."
	msgInvalidName         = "Invalid name."
	msgPasswordTooLong     = "Password is too long."
	msgLoginMissing        = "Email or password missing"
	msgBadCredentials      = "Incorrect email or password."
	msgLoggedOut           = "Logout successful"
	msgResetRequested      = "If the email is registered, an OTP has been sent."
	msgEmailRequired       = "Email is required."
	msgOTPVerified         = "OTP verified"
	msgInvalidOTP          = "Invalid or expired OTP."
	msgEmailAndOTPRequired = "Email and OTP are required."
	msgPasswordReset       = "Password reset successfully."
	msgInternal            = "Internal server error"
)

// UserService is the account logic used by UserHandler.
type UserService interface {
	Register(ctx context.Context, input service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	Logout(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyResetOTP(ctx context.Context, email, otp string) error
	ResetPassword(ctx context.Context, email, otp, newPassword string) error
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name string
	// Secure also switches SameSite from Lax to None, which browsers only
	// accept on secure cookies.
	Secure bool
}

func (c CookieConfig) sameSite() http.SameSite {
	if c.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// UserHandler handles HTTP requests under /api/user.
type UserHandler struct {
	svc    UserService
	cookie CookieConfig
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc UserService, cookie CookieConfig, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		svc:    svc,
		cookie: cookie,
		logger: logger,
	}
}

// Register handles POST /api/user/register.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" ||
		req.Password == "" || strings.TrimSpace(req.PublicKey) == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, msgAllFieldsRequired)
		return
	}
	if err := middleware.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, msgInvalidName)
		return
	}
	if err := middleware.ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, msgInvalidEmail)
		return
	}
	if err := middleware.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, msgPasswordTooLong)
		return
	}
	if err := middleware.ValidatePublicKey(req.PublicKey); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidPublicKey, msgInvalidPublicKey)
		return
	}

	user, err := h.svc.Register(r.Context(), service.RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		PublicKey: req.PublicKey,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("user_registered",
		"user_id", user.ID,
		"request_id", middleware.GetRequestID(r.Context()),
	)

	writeMessage(w, http.StatusCreated, msgRegistered)
}

// Login handles POST /api/user/login and sets the session cookie.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, msgLoginMissing)
		return
	}
	if err := middleware.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidLogin, msgBadCredentials)
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		MaxAge:   int(time.Until(res.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.sameSite(),
	})

	h.logger.Info("user_logged_in",
		"user_id", res.User.ID,
		"request_id", middleware.GetRequestID(r.Context()),
	)

	writeJSON(w, http.StatusOK, dto.LoginResponse{
		Success: true,
		Message: "Welcome back " + res.User.Name,
		User:    dto.ToUserResponse(res.User),
	})
}

// Logout handles GET /api/user/logout. The cookie is always cleared and the
// response is always 200; a valid token is also revoked when Redis allows.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.ExtractToken(r, h.cookie.Name)

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.sameSite(),
	})

	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.logger.Error("token_revocation_failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}

	writeMessage(w, http.StatusOK, msgLoggedOut)
}

// ForgotPassword handles POST /api/user/forgot-password. The response does
// not reveal whether the email is registered.
func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, msgEmailRequired)
		return
	}
	if err := middleware.ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, msgInvalidEmail)
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		// Failures only happen for registered emails, so they are hidden too.
		h.logger.Error("password_reset_request_failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}

	writeMessage(w, http.StatusOK, msgResetRequested)
}

// VerifyOTP handles POST /api/user/verify-otp.
func (h *UserHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, msgEmailAndOTPRequired)
		return
	}
	if err := middleware.ValidateOTP(req.OTP); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidOTP, msgInvalidOTP)
		return
	}

	if err := h.svc.VerifyResetOTP(r.Context(), req.Email, req.OTP); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, msgOTPVerified)
}

// ResetPassword handles POST /api/user/reset-password.
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, msgAllFieldsRequired)
		return
	}
	if err := middleware.ValidateOTP(req.OTP); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidOTP, msgInvalidOTP)
		return
	}
	if err := middleware.ValidatePassword(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, msgPasswordTooLong)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("password_reset",
		"request_id", middleware.GetRequestID(r.Context()),
	)

	writeMessage(w, http.StatusOK, msgPasswordReset)
}

// handleServiceError maps service errors to HTTP responses.
func (h *UserHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrMissingFields):
		writeError(w, http.StatusBadRequest, CodeMissingFields, msgAllFieldsRequired)
	case errors.Is(err, service.ErrInvalidPublicKey):
		writeError(w, http.StatusBadRequest, CodeInvalidPublicKey, msgInvalidPublicKey)
	case errors.Is(err, service.ErrEmailExists):
		writeError(w, http.StatusConflict, CodeEmailTaken, msgEmailTaken)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, CodeInvalidLogin, msgBadCredentials)
	case errors.Is(err, service.ErrInvalidOTP):
		writeError(w, http.StatusBadRequest, CodeInvalidOTP, msgInvalidOTP)
	default:
		h.logger.Error("internal_error",
			"error", err,
			"endpoint", r.Method+" "+r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
	}
}
