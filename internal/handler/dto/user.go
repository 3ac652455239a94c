// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import "github.com/signsure/signsure/internal/model"

// RegisterRequest is the body of POST /api/user/register.
type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	PublicKey string `json:"public_key"`
}

// LoginRequest is the body of POST /api/user/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ForgotPasswordRequest is the body of POST /api/user/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// VerifyOTPRequest is the body of POST /api/user/verify-otp.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// ResetPasswordRequest is the body of POST /api/user/reset-password.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// MessageResponse is the envelope every endpoint returns.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	PublicKey string `json:"public_key"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	User    UserResponse `json:"user"`
}

// PublicKeyResponse is returned by GET /api/key/public_key.
type PublicKeyResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PublicKey string `json:"public_key"`
}

// ToUserResponse converts a model.User to its public view.
func ToUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		PublicKey: u.PublicKey,
	}
}
