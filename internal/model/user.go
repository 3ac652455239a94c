// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// User is a registered account. The server keeps only the public half of
// the user's signing key.
type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	PublicKey    string    `json:"public_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Pending password reset, if any.
	ResetOTPHash      string     `json:"-"`
	ResetOTPExpiresAt *time.Time `json:"-"`
}

// HasPendingReset reports whether a reset code exists and has not expired.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetOTPHash != "" && u.ResetOTPExpiresAt != nil && now.Before(*u.ResetOTPExpiresAt)
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
