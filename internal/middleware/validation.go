package middleware

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation limits.
const (
	// MaxNameLength is the maximum length of a display name, in runes.
	MaxNameLength = 100

	// MaxEmailLength is the maximum length of an email address (RFC 5321).
	MaxEmailLength = 254

	// MaxPasswordLength caps input to the password hasher.
	MaxPasswordLength = 1024

	// MaxPublicKeyLength bounds the encoded public key. A P-384 SPKI is
	// 120 bytes, 160 in base64, and a little more as PEM.
	MaxPublicKeyLength = 1024
)

// Validation errors.
var (
	ErrNameTooLong      = errors.New("name exceeds maximum length")
	ErrNameInvalid      = errors.New("name contains control characters")
	ErrEmailTooLong     = errors.New("email exceeds maximum length")
	ErrEmailInvalid     = errors.New("email address is invalid")
	ErrPasswordTooLong  = errors.New("password exceeds maximum length")
	ErrPublicKeyTooLong = errors.New("public key exceeds maximum length")
	ErrOTPInvalid       = errors.New("otp must be 6 digits")
	ErrInvalidUTF8      = errors.New("input is not valid UTF-8")
)

// emailPattern is a pragmatic check: one @, no spaces, a dot in the domain.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// otpPattern matches exactly six ASCII digits.
var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// ValidateName validates a display name. Empty names are left to the
// required-field check.
func ValidateName(name string) error {
	if !utf8.ValidString(name) {
		return ErrInvalidUTF8
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrNameInvalid
		}
	}
	return nil
}

// ValidateEmail validates an email address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if !emailPattern.MatchString(email) {
		return ErrEmailInvalid
	}
	return nil
}

// ValidatePassword bounds password length.
func ValidatePassword(password string) error {
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidatePublicKey bounds the size of a submitted public key. Parsing is
// done by the service.
func ValidatePublicKey(key string) error {
	if len(key) > MaxPublicKeyLength {
		return ErrPublicKeyTooLong
	}
	return nil
}

// ValidateOTP checks the reset code format.
func ValidateOTP(otp string) error {
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return nil
	}
	if !otpPattern.MatchString(otp) {
		return ErrOTPInvalid
	}
	return nil
}
