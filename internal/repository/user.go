package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/signsure/signsure/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")

	// ErrResetNotPending means no unexpired reset code with the given hash
	// was stored for the user.
	ErrResetNotPending = errors.New("no matching pending reset")
)

const userColumns = `id, name, email, password_hash, public_key, reset_otp_hash, reset_otp_expires_at, created_at, updated_at`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, public_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.PublicKey,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their normalized email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// SetResetOTP stores a hashed reset code, replacing any pending one.
func (r *Repository) SetResetOTP(ctx context.Context, userID, otpHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET reset_otp_hash = $2, reset_otp_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, otpHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set reset otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ClearResetOTP removes any pending reset code.
func (r *Repository) ClearResetOTP(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET reset_otp_hash = NULL, reset_otp_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to clear reset otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// UpdatePassword sets a new password hash and consumes the pending reset
// code in one statement. The update only applies while otpHash is still the
// stored, unexpired code, so a code can be redeemed once.
func (r *Repository) UpdatePassword(ctx context.Context, userID, otpHash, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, reset_otp_hash = NULL, reset_otp_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND reset_otp_hash = $3 AND reset_otp_expires_at > NOW()
	`

	tag, err := r.pool.Exec(ctx, query, userID, passwordHash, otpHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResetNotPending
	}

	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		user    model.User
		otpHash *string
	)

	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.PublicKey,
		&otpHash,
		&user.ResetOTPExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if otpHash != nil {
		user.ResetOTPHash = *otpHash
	}

	return &user, nil
}
