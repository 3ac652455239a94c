//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/signsure/signsure/internal/testutil"
)

// ============================================================================
// User Repository Integration Tests
// ============================================================================

func TestIntegrationUserRepository_CreateAndGet(t *testing.T) {
	ctx, repo := newUserTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	byID, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if byID.Email != user.Email || byID.Name != user.Name || byID.PublicKey != user.PublicKey {
		t.Errorf("GetUserByID() = %+v, want %+v", byID, user)
	}
	if byID.ResetOTPHash != "" || byID.ResetOTPExpiresAt != nil {
		t.Error("new user should have no pending reset")
	}

	byEmail, err := repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("GetUserByEmail() ID = %q, want %q", byEmail.ID, user.ID)
	}
}

func TestIntegrationUserRepository_DuplicateEmail(t *testing.T) {
	ctx, repo := newUserTestEnv(t)

	first := testutil.NewTestUser(t)
	second := testutil.NewTestUser(t)
	second.Email = first.Email

	if err := repo.CreateUser(ctx, first); err != nil {
		t.Fatalf("CreateUser (first) failed: %v", err)
	}

	err := repo.CreateUser(ctx, second)
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("CreateUser (duplicate) error = %v, want %v", err, ErrEmailExists)
	}
}

func TestIntegrationUserRepository_NotFound(t *testing.T) {
	ctx, repo := newUserTestEnv(t)

	if _, err := repo.GetUserByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUserByID error = %v, want %v", err, ErrUserNotFound)
	}
	if _, err := repo.GetUserByEmail(ctx, "missing@example.test"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUserByEmail error = %v, want %v", err, ErrUserNotFound)
	}
	if err := repo.SetResetOTP(ctx, "missing", "h", time.Now()); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetResetOTP error = %v, want %v", err, ErrUserNotFound)
	}
	if err := repo.ClearResetOTP(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ClearResetOTP error = %v, want %v", err, ErrUserNotFound)
	}
	if err := repo.UpdatePassword(ctx, "missing", "otp", "h"); !errors.Is(err, ErrResetNotPending) {
		t.Errorf("UpdatePassword error = %v, want %v", err, ErrResetNotPending)
	}
}

func TestIntegrationUserRepository_ResetOTPLifecycle(t *testing.T) {
	ctx, repo := newUserTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Microsecond)
	if err := repo.SetResetOTP(ctx, user.ID, "otp-hash", expires); err != nil {
		t.Fatalf("SetResetOTP failed: %v", err)
	}

	got, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.ResetOTPHash != "otp-hash" {
		t.Errorf("ResetOTPHash = %q, want %q", got.ResetOTPHash, "otp-hash")
	}
	if got.ResetOTPExpiresAt == nil || !got.ResetOTPExpiresAt.Equal(expires) {
		t.Errorf("ResetOTPExpiresAt = %v, want %v", got.ResetOTPExpiresAt, expires)
	}
	if !got.HasPendingReset(time.Now()) {
		t.Error("user should have a pending reset")
	}

	if err := repo.ClearResetOTP(ctx, user.ID); err != nil {
		t.Fatalf("ClearResetOTP failed: %v", err)
	}
	got, _ = repo.GetUserByID(ctx, user.ID)
	if got.HasPendingReset(time.Now()) {
		t.Error("reset should be cleared")
	}
}

func TestIntegrationUserRepository_UpdatePasswordConsumesOTP(t *testing.T) {
	ctx, repo := newUserTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := repo.SetResetOTP(ctx, user.ID, "otp-hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetResetOTP failed: %v", err)
	}

	if err := repo.UpdatePassword(ctx, user.ID, "otp-hash", "new-hash"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}

	got, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want %q", got.PasswordHash, "new-hash")
	}
	if got.ResetOTPHash != "" || got.ResetOTPExpiresAt != nil {
		t.Error("UpdatePassword should clear the reset code")
	}
	if !got.UpdatedAt.After(user.UpdatedAt) {
		t.Error("UpdatedAt should advance")
	}

	if err := repo.UpdatePassword(ctx, user.ID, "otp-hash", "second-hash"); !errors.Is(err, ErrResetNotPending) {
		t.Errorf("second redemption error = %v, want %v", err, ErrResetNotPending)
	}
}

func TestIntegrationUserRepository_UpdatePasswordRequiresPendingCode(t *testing.T) {
	ctx, repo := newUserTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := repo.SetResetOTP(ctx, user.ID, "otp-hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetResetOTP failed: %v", err)
	}
	if err := repo.UpdatePassword(ctx, user.ID, "other-hash", "new-hash"); !errors.Is(err, ErrResetNotPending) {
		t.Errorf("wrong code error = %v, want %v", err, ErrResetNotPending)
	}

	if err := repo.SetResetOTP(ctx, user.ID, "otp-hash", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SetResetOTP failed: %v", err)
	}
	if err := repo.UpdatePassword(ctx, user.ID, "otp-hash", "new-hash"); !errors.Is(err, ErrResetNotPending) {
		t.Errorf("expired code error = %v, want %v", err, ErrResetNotPending)
	}

	got, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.PasswordHash != user.PasswordHash {
		t.Error("password must not change without a pending code")
	}
}

func TestIntegrationUserRepository_UpdatePasswordConcurrentRedemption(t *testing.T) {
	ctx, repo := newUserTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := repo.SetResetOTP(ctx, user.ID, "otp-hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetResetOTP failed: %v", err)
	}

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			errs <- repo.UpdatePassword(ctx, user.ID, "otp-hash", fmt.Sprintf("hash-%d", i))
		}(i)
	}

	var ok int
	for i := 0; i < n; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrResetNotPending):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d redemptions succeeded, want 1", ok)
	}
}

// ============================================================================
// Test Environment Setup
// ============================================================================

func newUserTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := testutil.ResetUsersSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset users schema: %v", err)
	}

	return ctx, repo
}
