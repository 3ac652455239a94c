package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// revokedTokenPrefix is the Redis key prefix for revoked session tokens.
	revokedTokenPrefix = "session:revoked:"
	// otpAttemptsPrefix is the Redis key prefix for failed reset code checks.
	otpAttemptsPrefix = "otp:attempts:"
	// publicKeyPrefix is the Redis key prefix for cached public keys.
	publicKeyPrefix = "pubkey:"
	// publicKeyTTL is the time-to-live for cached public keys.
	publicKeyTTL = 5 * time.Minute
)

// RevokeToken denylists a token ID until the token would have expired.
// Tokens that are already expired need no entry.
func (c *Cache) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedTokenPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a token ID has been denylisted.
func (c *Cache) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedTokenPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// IncrOTPAttempts records a failed reset code check and returns the count.
// The counter expires with the code it guards.
func (c *Cache) IncrOTPAttempts(ctx context.Context, userID string, ttl time.Duration) (int64, error) {
	key := otpAttemptsPrefix + userID

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return incr.Val(), nil
}

// OTPAttempts returns the number of failed checks recorded for a user.
func (c *Cache) OTPAttempts(ctx context.Context, userID string) (int64, error) {
	n, err := c.client.Get(ctx, otpAttemptsPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get otp attempts: %w", err)
	}
	return n, nil
}

// ResetOTPAttempts clears the failure counter for a user.
func (c *Cache) ResetOTPAttempts(ctx context.Context, userID string) error {
	return c.client.Del(ctx, otpAttemptsPrefix+userID).Err()
}

// GetPublicKey returns a cached public key. A miss returns ("", false, nil).
func (c *Cache) GetPublicKey(ctx context.Context, userID string) (string, bool, error) {
	key, err := c.client.Get(ctx, publicKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get public key: %w", err)
	}
	return key, true, nil
}

// SetPublicKey caches a user's public key.
func (c *Cache) SetPublicKey(ctx context.Context, userID, publicKey string) error {
	return c.client.Set(ctx, publicKeyPrefix+userID, publicKey, publicKeyTTL).Err()
}

// DeletePublicKey drops a cached public key.
func (c *Cache) DeletePublicKey(ctx context.Context, userID string) error {
	return c.client.Del(ctx, publicKeyPrefix+userID).Err()
}
