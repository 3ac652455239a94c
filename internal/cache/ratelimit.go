package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitPrefix is the Redis key prefix for per-IP buckets.
const rateLimitPrefix = "ratelimit:"

// RateLimitResult is the outcome of one bucket check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time // when the bucket is full again
	RetryAfter time.Duration
}

// tokenBucketScript refills KEYS[1] at ARGV[1] tokens/s up to ARGV[2] and
// takes one token. Times are in milliseconds so sub-second refills count.
// Returns {allowed, ms until next token, tokens left, ms until full}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1]) / 1000
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait = math.ceil((1 - tokens) / rate)
end

local full = math.ceil((burst - tokens) / rate)
redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', key, full + 1000)

return {allowed, wait, math.floor(tokens), full}
`)

// CheckIPRateLimit takes a token from the bucket for ip within scope.
// Callers decide how to treat errors; the API lets requests through.
func (c *Cache) CheckIPRateLimit(ctx context.Context, scope, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 || burst <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d/s burst %d", ratePerSecond, burst)
	}

	now := time.Now()
	reply, err := tokenBucketScript.Run(ctx, c.client,
		[]string{bucketKey(scope, ip)},
		ratePerSecond, burst, now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}

	return parseBucketReply(reply, now)
}

func parseBucketReply(reply []int64, now time.Time) (*RateLimitResult, error) {
	if len(reply) != 4 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(reply))
	}
	return &RateLimitResult{
		Allowed:    reply[0] == 1,
		RetryAfter: time.Duration(reply[1]) * time.Millisecond,
		Remaining:  reply[2],
		ResetAt:    now.Add(time.Duration(reply[3]) * time.Millisecond),
	}, nil
}

// bucketKey hashes the IP so raw client addresses never reach Redis.
func bucketKey(scope, ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return rateLimitPrefix + scope + ":" + hex.EncodeToString(sum[:8])
}
