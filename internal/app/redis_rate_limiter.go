/**
 * @description
 * Shared payment admission budget backed by Redis, so every instance of the
 * service counts against one fixed window per buyer.
 *
 * @notes
 * - The counter and its expiry are set in one script so a crash between the
 *   two can never leave a key without a TTL.
 * - Subjects are digested before they become part of a key; raw buyer ids and
 *   credential hashes never reach Redis.
 * - Results follow the local limiter: retry-after is reported only once the
 *   budget is exhausted.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Script execution (EVALSHA with EVAL fallback).
 * - golang.org/x/crypto/blake2b: Subject digests.
 */

package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const defaultRedisRateLimitPrefix = "backing:rate_limit"

// paymentWindowScript increments the window counter, starting the window on
// the first hit, and returns {count, remaining window in ms}. Hits past
// limit+1 are not counted so a hammering client cannot extend its own lockout.
var paymentWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current <= tonumber(ARGV[2]) then
  current = redis.call("INCR", KEYS[1])
end
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisPaymentRateLimiter is a PaymentRateLimiter whose windows live in Redis.
type RedisPaymentRateLimiter struct {
	scripter redis.Scripter
	prefix   string
}

// NewRedisPaymentRateLimiter keys every window under prefix. Any go-redis
// client (single node, cluster or ring) satisfies redis.Scripter.
func NewRedisPaymentRateLimiter(scripter redis.Scripter, prefix string) *RedisPaymentRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRedisRateLimitPrefix
	}
	return &RedisPaymentRateLimiter{scripter: scripter, prefix: prefix}
}

// ConsumeRateLimit implements PaymentRateLimiter.
func (r *RedisPaymentRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.scripter == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := r.windowKey(scope, subject)
	if !ok {
		return 0, 0, nil
	}
	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := paymentWindowScript.Run(ctx, r.scripter, []string{key}, windowMs, limit).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("payment window script: %w", err)
	}
	count, ttlMs, err := parseWindowReply(raw)
	if err != nil {
		return 0, 0, err
	}
	if count <= limit {
		return count, 0, nil
	}
	if ttlMs <= 0 {
		ttlMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return count, retryAfter, nil
}

func (r *RedisPaymentRateLimiter) windowKey(scope, subject string) (string, bool) {
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return "", false
	}
	digest := blake2b.Sum256([]byte(subject))
	return r.prefix + ":" + scope + ":" + hex.EncodeToString(digest[:16]), true
}

func parseWindowReply(raw any) (int, int64, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected payment window reply %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected payment window count %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected payment window ttl %T", values[1])
	}
	return int(count), ttlMs, nil
}
