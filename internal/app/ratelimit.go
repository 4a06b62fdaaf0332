package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimScope = "task_claim"

// ClaimLimiter decides whether a worker may claim another task now.
type ClaimLimiter interface {
	AllowClaim(ctx context.Context, workerID string) (ClaimDecision, error)
}

// ClaimDecision is the limiter's answer for one claim attempt.
// Claims is the number of claims counted in the current window, including this one when allowed.
type ClaimDecision struct {
	Allowed    bool
	Claims     int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the hint up to whole seconds, never below one.
func (d ClaimDecision) RetryAfterSeconds() int {
	seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Rejected attempts are not counted, so a worker hammering claim cannot push
// their own window further out.
var claimWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local allowed = 0
if current < limit then
  current = redis.call("INCR", KEYS[1])
  if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
  end
  allowed = 1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {allowed, current, ttl}
`)

// RedisClaimLimiter caps claims per worker in a fixed window shared by every
// replica. The check and the increment run atomically in one Lua script.
type RedisClaimLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisClaimLimiter allows limit claims per worker per window. A non-positive
// limit or window allows every claim.
func NewRedisClaimLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisClaimLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "job4meal:rate_limit"
	}
	return &RedisClaimLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		window: window,
	}
}

func (r *RedisClaimLimiter) key(workerID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, claimScope, workerID)
}

func (r *RedisClaimLimiter) AllowClaim(ctx context.Context, workerID string) (ClaimDecision, error) {
	workerID = strings.TrimSpace(workerID)
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 || workerID == "" {
		return ClaimDecision{Allowed: true}, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := claimWindowScript.Run(ctx, r.client, []string{r.key(workerID)}, windowMs, r.limit).Result()
	if err != nil {
		return ClaimDecision{}, err
	}
	return parseClaimDecision(raw, windowMs)
}

func parseClaimDecision(raw interface{}, windowMs int64) (ClaimDecision, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return ClaimDecision{}, fmt.Errorf("unexpected claim limiter response shape: %T", raw)
	}

	ints := make([]int64, len(values))
	for i, value := range values {
		n, ok := value.(int64)
		if !ok {
			return ClaimDecision{}, fmt.Errorf("unexpected claim limiter value type at %d: %T", i, value)
		}
		ints[i] = n
	}

	ttlMs := ints[2]
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	return ClaimDecision{
		Allowed:    ints[0] == 1,
		Claims:     int(ints[1]),
		RetryAfter: time.Duration(ttlMs) * time.Millisecond,
	}, nil
}
