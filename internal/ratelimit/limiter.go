// Package ratelimit keeps fixed-window attempt counters in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited is returned when a subject exhausted its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("ratelimit redis unavailable")
)

// Action names a throttled operation.
type Action string

const (
	ActionLogin     Action = "login"
	ActionOTPSend   Action = "otp-send"
	ActionOTPVerify Action = "otp-verify"
)

// Rule allows Max attempts per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Limiter enforces per-subject budgets. A nil *Limiter allows everything, so
// deployments without Redis skip throttling. Redis failures are logged and
// fail open.
type Limiter struct {
	redis  redis.UniversalClient
	rules  map[Action]Rule
	prefix string
	log    *zap.Logger
}

// New creates a Limiter. Actions without a rule, or with Max <= 0, are not
// throttled.
func New(client redis.UniversalClient, rules map[Action]Rule, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{redis: client, rules: rules, prefix: "rl", log: log}
}

func (l *Limiter) key(action Action, subject string) string {
	return l.prefix + ":" + string(action) + ":" + subject
}

func (l *Limiter) rule(action Action) (Rule, bool) {
	if l == nil {
		return Rule{}, false
	}
	r, ok := l.rules[action]
	return r, ok && r.Max > 0 && r.Window > 0
}

// Check reports ErrRateLimited once subject recorded Max failures within the
// current window. It does not count as an attempt.
func (l *Limiter) Check(ctx context.Context, action Action, subject string) error {
	r, ok := l.rule(action)
	if !ok {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(action, subject)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.failOpen(action, err)
		}
		return nil
	}
	if count >= int64(r.Max) {
		return ErrRateLimited
	}
	return nil
}

// Hit records one attempt and returns ErrRateLimited when it exceeds the
// budget.
func (l *Limiter) Hit(ctx context.Context, action Action, subject string) error {
	r, ok := l.rule(action)
	if !ok {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key(action, subject), r.Window)
	if err != nil {
		l.failOpen(action, err)
		return nil
	}
	if count > int64(r.Max) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter, typically after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, action Action, subject string) {
	if _, ok := l.rule(action); !ok {
		return
	}
	if err := l.redis.Del(ctx, l.key(action, subject)).Err(); err != nil {
		l.failOpen(action, err)
	}
}

// RetryAfter returns the remaining window for subject, or zero.
func (l *Limiter) RetryAfter(ctx context.Context, action Action, subject string) time.Duration {
	if _, ok := l.rule(action); !ok {
		return 0
	}
	ttl, err := l.redis.TTL(ctx, l.key(action, subject)).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// incrementWithTTL bumps the counter and reads its TTL in one transaction. A
// counter left without an expiry, whether new or orphaned by an earlier failed
// EXPIRE, gets the window applied, so no subject can stay locked out forever.
func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var (
		incr *redis.IntCmd
		left *redis.DurationCmd
	)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		left = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: only a counter without an expiry starts the clock.
	if left.Val() < 0 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return incr.Val(), nil
}

func (l *Limiter) failOpen(action Action, err error) {
	l.log.Warn("rate limiter unavailable, allowing request",
		zap.String("action", string(action)),
		zap.Error(err),
	)
}
