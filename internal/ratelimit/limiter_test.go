package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, map[Action]Rule{
		ActionLogin:   {Max: 3, Window: time.Minute},
		ActionOTPSend: {Max: 2, Window: time.Hour},
	}, nil)
}

func TestLimiter_CheckAfterFailures(t *testing.T) {
	ctx := context.Background()
	mr, l := newLimiter(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check(ctx, ActionLogin, "9876543210"))
		require.NoError(t, l.Hit(ctx, ActionLogin, "9876543210"))
	}
	assert.ErrorIs(t, l.Check(ctx, ActionLogin, "9876543210"), ErrRateLimited)
	assert.NoError(t, l.Check(ctx, ActionLogin, "9123456789"), "budgets are per subject")
	assert.Equal(t, time.Minute, l.RetryAfter(ctx, ActionLogin, "9876543210"))

	mr.FastForward(time.Minute)
	assert.NoError(t, l.Check(ctx, ActionLogin, "9876543210"))
}

func TestLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	_, l := newLimiter(t)

	for i := 0; i < 3; i++ {
		_ = l.Hit(ctx, ActionLogin, "9876543210")
	}
	l.Reset(ctx, ActionLogin, "9876543210")
	assert.NoError(t, l.Check(ctx, ActionLogin, "9876543210"))
}

func TestLimiter_HitBudget(t *testing.T) {
	ctx := context.Background()
	_, l := newLimiter(t)

	assert.NoError(t, l.Hit(ctx, ActionOTPSend, "9876543210"))
	assert.NoError(t, l.Hit(ctx, ActionOTPSend, "9876543210"))
	assert.ErrorIs(t, l.Hit(ctx, ActionOTPSend, "9876543210"), ErrRateLimited)
}

func TestLimiter_UnconfiguredActionAndNil(t *testing.T) {
	ctx := context.Background()
	_, l := newLimiter(t)
	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Hit(ctx, ActionOTPVerify, "9876543210"))
	}

	var none *Limiter
	assert.NoError(t, none.Check(ctx, ActionLogin, "x"))
	assert.NoError(t, none.Hit(ctx, ActionLogin, "x"))
	none.Reset(ctx, ActionLogin, "x")
	assert.Zero(t, none.RetryAfter(ctx, ActionLogin, "x"))
}

func TestLimiter_FailsOpen(t *testing.T) {
	ctx := context.Background()
	mr, l := newLimiter(t)
	mr.Close()

	assert.NoError(t, l.Check(ctx, ActionLogin, "9876543210"))
	assert.NoError(t, l.Hit(ctx, ActionLogin, "9876543210"))
}

func TestLimiter_WindowIsFixed(t *testing.T) {
	ctx := context.Background()
	mr, l := newLimiter(t)

	require.NoError(t, l.Hit(ctx, ActionLogin, "9876543210"))
	mr.FastForward(40 * time.Second)
	require.NoError(t, l.Hit(ctx, ActionLogin, "9876543210"))
	assert.Equal(t, 20*time.Second, mr.TTL("rl:login:9876543210"))
}

func TestLimiter_RestoresMissingExpiry(t *testing.T) {
	ctx := context.Background()
	mr, l := newLimiter(t)

	// A counter stranded past its budget with no expiry.
	require.NoError(t, mr.Set("rl:login:9876543210", "7"))
	require.Zero(t, mr.TTL("rl:login:9876543210"))

	assert.ErrorIs(t, l.Hit(ctx, ActionLogin, "9876543210"), ErrRateLimited)
	assert.Equal(t, time.Minute, mr.TTL("rl:login:9876543210"))
	assert.Equal(t, time.Minute, l.RetryAfter(ctx, ActionLogin, "9876543210"))

	mr.FastForward(time.Minute)
	assert.NoError(t, l.Check(ctx, ActionLogin, "9876543210"))
	assert.NoError(t, l.Hit(ctx, ActionLogin, "9876543210"))
}
