package guardx_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/guardx"
	"github.com/stretchr/testify/require"
)

func newRedisGuard(t *testing.T, def guardx.Window, actions map[string]guardx.Window) (*guardx.RedisGuard, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return guardx.NewRedisGuard(rdb, "test-guard", def, actions), mr
}

func TestRedisGuardBudget(t *testing.T) {
	ctx := context.Background()
	guard, _ := newRedisGuard(t, guardx.DefaultWindow, guardx.SensitiveActions())

	for i := range 5 {
		d, err := guard.CheckAndRecord(ctx, guardx.ActionVerify2FA, "user:42")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should pass", i+1)
	}

	d, err := guard.CheckAndRecord(ctx, guardx.ActionVerify2FA, "user:42")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestRedisGuardWindowExpiry(t *testing.T) {
	ctx := context.Background()
	guard, mr := newRedisGuard(t,
		guardx.DefaultWindow,
		map[string]guardx.Window{guardx.ActionLogin: {Requests: 2, Span: time.Minute}},
	)

	for range 2 {
		d, err := guard.CheckAndRecord(ctx, guardx.ActionLogin, "a@x.com")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := guard.CheckAndRecord(ctx, guardx.ActionLogin, "a@x.com")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Once the window lapses the budget resets.
	mr.FastForward(time.Minute + time.Second)

	d, err = guard.CheckAndRecord(ctx, guardx.ActionLogin, "a@x.com")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestRedisGuardUnavailable(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	guard := guardx.NewRedisGuard(rdb, "", guardx.DefaultWindow, nil)

	mr.Close()

	_, err = guard.CheckAndRecord(ctx, guardx.ActionLogin, "a@x.com")
	require.Error(t, err, "an unreachable backend must surface, not silently allow")
}
