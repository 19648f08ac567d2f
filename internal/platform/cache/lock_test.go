package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ledger:period:1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "ledger:period:1")
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	release2, err := locker.Acquire(ctx, "ledger:period:1")
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client, time.Second)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	_, err = locker.Acquire(ctx, "k")
	require.NoError(t, err)
}

func TestNilLockerIsNoop(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}
