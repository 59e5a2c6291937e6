package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nearx-labs/nearx/pkg/balance"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, zaptest.NewLogger(t)), mr
}

func TestBalanceCache(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	cache := NewBalanceCache(client, "")

	_, err := cache.GetBalance(ctx, "alice.near")
	assert.ErrorIs(t, err, balance.ErrCacheMiss)

	want := balance.MustParse("12", "340282366920938463463374607431768211455")
	require.NoError(t, cache.SetBalance(ctx, "alice.near", want))

	got, err := cache.GetBalance(ctx, "alice.near")
	require.NoError(t, err)
	assert.True(t, got.Equal(want))

	raw, err := mr.Get(DefaultBalancePrefix + "alice.near")
	require.NoError(t, err)
	assert.JSONEq(t, `{"staked":"12","nonStaked":"340282366920938463463374607431768211455"}`, raw)
}

func TestBalanceCache_CorruptEntry(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewBalanceCache(client, "p:")
	require.NoError(t, mr.Set("p:bob.near", "not json"))

	_, err := cache.GetBalance(context.Background(), "bob.near")
	require.Error(t, err)
	assert.False(t, errors.Is(err, balance.ErrCacheMiss))
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	locker := NewLocker(client)

	lock, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("k"))

	again, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_ExpiredLockIsNotStolen(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	locker := NewLocker(client)

	first, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	second, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Release(ctx), ErrLockLost)
	assert.True(t, mr.Exists("k"), "the new owner keeps the key")
	require.NoError(t, second.Release(ctx))
}

func TestLocker_Extend(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	locker := NewLocker(client)

	lock, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Extend(ctx, 10*time.Second))

	mr.FastForward(2 * time.Second)
	assert.True(t, mr.Exists("k"), "extended lock outlives its first ttl")
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	mr.FastForward(10 * time.Second)
	assert.ErrorIs(t, lock.Extend(ctx, 10*time.Second), balance.ErrLockLost)
	assert.False(t, mr.Exists("k"), "an expired lock is not revived")
}

func TestCachedStoreOverRedis(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	fetches := 0
	fetcher := fetcherFunc(func(context.Context, string, string) (balance.Balance, error) {
		fetches++
		return balance.Balance{}, balance.ErrAccountNotFound
	})
	store := balance.NewCachedStore(NewBalanceCache(client, ""), NewLocker(client), fetcher, balance.DefaultOptions(), zaptest.NewLogger(t))

	b, err := store.Get(ctx, "new.near", "hash")
	require.NoError(t, err)
	assert.True(t, b.Equal(balance.Zero()))

	require.NoError(t, store.Set(ctx, "new.near", balance.MustParse("0", "7")))
	b, err = store.Get(ctx, "new.near", "hash")
	require.NoError(t, err)
	assert.Equal(t, "7", b.NonStaked.String())
	assert.Equal(t, 1, fetches)
}

type fetcherFunc func(ctx context.Context, accountID, blockHash string) (balance.Balance, error)

func (f fetcherFunc) ViewAccount(ctx context.Context, accountID, blockHash string) (balance.Balance, error) {
	return f(ctx, accountID, blockHash)
}

func TestLastHeight(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	h, err := client.LastHeight(ctx)
	require.NoError(t, err)
	assert.Zero(t, h)

	require.NoError(t, client.SetLastHeight(ctx, 123456))
	h, err = client.LastHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), h)
}

func TestStreamConsumerOverRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _ := newTestClient(t)

	for _, h := range []string{"1", "2"} {
		_, err := client.XAdd(ctx, "near:blocks", map[string]interface{}{"height": h, "data": "{}"})
		require.NoError(t, err)
	}

	cfg := StreamConsumerConfig{
		Stream: "near:blocks", Group: "ledger", Consumer: "c1",
		Count: 1, Block: 50 * time.Millisecond, StopOnError: true,
		Logger: zaptest.NewLogger(t),
	}
	consumer, err := NewStreamConsumer(client, cfg)
	require.NoError(t, err)

	var seen []uint64
	err = consumer.Run(ctx, func(_ context.Context, msg Message) error {
		seen = append(seen, msg.GetHeight())
		if msg.GetHeight() == 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.ErrorContains(t, err, "boom")
	assert.Equal(t, []uint64{1, 2}, seen)

	pending, err := client.GetClient().XPending(ctx, "near:blocks", "ledger").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending.Count, "only the failed entry stays pending")

	// a restart replays the pending entry first
	seen = nil
	runCtx, stop := context.WithCancel(ctx)
	err = consumer.Run(runCtx, func(_ context.Context, msg Message) error {
		seen = append(seen, msg.GetHeight())
		stop()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []uint64{2}, seen)
}
