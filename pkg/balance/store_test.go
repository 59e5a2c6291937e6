package balance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nearx-labs/nearx/pkg/retry"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) ViewAccount(ctx context.Context, accountID, blockHash string) (Balance, error) {
	args := m.Called(ctx, accountID, blockHash)
	return args.Get(0).(Balance), args.Error(1)
}

// countingLocker wraps LocalLocker and tracks how many locks are outstanding.
type countingLocker struct {
	inner    *LocalLocker
	mu       sync.Mutex
	held     int
	acquired int
	failNext int
}

func (c *countingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	c.mu.Lock()
	if c.failNext > 0 {
		c.failNext--
		c.mu.Unlock()
		return nil, errors.New("lock busy")
	}
	c.mu.Unlock()

	l, err := c.inner.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.held++
	c.acquired++
	c.mu.Unlock()
	return &countingLock{Lock: l, c: c}, nil
}

type countingLock struct {
	Lock
	c *countingLocker
}

func (l *countingLock) Release(ctx context.Context) error {
	l.c.mu.Lock()
	l.c.held--
	l.c.mu.Unlock()
	return l.Lock.Release(ctx)
}

func testOptions() Options {
	fast := retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return Options{LockKey: "test:lock", LockTTL: time.Second, LockRetry: fast, FetchRetry: fast}
}

func newTestStore(t *testing.T, fetcher Fetcher) (*CachedStore, *MemoryCache, *countingLocker) {
	cache := NewMemoryCache()
	locker := &countingLocker{inner: NewLocalLocker()}
	return NewCachedStore(cache, locker, fetcher, testOptions(), zaptest.NewLogger(t)), cache, locker
}

func TestCachedStoreGetHitsCacheFirst(t *testing.T) {
	fetcher := &mockFetcher{}
	store, cache, locker := newTestStore(t, fetcher)
	ctx := context.Background()
	require.NoError(t, cache.SetBalance(ctx, "alice.near", MustParse("0", "1000")))

	got, err := store.Get(ctx, "alice.near", "H1")
	require.NoError(t, err)
	assert.True(t, got.Equal(MustParse("0", "1000")))
	fetcher.AssertNotCalled(t, "ViewAccount", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, locker.held)
	assert.Equal(t, 1, locker.acquired)
}

func TestCachedStoreGetFallsBackToRPCAndCaches(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("ViewAccount", mock.Anything, "bob.near", "H1").Return(MustParse("10", "20"), nil).Once()
	store, cache, _ := newTestStore(t, fetcher)
	ctx := context.Background()

	got, err := store.Get(ctx, "bob.near", "H1")
	require.NoError(t, err)
	assert.True(t, got.Equal(MustParse("10", "20")))

	cached, err := cache.GetBalance(ctx, "bob.near")
	require.NoError(t, err)
	assert.True(t, cached.Equal(got))

	// second read is served by the cache
	_, err = store.Get(ctx, "bob.near", "H2")
	require.NoError(t, err)
	fetcher.AssertExpectations(t)
}

func TestCachedStoreGetTreatsUnknownAccountAsZero(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("ViewAccount", mock.Anything, "new.near", "H1").Return(Balance{}, ErrAccountNotFound).Once()
	store, _, _ := newTestStore(t, fetcher)

	got, err := store.Get(context.Background(), "new.near", "H1")
	require.NoError(t, err)
	assert.True(t, got.Equal(Zero()))
}

func TestCachedStoreGetRetriesThenFails(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("ViewAccount", mock.Anything, "bob.near", "H1").Return(Balance{}, errors.New("timeout"))
	store, cache, locker := newTestStore(t, fetcher)

	_, err := store.Get(context.Background(), "bob.near", "H1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch balance of bob.near at H1")
	fetcher.AssertNumberOfCalls(t, "ViewAccount", 3)
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, locker.held, "lock must be released on failure")
}

func TestCachedStoreRetriesLockAcquisition(t *testing.T) {
	store, cache, locker := newTestStore(t, &mockFetcher{})
	locker.failNext = 2

	require.NoError(t, store.Set(context.Background(), "alice.near", MustParse("0", "5")))
	got, err := cache.GetBalance(context.Background(), "alice.near")
	require.NoError(t, err)
	assert.True(t, got.Equal(MustParse("0", "5")))
	assert.Equal(t, 0, locker.held)
}

func TestCachedStoreLockExhaustion(t *testing.T) {
	store, _, locker := newTestStore(t, &mockFetcher{})
	locker.failNext = 10

	err := store.Set(context.Background(), "alice.near", Zero())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire balance lock")
}

func TestCachedStoreSerializesConcurrentUpdates(t *testing.T) {
	store, cache, _ := newTestStore(t, &mockFetcher{})
	ctx := context.Background()
	require.NoError(t, cache.SetBalance(ctx, "counter.near", MustParse("0", "0")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithLock(ctx, func(ctx context.Context) error {
				b, err := cache.GetBalance(ctx, "counter.near")
				if err != nil {
					return err
				}
				b.NonStaked = b.NonStaked.Add(MustParse("0", "1").NonStaked)
				return cache.SetBalance(ctx, "counter.near", b)
			})
		}()
	}
	wg.Wait()

	got, err := cache.GetBalance(ctx, "counter.near")
	require.NoError(t, err)
	assert.Equal(t, "20", got.NonStaked.String())
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	held, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, held.Release(context.Background()))
	again, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(context.Background()))
}

// extendingLocker hands out locks that count Extend calls.
type extendingLocker struct {
	extends atomic.Int32
	lose    bool
}

func (l *extendingLocker) Acquire(context.Context, string, time.Duration) (Lock, error) {
	return &extendingLock{l: l}, nil
}

type extendingLock struct {
	l *extendingLocker
}

func (k *extendingLock) Extend(context.Context, time.Duration) error {
	k.l.extends.Add(1)
	if k.l.lose {
		return ErrLockLost
	}
	return nil
}

func (k *extendingLock) Release(context.Context) error { return nil }

func TestCachedStoreExtendsLockWhileHeld(t *testing.T) {
	locker := &extendingLocker{}
	opts := testOptions()
	opts.LockTTL = 30 * time.Millisecond
	store := NewCachedStore(NewMemoryCache(), locker, &mockFetcher{}, opts, zaptest.NewLogger(t))

	err := store.WithLock(context.Background(), func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, locker.extends.Load(), int32(2))

	// no extension once the section is over
	after := locker.extends.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, locker.extends.Load())
}

func TestCachedStoreLostLockCancelsSection(t *testing.T) {
	locker := &extendingLocker{lose: true}
	opts := testOptions()
	opts.LockTTL = 30 * time.Millisecond
	store := NewCachedStore(NewMemoryCache(), locker, &mockFetcher{}, opts, zaptest.NewLogger(t))

	err := store.WithLock(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockLost)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachedStoreSetBalances(t *testing.T) {
	store, cache, locker := newTestStore(t, &mockFetcher{})
	ctx := context.Background()

	require.NoError(t, store.SetBalances(ctx, map[string]Balance{
		"alice.near": MustParse("0", "1"),
		"bob.near":   MustParse("2", "3"),
	}))
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, 1, locker.acquired, "one lock for the whole batch")
	assert.Equal(t, 0, locker.held)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate(10*time.Second))

	short := DefaultOptions()
	short.LockRetry = retry.ShortConfig()
	err := short.Validate(10 * time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock acquisition gives up")

	noTTL := DefaultOptions()
	noTTL.LockTTL = 0
	assert.Error(t, noTTL.Validate(time.Second))
}
