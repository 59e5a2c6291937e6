package balance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nearx-labs/nearx/pkg/retry"
)

var (
	// ErrCacheMiss is returned by Cache implementations when the account is not cached.
	ErrCacheMiss = errors.New("balance not cached")
	// ErrAccountNotFound is returned by Fetcher implementations when the account
	// does not exist at the requested block.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLockLost is returned by Lock implementations once another owner may
	// hold the key.
	ErrLockLost = errors.New("lock expired before release")
)

// Store is the write-through balance store consulted while synthesizing events.
type Store interface {
	Get(ctx context.Context, accountID, blockHash string) (Balance, error)
	Set(ctx context.Context, accountID string, b Balance) error
}

type Cache interface {
	GetBalance(ctx context.Context, accountID string) (Balance, error)
	SetBalance(ctx context.Context, accountID string, b Balance) error
}

// Lock is a held mutual-exclusion token.
type Lock interface {
	// Extend pushes the expiry ttl into the future. It fails with
	// ErrLockLost when the lock already expired.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Fetcher reads historical account state, normally over RPC.
type Fetcher interface {
	ViewAccount(ctx context.Context, accountID, blockHash string) (Balance, error)
}

// BatchSetter is implemented by stores that can write many balances under
// one lock.
type BatchSetter interface {
	SetBalances(ctx context.Context, balances map[string]Balance) error
}

// Observer receives store notifications; metrics implement it.
type Observer interface {
	ObserveCacheMiss()
}

type Options struct {
	LockKey string
	LockTTL time.Duration
	// LockRetry bounds lock acquisition attempts.
	LockRetry retry.Config
	// FetchRetry bounds RPC attempts on a cache miss.
	FetchRetry retry.Config
	Observer   Observer
}

func DefaultOptions() Options {
	return Options{
		LockKey: "nearx:balances:lock",
		LockTTL: 30 * time.Second,
		// waits out a holder that spends the whole FetchRetry budget on RPC
		LockRetry: retry.Config{
			MaxRetries:    40,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			Multiplier:    2.0,
			JitterEnabled: true,
		},
		FetchRetry: retry.ShortConfig(),
	}
}

// Validate checks that a caller waiting for the lock does not give up before
// a holder stuck on RPC calls of up to fetchTimeout each has finished.
func (o Options) Validate(fetchTimeout time.Duration) error {
	if o.LockTTL <= 0 {
		return errors.New("lock ttl must be positive")
	}
	hold := o.FetchRetry.MaxElapsed(fetchTimeout)
	if wait := o.LockRetry.MinWait(); wait < hold {
		return fmt.Errorf("lock acquisition gives up after %s but a holder may fetch for %s", wait, hold)
	}
	return nil
}

// CachedStore serializes every Get and Set on one lock key. A cache miss
// falls back to the account state at the given block.
type CachedStore struct {
	cache   Cache
	locker  Locker
	fetcher Fetcher
	opts    Options
	logger  *zap.Logger
}

func NewCachedStore(cache Cache, locker Locker, fetcher Fetcher, opts Options, logger *zap.Logger) *CachedStore {
	def := DefaultOptions()
	if opts.LockKey == "" {
		opts.LockKey = def.LockKey
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = def.LockTTL
	}
	if opts.LockRetry.MaxRetries == 0 {
		opts.LockRetry = def.LockRetry
	}
	if opts.FetchRetry.MaxRetries == 0 {
		opts.FetchRetry = def.FetchRetry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{cache: cache, locker: locker, fetcher: fetcher, opts: opts, logger: logger}
}

// WithLock runs fn while holding the store lock. The lock is extended every
// third of its ttl until fn returns and is always released, also when fn
// fails or panics. If the lock is lost fn's context is cancelled.
func (s *CachedStore) WithLock(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	var lock Lock
	acqErr := retry.WithBackoff(ctx, s.opts.LockRetry, s.logger, "balance_lock_acquire", func() error {
		l, e := s.locker.Acquire(ctx, s.opts.LockKey, s.opts.LockTTL)
		if e != nil {
			return e
		}
		lock = l
		return nil
	})
	if acqErr != nil {
		return fmt.Errorf("acquire balance lock: %w", acqErr)
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(lockCtx, lock, stop, cancel)
	}()

	defer func() {
		close(stop)
		wg.Wait()
		if cause := context.Cause(lockCtx); err != nil && errors.Is(cause, ErrLockLost) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		cancel(nil)

		// release on a fresh context so a cancelled caller still frees the key
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer relCancel()
		if relErr := lock.Release(relCtx); relErr != nil {
			s.logger.Warn("Failed to release balance lock", zap.String("key", s.opts.LockKey), zap.Error(relErr))
			if err == nil {
				err = fmt.Errorf("release balance lock: %w", relErr)
			}
		}
	}()
	return fn(lockCtx)
}

func (s *CachedStore) keepAlive(ctx context.Context, lock Lock, stop <-chan struct{}, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(max(s.opts.LockTTL/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Extend(ctx, s.opts.LockTTL)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrLockLost) {
				s.logger.Error("Balance lock lost while held", zap.String("key", s.opts.LockKey))
				lost(err)
				return
			}
			// the next tick tries again while the ttl still runs
			s.logger.Warn("Failed to extend balance lock", zap.String("key", s.opts.LockKey), zap.Error(err))
		}
	}
}

func (s *CachedStore) Get(ctx context.Context, accountID, blockHash string) (Balance, error) {
	var out Balance
	err := s.WithLock(ctx, func(ctx context.Context) error {
		cached, err := s.cache.GetBalance(ctx, accountID)
		if err == nil {
			out = cached
			return nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return fmt.Errorf("read cached balance of %s: %w", accountID, err)
		}

		if s.opts.Observer != nil {
			s.opts.Observer.ObserveCacheMiss()
		}
		fetched, err := s.fetch(ctx, accountID, blockHash)
		if err != nil {
			return err
		}
		if err := s.cache.SetBalance(ctx, accountID, fetched); err != nil {
			return fmt.Errorf("cache balance of %s: %w", accountID, err)
		}
		out = fetched
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return out, nil
}

func (s *CachedStore) Set(ctx context.Context, accountID string, b Balance) error {
	return s.WithLock(ctx, func(ctx context.Context) error {
		if err := s.cache.SetBalance(ctx, accountID, b); err != nil {
			return fmt.Errorf("cache balance of %s: %w", accountID, err)
		}
		return nil
	})
}

// SetBalances writes every balance under a single lock, in account order.
func (s *CachedStore) SetBalances(ctx context.Context, balances map[string]Balance) error {
	accounts := make([]string, 0, len(balances))
	for id := range balances {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)

	return s.WithLock(ctx, func(ctx context.Context) error {
		for _, id := range accounts {
			if err := s.cache.SetBalance(ctx, id, balances[id]); err != nil {
				return fmt.Errorf("cache balance of %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *CachedStore) fetch(ctx context.Context, accountID, blockHash string) (Balance, error) {
	var out Balance
	err := retry.WithBackoff(ctx, s.opts.FetchRetry, s.logger, "view_account", func() error {
		b, err := s.fetcher.ViewAccount(ctx, accountID, blockHash)
		if errors.Is(err, ErrAccountNotFound) {
			s.logger.Debug("Account not found at block, using zero balance",
				zap.String("account_id", accountID),
				zap.String("block_hash", blockHash))
			out = Zero()
			return nil
		}
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return Balance{}, fmt.Errorf("fetch balance of %s at %s: %w", accountID, blockHash, err)
	}
	return out, nil
}
