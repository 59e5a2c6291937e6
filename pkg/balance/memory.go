package balance

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	m *xsync.Map[string, Balance]
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: xsync.NewMap[string, Balance]()}
}

func (c *MemoryCache) GetBalance(_ context.Context, accountID string) (Balance, error) {
	b, ok := c.m.Load(accountID)
	if !ok {
		return Balance{}, ErrCacheMiss
	}
	return b, nil
}

func (c *MemoryCache) SetBalance(_ context.Context, accountID string, b Balance) error {
	c.m.Store(accountID, b)
	return nil
}

func (c *MemoryCache) Len() int {
	return c.m.Size()
}

// LocalLocker is a Locker for a single process. The ttl is ignored.
type LocalLocker struct {
	mu sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (Lock, error) {
	acquired := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return &localLock{l: l}, nil
	case <-ctx.Done():
		// hand the mutex back once the pending Lock goes through
		go func() {
			<-acquired
			l.mu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

type localLock struct {
	l    *LocalLocker
	once sync.Once
}

func (k *localLock) Extend(context.Context, time.Duration) error {
	return nil
}

func (k *localLock) Release(context.Context) error {
	k.once.Do(k.l.mu.Unlock)
	return nil
}
