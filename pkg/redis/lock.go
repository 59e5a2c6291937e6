package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nearx-labs/nearx/pkg/balance"
)

var (
	ErrLockNotAcquired = errors.New("lock held by another owner")
	ErrLockLost        = balance.ErrLockLost
)

// release only deletes the key when it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend only refreshes the expiry when the key still carries our token
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a single-instance Redis lock (SET NX PX with a random token).
type Locker struct {
	client *Client
}

var _ balance.Locker = (*Locker)(nil)

func NewLocker(client *Client) *Locker {
	return &Locker{client: client}
}

// Acquire tries once; callers retry with backoff on ErrLockNotAcquired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (balance.Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.GetClient().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

type Lock struct {
	client *Client
	key    string
	token  string
}

func (k *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, k.client.GetClient(), []string{k.key}, k.token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (k *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, k.client.GetClient(), []string{k.key}, k.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
