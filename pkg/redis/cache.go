package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nearx-labs/nearx/pkg/balance"
)

const DefaultBalancePrefix = "nearx:balance:"

// BalanceCache stores balances as JSON under prefix+accountID.
type BalanceCache struct {
	client *Client
	prefix string
}

var _ balance.Cache = (*BalanceCache)(nil)

func NewBalanceCache(client *Client, prefix string) *BalanceCache {
	if prefix == "" {
		prefix = DefaultBalancePrefix
	}
	return &BalanceCache{client: client, prefix: prefix}
}

func (c *BalanceCache) key(accountID string) string {
	return c.prefix + accountID
}

func (c *BalanceCache) GetBalance(ctx context.Context, accountID string) (balance.Balance, error) {
	raw, err := c.client.GetClient().Get(ctx, c.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return balance.Balance{}, balance.ErrCacheMiss
	}
	if err != nil {
		return balance.Balance{}, err
	}
	var b balance.Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return balance.Balance{}, fmt.Errorf("decode cached balance %s: %w", accountID, err)
	}
	return b, nil
}

func (c *BalanceCache) SetBalance(ctx context.Context, accountID string, b balance.Balance) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.client.GetClient().Set(ctx, c.key(accountID), raw, 0).Err()
}
