package balance

import (
	"context"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
)

// Overlay buffers the balances written while one block is synthesized. Reads
// see buffered balances first and fall through to the base store. Nothing
// reaches the base store until Flush, so a block that fails half way leaves
// the store at the previous block's state.
type Overlay struct {
	base    Store
	pending *xsync.Map[string, Balance]
}

var _ Store = (*Overlay)(nil)

func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, pending: xsync.NewMap[string, Balance]()}
}

func (o *Overlay) Get(ctx context.Context, accountID, blockHash string) (Balance, error) {
	if b, ok := o.pending.Load(accountID); ok {
		return b, nil
	}
	return o.base.Get(ctx, accountID, blockHash)
}

func (o *Overlay) Set(_ context.Context, accountID string, b Balance) error {
	o.pending.Store(accountID, b)
	return nil
}

// Len is the number of buffered accounts.
func (o *Overlay) Len() int {
	return o.pending.Size()
}

// Flush writes the buffered balances to the base store. The buffer is kept,
// so a failed Flush can be repeated.
func (o *Overlay) Flush(ctx context.Context) error {
	balances := make(map[string]Balance, o.pending.Size())
	o.pending.Range(func(id string, b Balance) bool {
		balances[id] = b
		return true
	})
	if len(balances) == 0 {
		return nil
	}

	if bs, ok := o.base.(BatchSetter); ok {
		return bs.SetBalances(ctx, balances)
	}

	accounts := make([]string, 0, len(balances))
	for id := range balances {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	for _, id := range accounts {
		if err := o.base.Set(ctx, id, balances[id]); err != nil {
			return fmt.Errorf("flush balance of %s: %w", id, err)
		}
	}
	return nil
}
