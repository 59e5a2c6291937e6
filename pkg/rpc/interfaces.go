package rpc

import (
	"context"

	"github.com/nearx-labs/nearx/pkg/balance"
)

// Client captures the RPC calls used while building the balance ledger.
type Client interface {
	ViewAccount(ctx context.Context, accountID, blockHash string) (balance.Balance, error)
	Status(ctx context.Context) (*StatusResponse, error)
}

var _ Client = (*HTTPClient)(nil)
var _ balance.Fetcher = (*HTTPClient)(nil)
