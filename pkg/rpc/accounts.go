package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nearx-labs/nearx/pkg/balance"
)

// ErrAccountNotFound is returned when the account does not exist at the block.
var ErrAccountNotFound = balance.ErrAccountNotFound

// ViewAccount returns the staked and non-staked balance of accountID as of
// blockHash. Unknown accounts yield ErrAccountNotFound.
func (c *HTTPClient) ViewAccount(ctx context.Context, accountID, blockHash string) (balance.Balance, error) {
	req := viewAccountRequest{
		RequestType: requestViewAccount,
		BlockID:     blockHash,
		AccountID:   accountID,
	}

	var raw json.RawMessage
	if err := c.call(ctx, methodQuery, req, &raw); err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) && rpcErr.IsUnknownAccount() {
			return balance.Balance{}, fmt.Errorf("%w: %s at %s", ErrAccountNotFound, accountID, blockHash)
		}
		return balance.Balance{}, fmt.Errorf("view_account %s at %s: %w", accountID, blockHash, err)
	}

	var legacy queryResultError
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Error != "" {
		if strings.Contains(legacy.Error, "does not exist") {
			return balance.Balance{}, fmt.Errorf("%w: %s at %s", ErrAccountNotFound, accountID, blockHash)
		}
		return balance.Balance{}, fmt.Errorf("view_account %s at %s: %s", accountID, blockHash, legacy.Error)
	}

	var view AccountView
	if err := json.Unmarshal(raw, &view); err != nil {
		return balance.Balance{}, fmt.Errorf("decode view_account %s: %w", accountID, err)
	}
	b, err := balance.Parse(view.Locked, view.Amount)
	if err != nil {
		return balance.Balance{}, fmt.Errorf("view_account %s: %w", accountID, err)
	}
	return b, nil
}

// Status returns the node status.
func (c *HTTPClient) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.call(ctx, methodStatus, []any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
