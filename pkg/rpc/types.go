package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error as returned by nearcore. Newer nodes set Name and
// Cause; older nodes only put a message into Data.
type Error struct {
	Name    string          `json:"name,omitempty"`
	Cause   *ErrorCause     `json:"cause,omitempty"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type ErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info,omitempty"`
}

func (e *Error) Error() string {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Name
	}
	return fmt.Sprintf("rpc error %d %s/%s: %s %s", e.Code, e.Name, cause, e.Message, string(e.Data))
}

// CauseName returns the structured cause, if any.
func (e *Error) CauseName() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Name
}

// IsUnknownAccount recognizes both the structured and the legacy form.
func (e *Error) IsUnknownAccount() bool {
	if e.CauseName() == causeUnknownAccount {
		return true
	}
	return strings.Contains(string(e.Data), "does not exist while viewing")
}

type viewAccountRequest struct {
	RequestType string `json:"request_type"`
	BlockID     string `json:"block_id"`
	AccountID   string `json:"account_id"`
}

// AccountView is the view_account result. Amount is the liquid balance and
// Locked the staked balance, both in yoctoNEAR.
type AccountView struct {
	Amount       string `json:"amount"`
	Locked       string `json:"locked"`
	CodeHash     string `json:"code_hash"`
	StorageUsage uint64 `json:"storage_usage"`
	BlockHeight  uint64 `json:"block_height"`
	BlockHash    string `json:"block_hash"`
}

// legacy nodes report query errors inside a successful result
type queryResultError struct {
	Error string `json:"error"`
}

// StatusResponse is the subset of the status result used for health checks.
type StatusResponse struct {
	ChainID  string `json:"chain_id"`
	SyncInfo struct {
		LatestBlockHeight uint64 `json:"latest_block_height"`
		LatestBlockHash   string `json:"latest_block_hash"`
		Syncing           bool   `json:"syncing"`
	} `json:"sync_info"`
}
