package db

import (
	"context"

	"github.com/nearx-labs/nearx/pkg/db/models/ledger"
)

// LedgerWriter persists balance events. InsertBalanceEvents is called once per
// block and must be idempotent: rows whose (event_index, block_timestamp)
// already exist are ignored.
type LedgerWriter interface {
	InitLedger(ctx context.Context) error
	InsertBalanceEvents(ctx context.Context, events []*ledger.BalanceEvent) error
	Close() error
}

// LedgerReader reads back what a LedgerWriter stored.
type LedgerReader interface {
	EventsByHeight(ctx context.Context, height uint64) ([]*ledger.BalanceEvent, error)
}

// Backend names accepted by LEDGER_BACKEND.
const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendMemory     = "memory"
)
