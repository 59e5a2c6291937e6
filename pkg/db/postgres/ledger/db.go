package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nearx-labs/nearx/pkg/db"
	"github.com/nearx-labs/nearx/pkg/db/postgres"
)

// TableName is the ledger table shared by every backend.
const TableName = "balance_changes"

var (
	_ db.LedgerWriter = (*DB)(nil)
	_ db.LedgerReader = (*DB)(nil)
)

// DB is the Postgres ledger writer.
type DB struct {
	postgres.Client
	Name string
}

// New connects to dbName (creating it when missing) and returns a writer.
// Call InitLedger before the first insert.
func New(ctx context.Context, logger *zap.Logger, dbURL, dbName string) (*DB, error) {
	poolConfig := postgres.GetPoolConfigForComponent("ledger_writer")
	client, err := postgres.New(ctx, logger.With(
		zap.String("db", dbName),
		zap.String("component", poolConfig.Component),
	), dbURL, dbName, poolConfig)
	if err != nil {
		return nil, err
	}
	return &DB{Client: client, Name: dbName}, nil
}

// InitLedger creates the ledger table and its lookup indexes.
func (db *DB) InitLedger(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS balance_changes (
			event_index NUMERIC(38, 0) NOT NULL,
			block_height BIGINT NOT NULL,
			block_timestamp NUMERIC(20, 0) NOT NULL,
			receipt_id TEXT,
			transaction_hash TEXT,
			affected_account_id TEXT NOT NULL,
			involved_account_id TEXT,
			direction TEXT NOT NULL,
			cause TEXT NOT NULL,
			status TEXT NOT NULL,
			delta_staked_amount NUMERIC(40, 0) NOT NULL,
			delta_nonstaked_amount NUMERIC(40, 0) NOT NULL,
			absolute_staked_amount NUMERIC(39, 0) NOT NULL,
			absolute_nonstaked_amount NUMERIC(39, 0) NOT NULL,
			PRIMARY KEY (event_index, block_timestamp)
		);

		CREATE INDEX IF NOT EXISTS idx_balance_changes_account ON balance_changes(affected_account_id, event_index);
		CREATE INDEX IF NOT EXISTS idx_balance_changes_height ON balance_changes(block_height);
	`
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("init %s: %w", TableName, err)
	}
	db.Logger.Info("Ledger table ready", zap.String("database", db.Name), zap.String("table", TableName))
	return nil
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}
