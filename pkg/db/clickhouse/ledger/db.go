package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nearx-labs/nearx/pkg/db"
	"github.com/nearx-labs/nearx/pkg/db/clickhouse"
)

// TableName is the ledger table shared by every backend.
const TableName = "balance_changes"

var (
	_ db.LedgerWriter = (*DB)(nil)
	_ db.LedgerReader = (*DB)(nil)
)

// DB is the ClickHouse ledger writer. Rows already stored are skipped on
// insert. Duplicates that still slip in collapse on merge to the row with the
// highest insert_version, which is the one inserted first, so reads go
// through FINAL.
type DB struct {
	clickhouse.Client
	Name string
}

// New connects, creates dbName when missing and switches to it.
func New(ctx context.Context, logger *zap.Logger, dsn, dbName, cluster string) (*DB, error) {
	poolConfig := clickhouse.GetPoolConfigForComponent("ledger_writer")
	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", dbName),
		zap.String("component", poolConfig.Component),
	), dsn, dbName, poolConfig)
	if err != nil {
		return nil, err
	}
	client.Cluster = cluster

	db := &DB{Client: client, Name: dbName}
	if err := db.CreateDbIfNotExists(ctx, dbName); err != nil {
		_ = db.Client.Close()
		return nil, fmt.Errorf("failed to create database %s: %w", dbName, err)
	}
	if err := db.SwitchToTargetDatabase(ctx); err != nil {
		_ = db.Client.Close()
		return nil, err
	}
	return db, nil
}

// engine returns the table engine, replicated when running on a cluster.
func (db *DB) engine() string {
	engine := clickhouse.ReplacingMergeTree + "(insert_version)"
	if db.Cluster != "" {
		return "Replicated" + engine
	}
	return engine
}

// InitLedger creates the ledger table.
func (db *DB) InitLedger(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s %s (
			event_index UInt256,
			block_height UInt64,
			block_timestamp UInt64,
			receipt_id Nullable(String),
			transaction_hash Nullable(String),
			affected_account_id String,
			involved_account_id Nullable(String),
			direction LowCardinality(String),
			cause LowCardinality(String),
			status LowCardinality(String),
			delta_staked_amount Int256,
			delta_nonstaked_amount Int256,
			absolute_staked_amount UInt256,
			absolute_nonstaked_amount UInt256,
			insert_version UInt64
		) ENGINE = %s
		PARTITION BY intDiv(block_height, 1000000)
		ORDER BY (event_index, block_timestamp)
	`, TableName, db.OnCluster(), db.engine())

	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("init %s: %w", TableName, err)
	}
	db.Logger.Info("Ledger table ready", zap.String("database", db.Name), zap.String("table", TableName))
	return nil
}

// Close terminates the underlying ClickHouse connection
func (db *DB) Close() error {
	return db.Client.Close()
}
