package indexer

import (
	"fmt"
	"os"
	"time"

	"github.com/nearx-labs/nearx/pkg/balance"
	"github.com/nearx-labs/nearx/pkg/db"
	"github.com/nearx-labs/nearx/pkg/redis"
	"github.com/nearx-labs/nearx/pkg/utils"
)

// Config is read from the environment once at startup.
type Config struct {
	Addr string

	Redis          redis.Config
	StreamName     string
	StreamGroup    string
	StreamConsumer string

	RPCEndpoints []string
	RPCRPS       int
	RPCBurst     int
	RPCTimeout   time.Duration

	BalanceLockKey   string
	BalanceLockTTL   time.Duration
	BalanceKeyPrefix string

	LedgerBackend     string
	PostgresURL       string
	PostgresDB        string
	ClickHouseAddr    string
	ClickHouseDB      string
	ClickHouseCluster string

	ShardParallelism int
}

func LoadConfig() (Config, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "indexer"
	}

	cfg := Config{
		Addr: utils.Env("ADDR", ":3002"),

		Redis:          redis.ConfigFromEnv(),
		StreamName:     utils.Env("STREAM_NAME", "near:blocks"),
		StreamGroup:    utils.Env("STREAM_GROUP", "nearx-ledger"),
		StreamConsumer: utils.Env("STREAM_CONSUMER", hostname),

		RPCEndpoints: utils.EnvList("RPC_ENDPOINTS", nil),
		RPCRPS:       utils.EnvInt("RPC_RPS", 50),
		RPCBurst:     utils.EnvInt("RPC_BURST", 100),
		RPCTimeout:   utils.EnvDuration("RPC_TIMEOUT", 10*time.Second),

		BalanceLockKey:   utils.Env("BALANCE_LOCK_KEY", "nearx:balances:lock"),
		BalanceLockTTL:   utils.EnvDuration("BALANCE_LOCK_TTL", 30*time.Second),
		BalanceKeyPrefix: utils.Env("BALANCE_KEY_PREFIX", redis.DefaultBalancePrefix),

		LedgerBackend:     utils.Env("LEDGER_BACKEND", db.BackendPostgres),
		PostgresURL:       utils.Env("POSTGRES_URL", "postgres://localhost:5432/postgres"),
		PostgresDB:        utils.Env("POSTGRES_DB", "nearx"),
		ClickHouseAddr:    utils.Env("CLICKHOUSE_ADDR", "clickhouse://localhost:9000"),
		ClickHouseDB:      utils.Env("CLICKHOUSE_DB", "nearx"),
		ClickHouseCluster: utils.Env("CLICKHOUSE_CLUSTER", ""),

		ShardParallelism: utils.EnvInt("SHARD_PARALLELISM", 0),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("RPC_ENDPOINTS is required")
	}
	if c.StreamName == "" || c.StreamGroup == "" || c.StreamConsumer == "" {
		return fmt.Errorf("STREAM_NAME, STREAM_GROUP and STREAM_CONSUMER must be set")
	}
	switch c.LedgerBackend {
	case db.BackendPostgres, db.BackendClickHouse, db.BackendMemory:
	default:
		return fmt.Errorf("LEDGER_BACKEND %q is not one of postgres, clickhouse, memory", c.LedgerBackend)
	}
	if c.BalanceLockTTL <= 0 {
		return fmt.Errorf("BALANCE_LOCK_TTL must be positive")
	}
	if err := c.BalanceOptions().Validate(c.RPCTimeout); err != nil {
		return fmt.Errorf("BALANCE_LOCK_TTL and RPC_TIMEOUT: %w", err)
	}
	return nil
}

// BalanceOptions returns the balance store settings without an observer.
func (c Config) BalanceOptions() balance.Options {
	opts := balance.DefaultOptions()
	opts.LockKey = c.BalanceLockKey
	opts.LockTTL = c.BalanceLockTTL
	return opts
}
