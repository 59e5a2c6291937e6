package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nearx-labs/nearx/pkg/balance"
	"github.com/nearx-labs/nearx/pkg/db"
	chledger "github.com/nearx-labs/nearx/pkg/db/clickhouse/ledger"
	pgledger "github.com/nearx-labs/nearx/pkg/db/postgres/ledger"
	"github.com/nearx-labs/nearx/pkg/indexer"
	"github.com/nearx-labs/nearx/pkg/ledger"
	"github.com/nearx-labs/nearx/pkg/logging"
	"github.com/nearx-labs/nearx/pkg/metrics"
	"github.com/nearx-labs/nearx/pkg/redis"
	"github.com/nearx-labs/nearx/pkg/rpc"
)

type App struct {
	Config    Config
	Redis     *redis.Client
	Processor *ledger.Processor
	Writer    db.LedgerWriter
	Indexer   *indexer.Indexer
	Consumer  *redis.StreamConsumer
	Metrics   *metrics.Metrics
	Server    *http.Server
	Logger    *zap.Logger

	// halted is set once the consumer stopped on an error it cannot get past
	halted atomic.Bool
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Unable to connect to redis", zap.Error(err))
	}

	writer, err := NewLedgerWriter(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to open ledger", zap.String("backend", cfg.LedgerBackend), zap.Error(err))
	}
	if err := writer.InitLedger(ctx); err != nil {
		logger.Fatal("Unable to initialize ledger", zap.Error(err))
	}

	m := metrics.New()

	rpcOpts := rpc.DefaultOpts(cfg.RPCEndpoints)
	rpcOpts.RPS = cfg.RPCRPS
	rpcOpts.Burst = cfg.RPCBurst
	rpcOpts.Timeout = cfg.RPCTimeout

	rpcClient := rpc.NewHTTPWithOpts(rpcOpts)
	checkRPC(ctx, rpcClient, logger)

	storeOpts := cfg.BalanceOptions()
	storeOpts.Observer = m
	store := balance.NewCachedStore(
		redis.NewBalanceCache(redisClient, cfg.BalanceKeyPrefix),
		redis.NewLocker(redisClient),
		rpcClient,
		storeOpts,
		logger.Named("balance"),
	)

	processor := ledger.NewProcessor(store, cfg.ShardParallelism, logger.Named("ledger"))

	ix := indexer.New(processor, writer, indexer.Options{
		Heights:  redisClient,
		Observer: m,
		Logger:   logger.Named("indexer"),
	})

	consumer, err := redis.NewStreamConsumer(redisClient, redis.StreamConsumerConfig{
		Stream:   cfg.StreamName,
		Group:    cfg.StreamGroup,
		Consumer: cfg.StreamConsumer,
		// blocks must be applied in order, so one at a time and stop on failure
		Count:       1,
		StopOnError: true,
		Logger:      logger.Named("stream"),
	})
	if err != nil {
		logger.Fatal("Unable to create stream consumer", zap.Error(err))
	}

	app := &App{
		Config:    cfg,
		Redis:     redisClient,
		Processor: processor,
		Writer:    writer,
		Indexer:   ix,
		Consumer:  consumer,
		Metrics:   m,
		Logger:    logger,
	}
	app.SetupServer(cfg.Addr)

	logger.Info("Indexer initialized",
		zap.String("backend", cfg.LedgerBackend),
		zap.String("stream", cfg.StreamName),
		zap.String("group", cfg.StreamGroup),
		zap.String("consumer", cfg.StreamConsumer),
		zap.Strings("rpc_endpoints", cfg.RPCEndpoints),
		zap.Int("shard_parallelism", ledger.ShardParallelism(cfg.ShardParallelism)),
	)
	return app
}

// checkRPC logs the node the balance fallback talks to. An unreachable node
// is not fatal, the store retries every lookup.
func checkRPC(ctx context.Context, c rpc.Client, logger *zap.Logger) {
	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := c.Status(statusCtx)
	if err != nil {
		logger.Warn("RPC status check failed", zap.Error(err))
		return
	}
	logger.Info("RPC node reachable",
		zap.String("chain_id", st.ChainID),
		zap.Uint64("latest_height", st.SyncInfo.LatestBlockHeight),
		zap.Bool("syncing", st.SyncInfo.Syncing),
	)
}

// NewLedgerWriter opens the backend named by cfg.LedgerBackend.
func NewLedgerWriter(ctx context.Context, cfg Config, logger *zap.Logger) (db.LedgerWriter, error) {
	switch cfg.LedgerBackend {
	case db.BackendPostgres:
		w, err := pgledger.New(ctx, logger.Named("postgres"), cfg.PostgresURL, cfg.PostgresDB)
		if err != nil {
			return nil, err
		}
		return w, nil
	case db.BackendClickHouse:
		w, err := chledger.New(ctx, logger.Named("clickhouse"), cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseCluster)
		if err != nil {
			return nil, err
		}
		return w, nil
	case db.BackendMemory:
		return db.NewMemoryLedger(), nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
}

// Ready reports whether the indexer is consuming and redis answers.
func (a *App) Ready(ctx context.Context) error {
	if a.halted.Load() {
		return errors.New("indexing halted")
	}
	return a.Redis.Health(ctx)
}

// Start serves HTTP and consumes blocks until the context is canceled. A
// halted consumer keeps the process up so the failure stays visible.
func (a *App) Start(ctx context.Context) {
	go func() {
		a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	err := a.Indexer.Run(ctx, a.Consumer)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.halted.Store(true)
		a.Logger.Error("Indexing halted, manual intervention required", zap.Error(err))
	}

	<-ctx.Done()
	a.Stop()
}

// Stop releases every resource.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("Server shutdown", zap.Error(err))
	}

	a.Processor.Close()
	if err := a.Writer.Close(); err != nil {
		a.Logger.Warn("Ledger close", zap.Error(err))
	}
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("Redis close", zap.Error(err))
	}
	a.Logger.Info("さようなら!")
	_ = a.Logger.Sync()
}
