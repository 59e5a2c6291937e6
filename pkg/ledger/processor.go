package ledger

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/nearx-labs/nearx/pkg/balance"
	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
	"github.com/nearx-labs/nearx/pkg/near"
)

// ShardParallelism returns the shard worker count: the override when positive,
// otherwise one worker per CPU with a floor of 4.
func ShardParallelism(override int) int {
	if override > 0 {
		return override
	}
	n := runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	return n
}

// Processor turns streamer blocks into ordered balance events. Shards of a
// block are synthesized concurrently on a shared worker pool.
type Processor struct {
	store  balance.Store
	pool   pond.Pool
	logger *zap.Logger
}

func NewProcessor(store balance.Store, parallelism int, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:  store,
		pool:   pond.NewPool(ShardParallelism(parallelism)),
		logger: logger,
	}
}

// Close waits for in-flight shard tasks and stops the pool.
func (p *Processor) Close() {
	p.pool.StopAndWait()
}

// Block is a processed block. Its post-state balances are buffered and reach
// the balance store only on Commit.
type Block struct {
	Height uint64
	Events []*models.BalanceEvent

	balances *balance.Overlay
}

// Commit writes the block's balances to the store. It can be repeated after
// a failure and is a no-op for blocks built without a store.
func (b *Block) Commit(ctx context.Context) error {
	if b.balances == nil {
		return nil
	}
	if err := b.balances.Flush(ctx); err != nil {
		return fmt.Errorf("commit balances of block %d: %w", b.Height, err)
	}
	return nil
}

// Prepare returns every balance event of the block with its event index
// assigned. Any shard failure fails the whole block and no events are
// returned. The store only sees reads until the block is committed, so a
// failed block can be prepared again from the same baseline.
func (p *Processor) Prepare(ctx context.Context, msg *near.StreamerMessage) (*Block, error) {
	header := msg.Block.Header
	start := time.Now()

	overlay := balance.NewOverlay(p.store)
	bc, err := newBlockContext(header, overlay)
	if err != nil {
		return nil, err
	}

	results := make([]models.ShardEvents, len(msg.Shards))
	group := p.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i := range msg.Shards {
		shard := msg.Shards[i]
		idx := i
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			events, err := bc.synthesizeShard(groupCtx, shard)
			if err != nil {
				return err
			}
			results[idx] = models.ShardEvents{ShardID: shard.ShardID, Events: events}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("process block %d: %w", header.Height, err)
	}

	events, err := AssignEventIndexes(header.Height, bc.timestamp, results)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("block processed",
		zap.Uint64("height", header.Height),
		zap.Int("shards", len(msg.Shards)),
		zap.Int("events", len(events)),
		zap.Int("accounts", overlay.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	return &Block{Height: header.Height, Events: events, balances: overlay}, nil
}
