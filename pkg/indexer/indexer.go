// Package indexer drives the ledger: it takes blocks off the stream in
// order, turns them into balance events and persists them.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nearx-labs/nearx/pkg/db"
	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
	"github.com/nearx-labs/nearx/pkg/ledger"
	"github.com/nearx-labs/nearx/pkg/near"
	"github.com/nearx-labs/nearx/pkg/redis"
	"github.com/nearx-labs/nearx/pkg/retry"
)

const (
	failureTransient      = "transient"
	failureInvalidMessage = "invalid_message"
)

// BlockProcessor is implemented by *ledger.Processor.
type BlockProcessor interface {
	Prepare(ctx context.Context, msg *near.StreamerMessage) (*ledger.Block, error)
}

// HeightTracker records the last persisted height for operators and restarts.
type HeightTracker interface {
	SetLastHeight(ctx context.Context, height uint64) error
	LastHeight(ctx context.Context) (uint64, error)
}

// Observer is implemented by *metrics.Metrics.
type Observer interface {
	ObserveBlock(height uint64, events []*models.BalanceEvent, took time.Duration)
	ObserveFailure(kind string)
}

type Options struct {
	// Retry bounds attempts per block on transient failures.
	Retry    retry.Config
	Heights  HeightTracker
	Observer Observer
	Logger   *zap.Logger
}

type Indexer struct {
	processor BlockProcessor
	writer    db.LedgerWriter
	opts      Options
	logger    *zap.Logger

	lastHeight uint64
}

func New(processor BlockProcessor, writer db.LedgerWriter, opts Options) *Indexer {
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{processor: processor, writer: writer, opts: opts, logger: logger}
}

// Run resumes from the recorded height and consumes blocks until ctx ends or
// a block cannot be indexed. The failing entry is left unacknowledged.
func (ix *Indexer) Run(ctx context.Context, consumer *redis.StreamConsumer) error {
	if ix.opts.Heights != nil {
		h, err := ix.opts.Heights.LastHeight(ctx)
		if err != nil {
			return fmt.Errorf("read last height: %w", err)
		}
		ix.lastHeight = h
		ix.logger.Info("Resuming ledger", zap.Uint64("last_height", h))
	}
	return consumer.Run(ctx, ix.HandleMessage)
}

// HandleMessage decodes one stream entry and indexes it. It is a
// redis.MessageHandler: a nil return acknowledges the entry.
func (ix *Indexer) HandleMessage(ctx context.Context, msg redis.Message) error {
	data := msg.GetData()
	if data == nil {
		ix.observeFailure(failureInvalidMessage)
		return fmt.Errorf("%w: entry %s has no data field", near.ErrInvalidMessage, msg.ID)
	}
	block, err := near.DecodeStreamerMessage(data)
	if err != nil {
		ix.observeFailure(failureInvalidMessage)
		return fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	return ix.IndexBlock(ctx, block)
}

// IndexBlock processes and persists one block. A transient failure re-attempts
// the step that failed: events are prepared until that succeeds, written until
// that succeeds, then the block's balances are committed to the store.
// Balances are committed only after the events are durable, so every attempt
// computes deltas from the previous block's state. Consistency violations are
// returned at once.
func (ix *Indexer) IndexBlock(ctx context.Context, block *near.StreamerMessage) error {
	height := block.Block.Header.Height
	if ix.lastHeight != 0 && height <= ix.lastHeight {
		ix.logger.Info("Skipping block already in the ledger",
			zap.Uint64("height", height),
			zap.Uint64("last_height", ix.lastHeight))
		return nil
	}

	start := time.Now()
	var (
		prepared *ledger.Block
		written  bool
	)

	err := retry.WithBackoff(ctx, ix.opts.Retry, ix.logger, "index_block", func() error {
		if prepared == nil {
			blk, err := ix.processor.Prepare(ctx, block)
			if err != nil {
				return ix.classify(err)
			}
			prepared = blk
		}
		if !written {
			if err := ix.writer.InsertBalanceEvents(ctx, prepared.Events); err != nil {
				return ix.classify(err)
			}
			written = true
		}
		if err := prepared.Commit(ctx); err != nil {
			return ix.classify(err)
		}
		return nil
	})
	if err != nil {
		if ledger.IsConsistencyError(err) {
			ix.logger.Error("Block violates ledger consistency, halting",
				zap.Uint64("height", height),
				zap.String("hash", block.Block.Header.Hash),
				zap.Error(err))
		}
		return fmt.Errorf("index block %d: %w", height, err)
	}

	took := time.Since(start)
	ix.lastHeight = height
	if ix.opts.Heights != nil {
		if err := ix.opts.Heights.SetLastHeight(ctx, height); err != nil {
			// the ledger is written; the height is only a resume hint
			ix.logger.Warn("Failed to record last height", zap.Uint64("height", height), zap.Error(err))
		}
	}
	if ix.opts.Observer != nil {
		ix.opts.Observer.ObserveBlock(height, prepared.Events, took)
	}

	ix.logger.Info("Block indexed",
		zap.Uint64("height", height),
		zap.Int("shards", len(block.Shards)),
		zap.Int("events", len(prepared.Events)),
		zap.Duration("duration", took))
	return nil
}

// classify marks errors that another attempt cannot fix as permanent.
func (ix *Indexer) classify(err error) error {
	var ce *ledger.ConsistencyError
	if errors.As(err, &ce) {
		ix.observeFailure(string(ce.Kind))
		return retry.Permanent(err)
	}
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	ix.observeFailure(failureTransient)
	return err
}

func (ix *Indexer) observeFailure(kind string) {
	if ix.opts.Observer != nil {
		ix.opts.Observer.ObserveFailure(kind)
	}
}
