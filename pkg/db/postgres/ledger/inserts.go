package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
	"github.com/nearx-labs/nearx/pkg/db/postgres"
	"github.com/nearx-labs/nearx/pkg/retry"
)

// numeric columns travel as base-10 text so no precision is lost on the wire
const insertBalanceEventQuery = `
	INSERT INTO balance_changes (
		event_index, block_height, block_timestamp,
		receipt_id, transaction_hash,
		affected_account_id, involved_account_id,
		direction, cause, status,
		delta_staked_amount, delta_nonstaked_amount,
		absolute_staked_amount, absolute_nonstaked_amount
	) VALUES (
		$1::text::numeric, $2, $3::text::numeric,
		$4, $5,
		$6, $7,
		$8, $9, $10,
		$11::text::numeric, $12::text::numeric,
		$13::text::numeric, $14::text::numeric
	)
	ON CONFLICT (event_index, block_timestamp) DO NOTHING
`

// InsertBalanceEvents writes the events of one block in a single transaction.
// Rows that already exist are left untouched, so replaying a block is a no-op.
func (db *DB) InsertBalanceEvents(ctx context.Context, events []*models.BalanceEvent) error {
	if len(events) == 0 {
		return nil
	}

	var inserted int64
	err := retry.WithBackoff(ctx, retry.ShortConfig(), db.Logger, "insert_balance_events", func() error {
		batch := &pgx.Batch{}
		for _, ev := range events {
			batch.Queue(insertBalanceEventQuery, insertArgs(ev)...)
		}
		err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
			txCtx := db.WithTx(ctx, tx)
			n, err := postgres.ExecuteBatch(txCtx, db.GetExecutor(txCtx), batch)
			inserted = n
			return err
		})
		if err != nil && !postgres.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %d balance events: %w", len(events), err)
	}

	db.Logger.Debug("Balance events written",
		zap.Uint64("height", events[0].BlockHeight),
		zap.Int("events", len(events)),
		zap.Int64("inserted", inserted),
	)
	return nil
}

func insertArgs(ev *models.BalanceEvent) []any {
	return []any{
		ev.EventIndex.String(), int64(ev.BlockHeight), ev.BlockTimestamp.String(),
		ev.ReceiptID, ev.TransactionHash,
		ev.AffectedAccountID, ev.InvolvedAccountID,
		string(ev.Direction), string(ev.Cause), string(ev.Status),
		ev.DeltaStakedAmount.String(), ev.DeltaNonStakedAmount.String(),
		ev.AbsoluteStakedAmount.String(), ev.AbsoluteNonStakedAmount.String(),
	}
}
