package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
	"github.com/nearx-labs/nearx/pkg/retry"
)

const insertBalanceEventsQuery = `INSERT INTO balance_changes (
	event_index, block_height, block_timestamp,
	receipt_id, transaction_hash,
	affected_account_id, involved_account_id,
	direction, cause, status,
	delta_staked_amount, delta_nonstaked_amount,
	absolute_staked_amount, absolute_nonstaked_amount,
	insert_version
)`

// InsertBalanceEvents appends the events of one block as a single batch.
// Events whose (event_index, block_timestamp) is already stored are dropped,
// so replaying a block never replaces the rows written first.
func (db *DB) InsertBalanceEvents(ctx context.Context, events []*models.BalanceEvent) error {
	if len(events) == 0 {
		return nil
	}

	var fresh []*models.BalanceEvent
	err := retry.WithBackoff(ctx, retry.ShortConfig(), db.Logger, "insert_balance_events", func() error {
		stored, err := db.storedKeys(ctx, events)
		if err != nil {
			return err
		}
		fresh = withoutStored(events, stored)
		if len(fresh) == 0 {
			return nil
		}

		batch, err := db.PrepareBatch(ctx, insertBalanceEventsQuery)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		version := insertVersion(time.Now())
		for _, ev := range fresh {
			if err := batch.Append(appendArgs(ev, version)...); err != nil {
				_ = batch.Abort()
				// a row the column types reject will be rejected again
				return retry.Permanent(fmt.Errorf("append event %s: %w", ev.EventIndex, err))
			}
		}
		return batch.Send()
	})
	if err != nil {
		return fmt.Errorf("insert %d balance events: %w", len(events), err)
	}

	db.Logger.Debug("Balance events written",
		zap.Uint64("height", events[0].BlockHeight),
		zap.Int("events", len(events)),
		zap.Int("inserted", len(fresh)),
	)
	return nil
}

// insertVersion decreases over time: ReplacingMergeTree keeps the highest
// version, which makes the earliest insert of a key the surviving row.
func insertVersion(now time.Time) uint64 {
	return math.MaxUint64 - uint64(now.UnixNano())
}

func eventKey(index, timestamp string) string {
	return index + "/" + timestamp
}

func withoutStored(events []*models.BalanceEvent, stored map[string]struct{}) []*models.BalanceEvent {
	if len(stored) == 0 {
		return events
	}
	out := make([]*models.BalanceEvent, 0, len(events))
	for _, ev := range events {
		if _, ok := stored[eventKey(ev.EventIndex.String(), ev.BlockTimestamp.String())]; ok {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func appendArgs(ev *models.BalanceEvent, version uint64) []any {
	return []any{
		ev.EventIndex.BigInt(), ev.BlockHeight, ev.BlockTimestamp.BigInt().Uint64(),
		ev.ReceiptID, ev.TransactionHash,
		ev.AffectedAccountID, ev.InvolvedAccountID,
		string(ev.Direction), string(ev.Cause), string(ev.Status),
		ev.DeltaStakedAmount.BigInt(), ev.DeltaNonStakedAmount.BigInt(),
		ev.AbsoluteStakedAmount.BigInt(), ev.AbsoluteNonStakedAmount.BigInt(),
		version,
	}
}
