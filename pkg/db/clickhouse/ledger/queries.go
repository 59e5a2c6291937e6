package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
)

const selectBalanceEventsQuery = `
	SELECT
		event_index, block_height, block_timestamp,
		receipt_id, transaction_hash,
		affected_account_id, involved_account_id,
		direction, cause, status,
		delta_staked_amount, delta_nonstaked_amount,
		absolute_staked_amount, absolute_nonstaked_amount
	FROM balance_changes FINAL
`

// EventsByHeight returns the stored events of a block in event index order.
func (db *DB) EventsByHeight(ctx context.Context, height uint64) ([]*models.BalanceEvent, error) {
	rows, err := db.QueryWithFinal(ctx, selectBalanceEventsQuery+" WHERE block_height = ? ORDER BY event_index", height)
	if err != nil {
		return nil, fmt.Errorf("query balance events at %d: %w", height, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// storedKeys returns the (event_index, block_timestamp) keys already stored
// for the heights spanned by events.
func (db *DB) storedKeys(ctx context.Context, events []*models.BalanceEvent) (map[string]struct{}, error) {
	lo, hi := events[0].BlockHeight, events[0].BlockHeight
	for _, ev := range events[1:] {
		lo = min(lo, ev.BlockHeight)
		hi = max(hi, ev.BlockHeight)
	}

	rows, err := db.Query(ctx,
		"SELECT DISTINCT toString(event_index), block_timestamp FROM balance_changes WHERE block_height >= ? AND block_height <= ?",
		lo, hi,
	)
	if err != nil {
		return nil, fmt.Errorf("query stored keys at %d-%d: %w", lo, hi, err)
	}
	defer rows.Close()

	stored := map[string]struct{}{}
	for rows.Next() {
		var (
			index string
			ts    uint64
		)
		if err := rows.Scan(&index, &ts); err != nil {
			return nil, fmt.Errorf("scan stored key: %w", err)
		}
		stored[eventKey(index, strconv.FormatUint(ts, 10))] = struct{}{}
	}
	return stored, rows.Err()
}

func collectEvents(rows driver.Rows) ([]*models.BalanceEvent, error) {
	var out []*models.BalanceEvent
	for rows.Next() {
		var (
			ev                                       models.BalanceEvent
			ts                                       uint64
			index                                    big.Int
			direction, cause, status                 string
			dStaked, dNonStaked, aStaked, aNonStaked big.Int
		)
		if err := rows.Scan(
			&index, &ev.BlockHeight, &ts,
			&ev.ReceiptID, &ev.TransactionHash,
			&ev.AffectedAccountID, &ev.InvolvedAccountID,
			&direction, &cause, &status,
			&dStaked, &dNonStaked, &aStaked, &aNonStaked,
		); err != nil {
			return nil, fmt.Errorf("scan balance event: %w", err)
		}

		ev.EventIndex = decimal.NewFromBigInt(&index, 0)
		ev.BlockTimestamp = decimal.NewFromUint64(ts)
		ev.Direction = models.Direction(direction)
		ev.Cause = models.Cause(cause)
		ev.Status = models.Status(status)
		ev.DeltaStakedAmount = decimal.NewFromBigInt(&dStaked, 0)
		ev.DeltaNonStakedAmount = decimal.NewFromBigInt(&dNonStaked, 0)
		ev.AbsoluteStakedAmount = decimal.NewFromBigInt(&aStaked, 0)
		ev.AbsoluteNonStakedAmount = decimal.NewFromBigInt(&aNonStaked, 0)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
