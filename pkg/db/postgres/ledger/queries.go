package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
)

const selectBalanceEventsQuery = `
	SELECT
		event_index::text, block_height, block_timestamp::text,
		receipt_id, transaction_hash,
		affected_account_id, involved_account_id,
		direction, cause, status,
		delta_staked_amount::text, delta_nonstaked_amount::text,
		absolute_staked_amount::text, absolute_nonstaked_amount::text
	FROM balance_changes
`

// EventsByHeight returns the stored events of a block in event index order.
func (db *DB) EventsByHeight(ctx context.Context, height uint64) ([]*models.BalanceEvent, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, selectBalanceEventsQuery+" WHERE block_height = $1 ORDER BY event_index", int64(height))
	if err != nil {
		return nil, fmt.Errorf("query balance events at %d: %w", height, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*models.BalanceEvent, error) {
	var out []*models.BalanceEvent
	for rows.Next() {
		var (
			ev                                       models.BalanceEvent
			height                                   int64
			index, ts                                string
			direction, cause, status                 string
			dStaked, dNonStaked, aStaked, aNonStaked string
		)
		if err := rows.Scan(
			&index, &height, &ts,
			&ev.ReceiptID, &ev.TransactionHash,
			&ev.AffectedAccountID, &ev.InvolvedAccountID,
			&direction, &cause, &status,
			&dStaked, &dNonStaked, &aStaked, &aNonStaked,
		); err != nil {
			return nil, fmt.Errorf("scan balance event: %w", err)
		}

		ev.BlockHeight = uint64(height)
		ev.Direction = models.Direction(direction)
		ev.Cause = models.Cause(cause)
		ev.Status = models.Status(status)

		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&ev.EventIndex, index}, {&ev.BlockTimestamp, ts},
			{&ev.DeltaStakedAmount, dStaked}, {&ev.DeltaNonStakedAmount, dNonStaked},
			{&ev.AbsoluteStakedAmount, aStaked}, {&ev.AbsoluteNonStakedAmount, aNonStaked},
		} {
			d, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("parse numeric %q: %w", f.src, err)
			}
			*f.dst = d
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
