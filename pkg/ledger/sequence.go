package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
)

const (
	// timestampShift places the block timestamp above shard and position.
	timestampShift = 16
	// shardShift places the shard id above the in-shard position.
	shardShift = 7

	// MaxEventsPerShard is the largest number of events one shard may emit
	// before positions would spill into the shard digits.
	MaxEventsPerShard = 10_000_000
	// MaxShardID keeps the shard digits below the timestamp digits.
	MaxShardID = 1_000_000_000 - 1
)

// AssignEventIndexes sets EventIndex on every event and returns them as one
// list ordered by shard id, then emission order. The index is
// timestamp*10^16 + shardID*10^7 + position.
func AssignEventIndexes(height uint64, timestamp decimal.Decimal, shards []models.ShardEvents) ([]*models.BalanceEvent, error) {
	ordered := make([]models.ShardEvents, len(shards))
	copy(ordered, shards)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ShardID < ordered[j].ShardID })

	base := timestamp.Shift(timestampShift)
	total := 0
	for _, s := range ordered {
		if s.ShardID > MaxShardID {
			return nil, &ConsistencyError{
				Kind: KindIndexOverflow, Height: height, ShardID: s.ShardID,
				Detail: fmt.Sprintf("shard id above %d", MaxShardID),
			}
		}
		if len(s.Events) >= MaxEventsPerShard {
			return nil, &ConsistencyError{
				Kind: KindIndexOverflow, Height: height, ShardID: s.ShardID,
				Detail: fmt.Sprintf("%d events, limit %d", len(s.Events), MaxEventsPerShard),
			}
		}
		total += len(s.Events)
	}

	out := make([]*models.BalanceEvent, 0, total)
	for _, s := range ordered {
		shardBase := base.Add(decimal.New(int64(s.ShardID), shardShift))
		for i, ev := range s.Events {
			ev.EventIndex = shardBase.Add(decimal.NewFromInt(int64(i)))
			out = append(out, ev)
		}
	}
	return out, nil
}
