package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ConsistencyKind names the assumption about the block stream that was violated.
type ConsistencyKind string

const (
	// KindDuplicateCause: two balance changes for the same hash in one shard.
	KindDuplicateCause ConsistencyKind = "duplicate_cause"
	// KindUnknownCause: a balance change with a cause this ledger does not model.
	KindUnknownCause ConsistencyKind = "unknown_cause"
	// KindAccountMismatch: the state change names a different account than its transaction or receipt.
	KindAccountMismatch ConsistencyKind = "account_mismatch"
	// KindUnconsumed: balance changes left over after all transactions and receipts were matched.
	KindUnconsumed ConsistencyKind = "unconsumed_state_change"
	// KindInvalidAmount: a reported balance is not a non-negative integer.
	KindInvalidAmount ConsistencyKind = "invalid_amount"
	// KindIndexOverflow: a shard does not fit the event index layout.
	KindIndexOverflow ConsistencyKind = "event_index_overflow"
)

// ConsistencyError reports a block whose contents cannot be turned into a
// correct ledger. It is never retried.
type ConsistencyError struct {
	Kind    ConsistencyKind
	Height  uint64
	ShardID uint64
	// Bucket is the state change group involved (transactions, receipts, rewards).
	Bucket string
	Keys   []string
	Detail string
}

func (e *ConsistencyError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block %d shard %d: %s", e.Height, e.ShardID, e.Kind)
	if e.Bucket != "" {
		fmt.Fprintf(&sb, " in %s", e.Bucket)
	}
	if len(e.Keys) > 0 {
		fmt.Fprintf(&sb, " [%s]", strings.Join(e.Keys, ", "))
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// IsConsistencyError reports whether err wraps a *ConsistencyError.
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
