package ledger

import (
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Opposite returns the direction seen from the counterparty.
func (d Direction) Opposite() Direction {
	if d == DirectionInbound {
		return DirectionOutbound
	}
	return DirectionInbound
}

type Cause string

const (
	CauseValidatorsReward Cause = "VALIDATORS_REWARD"
	CauseTransaction      Cause = "TRANSACTION"
	CauseReceipt          Cause = "RECEIPT"
	CauseContractReward   Cause = "CONTRACT_REWARD"
)

// Causes lists every cause, in ledger column order.
var Causes = []Cause{CauseValidatorsReward, CauseTransaction, CauseReceipt, CauseContractReward}

type Status string

const (
	StatusUnknown          Status = "UNKNOWN"
	StatusFailure          Status = "FAILURE"
	StatusSuccessValue     Status = "SUCCESS_VALUE"
	StatusSuccessReceiptID Status = "SUCCESS_RECEIPT_ID"
)

// BalanceEvent is one ledger row: how the balance of AffectedAccountID moved
// because of one transaction, receipt or validator reward.
//
// Rows are immutable once written. EventIndex is derived from the block and
// shard position only, so replaying a block reproduces the same key and the
// insert is ignored.
type BalanceEvent struct {
	EventIndex     decimal.Decimal `db:"event_index" ch:"event_index"`
	BlockHeight    uint64          `db:"block_height" ch:"block_height"`
	BlockTimestamp decimal.Decimal `db:"block_timestamp" ch:"block_timestamp"`

	// exactly one is set for TRANSACTION and RECEIPT/CONTRACT_REWARD causes,
	// both are nil for VALIDATORS_REWARD
	ReceiptID       *string `db:"receipt_id" ch:"receipt_id"`
	TransactionHash *string `db:"transaction_hash" ch:"transaction_hash"`

	AffectedAccountID string    `db:"affected_account_id" ch:"affected_account_id"`
	InvolvedAccountID *string   `db:"involved_account_id" ch:"involved_account_id"`
	Direction         Direction `db:"direction" ch:"direction"`
	Cause             Cause     `db:"cause" ch:"cause"`
	Status            Status    `db:"status" ch:"status"`

	DeltaStakedAmount       decimal.Decimal `db:"delta_staked_amount" ch:"delta_staked_amount"`
	DeltaNonStakedAmount    decimal.Decimal `db:"delta_nonstaked_amount" ch:"delta_nonstaked_amount"`
	AbsoluteStakedAmount    decimal.Decimal `db:"absolute_staked_amount" ch:"absolute_staked_amount"`
	AbsoluteNonStakedAmount decimal.Decimal `db:"absolute_nonstaked_amount" ch:"absolute_nonstaked_amount"`
}

// ShardEvents are the events one shard produced, in emission order.
type ShardEvents struct {
	ShardID uint64
	Events  []*BalanceEvent
}
