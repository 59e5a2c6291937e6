package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nearx-labs/nearx/pkg/balance"
	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
	"github.com/nearx-labs/nearx/pkg/near"
)

// blockContext is the per-block input shared by every shard of the block.
type blockContext struct {
	height    uint64
	timestamp decimal.Decimal
	prevHash  string
	store     balance.Store
}

func newBlockContext(header near.BlockHeaderView, store balance.Store) (*blockContext, error) {
	ts, err := decimal.NewFromString(header.TimestampNanosec)
	if err != nil {
		return nil, fmt.Errorf("block %d timestamp %q: %w", header.Height, header.TimestampNanosec, err)
	}
	return &blockContext{
		height:    header.Height,
		timestamp: ts,
		prevHash:  header.PrevHash,
		store:     store,
	}, nil
}

// shardSynthesizer turns one shard into balance events. It is not safe for
// concurrent use; each shard gets its own.
type shardSynthesizer struct {
	block   *blockContext
	shardID uint64
	buckets *Buckets
	events  []*models.BalanceEvent
}

// eventSource identifies what caused an event.
type eventSource struct {
	cause           models.Cause
	status          models.Status
	receiptID       *string
	transactionHash *string
}

// synthesizeShard emits the events of a shard in a fixed order: validator
// rewards, transactions, then receipts each followed by its gas reward.
func (b *blockContext) synthesizeShard(ctx context.Context, shard near.IndexerShard) ([]*models.BalanceEvent, error) {
	buckets, err := ClassifyStateChanges(b.height, shard.ShardID, shard.StateChanges)
	if err != nil {
		return nil, err
	}

	s := &shardSynthesizer{block: b, shardID: shard.ShardID, buckets: buckets}

	if err := s.validators(ctx); err != nil {
		return nil, err
	}
	if err := s.transactions(ctx, shard.Transactions()); err != nil {
		return nil, err
	}
	if err := s.receipts(ctx, shard.ReceiptExecutionOutcomes); err != nil {
		return nil, err
	}

	return s.events, nil
}

func (s *shardSynthesizer) validators(ctx context.Context) error {
	src := eventSource{cause: models.CauseValidatorsReward, status: models.StatusSuccessValue}
	for _, ab := range s.buckets.Validators {
		if err := s.emit(ctx, src, ab, nil, models.DirectionInbound); err != nil {
			return err
		}
	}
	return nil
}

func (s *shardSynthesizer) transactions(ctx context.Context, txs []near.IndexerTransactionWithOutcome) error {
	for _, tx := range txs {
		hash := tx.Transaction.Hash
		ab, ok := s.buckets.Transactions[hash]
		if !ok {
			continue
		}
		delete(s.buckets.Transactions, hash)

		signer := tx.Transaction.SignerID
		if ab.AccountID != signer {
			return s.mismatch(bucketTransactions, hash, signer, ab.AccountID)
		}

		src := eventSource{
			cause:           models.CauseTransaction,
			status:          statusOf(tx.Outcome.ExecutionOutcome.Outcome.Status),
			transactionHash: strPtr(hash),
		}
		if err := s.emit(ctx, src, ab, involved(tx.Transaction.ReceiverID), models.DirectionOutbound); err != nil {
			return err
		}
	}
	return s.requireEmpty(bucketTransactions, s.buckets.Transactions)
}

func (s *shardSynthesizer) receipts(ctx context.Context, outcomes []near.IndexerExecutionOutcomeWithReceipt) error {
	for _, o := range outcomes {
		r := o.Receipt
		if !r.Decodable() {
			continue
		}
		status := statusOf(o.ExecutionOutcome.Outcome.Status)

		if ab, ok := s.buckets.Receipts[r.ReceiptID]; ok {
			delete(s.buckets.Receipts, r.ReceiptID)
			if ab.AccountID != r.ReceiverID {
				return s.mismatch(bucketReceipts, r.ReceiptID, r.ReceiverID, ab.AccountID)
			}
			src := eventSource{cause: models.CauseReceipt, status: status, receiptID: strPtr(r.ReceiptID)}
			if err := s.emit(ctx, src, ab, involved(r.PredecessorID), models.DirectionInbound); err != nil {
				return err
			}
		}

		if ab, ok := s.buckets.Rewards[r.ReceiptID]; ok {
			delete(s.buckets.Rewards, r.ReceiptID)
			if ab.AccountID != r.ReceiverID {
				return s.mismatch(bucketRewards, r.ReceiptID, r.ReceiverID, ab.AccountID)
			}
			src := eventSource{cause: models.CauseContractReward, status: status, receiptID: strPtr(r.ReceiptID)}
			if err := s.emit(ctx, src, ab, nil, models.DirectionInbound); err != nil {
				return err
			}
		}
	}

	if err := s.requireEmpty(bucketReceipts, s.buckets.Receipts); err != nil {
		return err
	}
	return s.requireEmpty(bucketRewards, s.buckets.Rewards)
}

// emit records the balance change of ab and, when a counterparty is known, a
// zero-delta snapshot row for it.
func (s *shardSynthesizer) emit(ctx context.Context, src eventSource, ab balance.AccountBalance, counterparty *string, dir models.Direction) error {
	prev, err := s.block.store.Get(ctx, ab.AccountID, s.block.prevHash)
	if err != nil {
		return fmt.Errorf("previous balance of %s: %w", ab.AccountID, err)
	}
	if err := s.block.store.Set(ctx, ab.AccountID, ab.Balance); err != nil {
		return fmt.Errorf("store balance of %s: %w", ab.AccountID, err)
	}
	s.events = append(s.events, s.event(src, ab.AccountID, counterparty, dir, ab.Balance.Sub(prev), ab.Balance))

	if counterparty == nil || *counterparty == ab.AccountID {
		return nil
	}

	snap, err := s.block.store.Get(ctx, *counterparty, s.block.prevHash)
	if err != nil {
		return fmt.Errorf("balance of counterparty %s: %w", *counterparty, err)
	}
	s.events = append(s.events, s.event(src, *counterparty, strPtr(ab.AccountID), dir.Opposite(), balance.ZeroDelta(), snap))
	return nil
}

func (s *shardSynthesizer) event(src eventSource, affected string, involvedID *string, dir models.Direction, delta balance.Delta, abs balance.Balance) *models.BalanceEvent {
	return &models.BalanceEvent{
		BlockHeight:             s.block.height,
		BlockTimestamp:          s.block.timestamp,
		ReceiptID:               src.receiptID,
		TransactionHash:         src.transactionHash,
		AffectedAccountID:       affected,
		InvolvedAccountID:       involvedID,
		Direction:               dir,
		Cause:                   src.cause,
		Status:                  src.status,
		DeltaStakedAmount:       delta.Staked,
		DeltaNonStakedAmount:    delta.NonStaked,
		AbsoluteStakedAmount:    abs.Staked,
		AbsoluteNonStakedAmount: abs.NonStaked,
	}
}

func (s *shardSynthesizer) mismatch(bucket, key, expected, got string) error {
	return &ConsistencyError{
		Kind: KindAccountMismatch, Height: s.block.height, ShardID: s.shardID,
		Bucket: bucket, Keys: []string{key},
		Detail: fmt.Sprintf("expected %s, state change is for %s", expected, got),
	}
}

func (s *shardSynthesizer) requireEmpty(bucket string, m map[string]balance.AccountBalance) error {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &ConsistencyError{
		Kind: KindUnconsumed, Height: s.block.height, ShardID: s.shardID,
		Bucket: bucket, Keys: keys,
	}
}

// involved maps the protocol account to no counterparty.
func involved(accountID string) *string {
	if accountID == "" || accountID == near.SystemAccount {
		return nil
	}
	return &accountID
}

func statusOf(st near.ExecutionStatus) models.Status {
	switch st.Kind {
	case near.StatusFailure:
		return models.StatusFailure
	case near.StatusSuccessValue:
		return models.StatusSuccessValue
	case near.StatusSuccessReceiptID:
		return models.StatusSuccessReceiptID
	default:
		return models.StatusUnknown
	}
}

func strPtr(s string) *string { return &s }
