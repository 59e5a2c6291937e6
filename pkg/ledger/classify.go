package ledger

import (
	"fmt"

	"github.com/nearx-labs/nearx/pkg/balance"
	"github.com/nearx-labs/nearx/pkg/near"
)

const (
	bucketTransactions = "transactions"
	bucketReceipts     = "receipts"
	bucketRewards      = "rewards"
)

// Buckets groups the balance changes of one shard by cause. The maps are
// keyed by transaction hash or receipt id and are drained while events are
// synthesized.
type Buckets struct {
	Validators   []balance.AccountBalance
	Transactions map[string]balance.AccountBalance
	Receipts     map[string]balance.AccountBalance
	Rewards      map[string]balance.AccountBalance
}

func newBuckets() *Buckets {
	return &Buckets{
		Transactions: make(map[string]balance.AccountBalance),
		Receipts:     make(map[string]balance.AccountBalance),
		Rewards:      make(map[string]balance.AccountBalance),
	}
}

// ClassifyStateChanges sorts the balance-bearing state changes of a shard into
// buckets. Changes that do not touch an account balance are skipped.
func ClassifyStateChanges(height, shardID uint64, changes []near.StateChangeWithCause) (*Buckets, error) {
	b := newBuckets()

	for _, sc := range changes {
		ab, ok, err := accountBalanceOf(sc.Value)
		if err != nil {
			return nil, &ConsistencyError{
				Kind: KindInvalidAmount, Height: height, ShardID: shardID,
				Keys: []string{sc.Value.Change.AccountID}, Detail: err.Error(),
			}
		}
		if !ok {
			continue
		}

		switch sc.Cause.Type {
		case near.CauseValidatorAccountsUpdate:
			b.Validators = append(b.Validators, ab)
		case near.CauseTransactionProcessing:
			if err := insertUnique(b.Transactions, bucketTransactions, sc.Cause.TxHash, ab, height, shardID); err != nil {
				return nil, err
			}
		case near.CauseReceiptProcessing:
			if err := insertUnique(b.Receipts, bucketReceipts, sc.Cause.ReceiptHash, ab, height, shardID); err != nil {
				return nil, err
			}
		case near.CauseActionReceiptGasReward:
			if err := insertUnique(b.Rewards, bucketRewards, sc.Cause.ReceiptHash, ab, height, shardID); err != nil {
				return nil, err
			}
		default:
			return nil, &ConsistencyError{
				Kind: KindUnknownCause, Height: height, ShardID: shardID,
				Keys:   []string{ab.AccountID},
				Detail: fmt.Sprintf("cause %q", sc.Cause.Type),
			}
		}
	}

	return b, nil
}

func insertUnique(m map[string]balance.AccountBalance, bucket, key string, ab balance.AccountBalance, height, shardID uint64) error {
	if _, dup := m[key]; dup {
		return &ConsistencyError{
			Kind: KindDuplicateCause, Height: height, ShardID: shardID,
			Bucket: bucket, Keys: []string{key},
			Detail: fmt.Sprintf("second balance change for %s", ab.AccountID),
		}
	}
	m[key] = ab
	return nil
}

// accountBalanceOf extracts the reported balance. Deletions report zero.
func accountBalanceOf(v near.StateChangeValue) (balance.AccountBalance, bool, error) {
	switch v.Type {
	case near.ValueAccountUpdate:
		b, err := balance.Parse(v.Change.Locked, v.Change.Amount)
		if err != nil {
			return balance.AccountBalance{}, false, err
		}
		return balance.AccountBalance{AccountID: v.Change.AccountID, Balance: b}, true, nil
	case near.ValueAccountDeletion:
		return balance.AccountBalance{AccountID: v.Change.AccountID, Balance: balance.Zero()}, true, nil
	}
	return balance.AccountBalance{}, false, nil
}
