package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nearx-labs/nearx/pkg/balance"
	models "github.com/nearx-labs/nearx/pkg/db/models/ledger"
	"github.com/nearx-labs/nearx/pkg/near"
)

const testTimestamp = "1600000000000000000"

// chainState answers ViewAccount from a fixed map and counts calls.
type chainState struct {
	mu       sync.Mutex
	balances map[string]balance.Balance
	calls    map[string]int
}

func newChainState(balances map[string]balance.Balance) *chainState {
	if balances == nil {
		balances = map[string]balance.Balance{}
	}
	return &chainState{balances: balances, calls: map[string]int{}}
}

func (c *chainState) ViewAccount(_ context.Context, accountID, _ string) (balance.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[accountID]++
	b, ok := c.balances[accountID]
	if !ok {
		return balance.Balance{}, balance.ErrAccountNotFound
	}
	return b, nil
}

func newTestStore(t *testing.T, chain *chainState, cached map[string]balance.Balance) *balance.CachedStore {
	t.Helper()
	cache := balance.NewMemoryCache()
	for id, b := range cached {
		require.NoError(t, cache.SetBalance(context.Background(), id, b))
	}
	return balance.NewCachedStore(cache, balance.NewLocalLocker(), chain, balance.DefaultOptions(), zaptest.NewLogger(t))
}

func newTestProcessor(t *testing.T, store balance.Store) *Processor {
	t.Helper()
	p := NewProcessor(store, 4, zaptest.NewLogger(t))
	t.Cleanup(p.Close)
	return p
}

// processBlock prepares msg and commits its balances, as the indexer does
// once the events are stored.
func processBlock(p *Processor, msg *near.StreamerMessage) ([]*models.BalanceEvent, error) {
	blk, err := p.Prepare(context.Background(), msg)
	if err != nil {
		return nil, err
	}
	if err := blk.Commit(context.Background()); err != nil {
		return nil, err
	}
	return blk.Events, nil
}

func accountUpdate(cause near.StateChangeCause, accountID, locked, amount string) near.StateChangeWithCause {
	return near.StateChangeWithCause{
		Cause: cause,
		Value: near.StateChangeValue{
			Type:   near.ValueAccountUpdate,
			Change: near.StateChangeEntry{AccountID: accountID, Locked: locked, Amount: amount},
		},
	}
}

func accountDeletion(cause near.StateChangeCause, accountID string) near.StateChangeWithCause {
	return near.StateChangeWithCause{
		Cause: cause,
		Value: near.StateChangeValue{Type: near.ValueAccountDeletion, Change: near.StateChangeEntry{AccountID: accountID}},
	}
}

func dataUpdate(cause near.StateChangeCause, accountID string) near.StateChangeWithCause {
	return near.StateChangeWithCause{
		Cause: cause,
		Value: near.StateChangeValue{Type: near.ValueDataUpdate, Change: near.StateChangeEntry{AccountID: accountID}},
	}
}

func txCause(hash string) near.StateChangeCause {
	return near.StateChangeCause{Type: near.CauseTransactionProcessing, TxHash: hash}
}

func receiptCause(id string) near.StateChangeCause {
	return near.StateChangeCause{Type: near.CauseReceiptProcessing, ReceiptHash: id}
}

func rewardCause(id string) near.StateChangeCause {
	return near.StateChangeCause{Type: near.CauseActionReceiptGasReward, ReceiptHash: id}
}

func validatorCause() near.StateChangeCause {
	return near.StateChangeCause{Type: near.CauseValidatorAccountsUpdate}
}

func transaction(hash, signer, receiver string, status near.StatusKind) near.IndexerTransactionWithOutcome {
	return near.IndexerTransactionWithOutcome{
		Transaction: near.SignedTransactionView{Hash: hash, SignerID: signer, ReceiverID: receiver},
		Outcome: near.IndexerExecutionOutcomeWithOptReceipt{
			ExecutionOutcome: near.ExecutionOutcomeWithIDView{
				ID:      hash,
				Outcome: near.ExecutionOutcomeView{ExecutorID: signer, Status: near.ExecutionStatus{Kind: status}},
			},
		},
	}
}

func receiptOutcome(id, predecessor, receiver string, status near.StatusKind) near.IndexerExecutionOutcomeWithReceipt {
	return near.IndexerExecutionOutcomeWithReceipt{
		ExecutionOutcome: near.ExecutionOutcomeWithIDView{
			ID:      id,
			Outcome: near.ExecutionOutcomeView{ExecutorID: receiver, Status: near.ExecutionStatus{Kind: status}},
		},
		Receipt: &near.ReceiptView{ReceiptID: id, PredecessorID: predecessor, ReceiverID: receiver},
	}
}

func testBlock(height uint64, shards ...near.IndexerShard) *near.StreamerMessage {
	return &near.StreamerMessage{
		Block: near.BlockView{Header: near.BlockHeaderView{
			Height:           height,
			Hash:             fmt.Sprintf("hash-%d", height),
			PrevHash:         fmt.Sprintf("hash-%d", height-1),
			TimestampNanosec: testTimestamp,
		}},
		Shards: shards,
	}
}

// render flattens an event into a comparable string.
func render(ev *models.BalanceEvent) string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s|%s|%s|%s/%s|%s/%s",
		ev.EventIndex, ev.BlockHeight, ev.BlockTimestamp,
		deref(ev.ReceiptID), deref(ev.TransactionHash),
		ev.AffectedAccountID, deref(ev.InvolvedAccountID),
		ev.Direction, ev.Cause, ev.Status,
		ev.DeltaStakedAmount, ev.DeltaNonStakedAmount,
		ev.AbsoluteStakedAmount, ev.AbsoluteNonStakedAmount,
	)
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
