package near

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// SystemAccount is the protocol account used for minting, refunds and other
// runtime-originated receipts.
const SystemAccount = "system"

// StreamerMessage is one block as delivered by the block stream.
type StreamerMessage struct {
	Block  BlockView      `json:"block"`
	Shards []IndexerShard `json:"shards"`
}

type BlockView struct {
	Author string          `json:"author,omitempty"`
	Header BlockHeaderView `json:"header"`
}

type BlockHeaderView struct {
	Height           uint64 `json:"height"`
	Hash             string `json:"hash"`
	PrevHash         string `json:"prev_hash"`
	TimestampNanosec string `json:"timestamp_nanosec"`
}

type IndexerShard struct {
	ShardID                  uint64                               `json:"shard_id"`
	Chunk                    *IndexerChunkView                    `json:"chunk"`
	ReceiptExecutionOutcomes []IndexerExecutionOutcomeWithReceipt `json:"receipt_execution_outcomes"`
	StateChanges             []StateChangeWithCause               `json:"state_changes"`
}

// Transactions returns the chunk transactions, or nil when the shard has no chunk.
func (s IndexerShard) Transactions() []IndexerTransactionWithOutcome {
	if s.Chunk == nil {
		return nil
	}
	return s.Chunk.Transactions
}

type IndexerChunkView struct {
	Author       string                          `json:"author,omitempty"`
	Transactions []IndexerTransactionWithOutcome `json:"transactions"`
}

type IndexerTransactionWithOutcome struct {
	Transaction SignedTransactionView                 `json:"transaction"`
	Outcome     IndexerExecutionOutcomeWithOptReceipt `json:"outcome"`
}

type SignedTransactionView struct {
	Hash       string `json:"hash"`
	SignerID   string `json:"signer_id"`
	ReceiverID string `json:"receiver_id"`
	Nonce      uint64 `json:"nonce,omitempty"`
}

type IndexerExecutionOutcomeWithOptReceipt struct {
	ExecutionOutcome ExecutionOutcomeWithIDView `json:"execution_outcome"`
	Receipt          *ReceiptView               `json:"receipt,omitempty"`
}

type IndexerExecutionOutcomeWithReceipt struct {
	ExecutionOutcome ExecutionOutcomeWithIDView `json:"execution_outcome"`
	Receipt          *ReceiptView               `json:"receipt"`
}

type ExecutionOutcomeWithIDView struct {
	ID        string               `json:"id"`
	BlockHash string               `json:"block_hash,omitempty"`
	Outcome   ExecutionOutcomeView `json:"outcome"`
}

type ExecutionOutcomeView struct {
	ExecutorID string          `json:"executor_id"`
	ReceiptIDs []string        `json:"receipt_ids,omitempty"`
	Status     ExecutionStatus `json:"status"`
}

// ReceiptView carries the receipt routing fields. Receipt holds the raw
// Action/Data payload which is kept opaque.
type ReceiptView struct {
	ReceiptID     string          `json:"receipt_id"`
	PredecessorID string          `json:"predecessor_id"`
	ReceiverID    string          `json:"receiver_id"`
	Receipt       json.RawMessage `json:"receipt,omitempty"`
}

// Decodable reports whether the receipt carries enough data to attribute a
// balance change.
func (r *ReceiptView) Decodable() bool {
	return r != nil && r.ReceiptID != "" && r.ReceiverID != ""
}

var ErrInvalidMessage = errors.New("invalid streamer message")

// DecodeStreamerMessage parses a JSON block message and checks the header
// fields every later stage depends on.
func DecodeStreamerMessage(data []byte) (*StreamerMessage, error) {
	var msg StreamerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *StreamerMessage) Validate() error {
	h := m.Block.Header
	if h.PrevHash == "" {
		return fmt.Errorf("%w: block %d has no prev_hash", ErrInvalidMessage, h.Height)
	}
	if _, err := strconv.ParseUint(h.TimestampNanosec, 10, 64); err != nil {
		return fmt.Errorf("%w: block %d timestamp_nanosec %q: %v", ErrInvalidMessage, h.Height, h.TimestampNanosec, err)
	}
	seen := make(map[uint64]struct{}, len(m.Shards))
	for _, s := range m.Shards {
		if _, dup := seen[s.ShardID]; dup {
			return fmt.Errorf("%w: block %d repeats shard %d", ErrInvalidMessage, h.Height, s.ShardID)
		}
		seen[s.ShardID] = struct{}{}
	}
	return nil
}
