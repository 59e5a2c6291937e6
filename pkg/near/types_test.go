package near

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBlock = `{
  "block": {
    "author": "node0",
    "header": {
      "height": 9820214,
      "hash": "BLOCK_HASH",
      "prev_hash": "PREV_HASH",
      "timestamp_nanosec": "1595370903490523743"
    }
  },
  "shards": [
    {
      "shard_id": 0,
      "chunk": {
        "author": "node0",
        "transactions": [
          {
            "transaction": {"hash": "T1", "signer_id": "alice.near", "receiver_id": "bob.near", "nonce": 7},
            "outcome": {
              "execution_outcome": {
                "id": "T1",
                "outcome": {"executor_id": "alice.near", "receipt_ids": ["R1"], "status": {"SuccessReceiptId": "R1"}}
              },
              "receipt": null
            }
          }
        ]
      },
      "receipt_execution_outcomes": [
        {
          "execution_outcome": {"id": "R1", "outcome": {"executor_id": "bob.near", "status": {"SuccessValue": ""}}},
          "receipt": {"receipt_id": "R1", "predecessor_id": "alice.near", "receiver_id": "bob.near", "receipt": {"Action": {"actions": []}}}
        }
      ],
      "state_changes": [
        {
          "cause": {"type": "transaction_processing", "tx_hash": "T1"},
          "value": {"type": "account_update", "change": {"account_id": "alice.near", "amount": "900", "locked": "0", "storage_usage": 182}}
        },
        {
          "cause": {"type": "receipt_processing", "receipt_hash": "R1"},
          "value": {"type": "account_deletion", "change": {"account_id": "bob.near"}}
        },
        {
          "cause": {"type": "receipt_processing", "receipt_hash": "R1"},
          "value": {"type": "data_update", "change": {"account_id": "bob.near", "key_base64": "a2V5", "value_base64": "dmFs"}}
        }
      ]
    },
    {"shard_id": 1, "chunk": null, "receipt_execution_outcomes": [], "state_changes": []}
  ]
}`

func TestDecodeStreamerMessage(t *testing.T) {
	msg, err := DecodeStreamerMessage([]byte(sampleBlock))
	require.NoError(t, err)

	assert.Equal(t, uint64(9820214), msg.Block.Header.Height)
	assert.Equal(t, "PREV_HASH", msg.Block.Header.PrevHash)
	require.Len(t, msg.Shards, 2)

	shard := msg.Shards[0]
	require.Len(t, shard.Transactions(), 1)
	tx := shard.Transactions()[0]
	assert.Equal(t, "alice.near", tx.Transaction.SignerID)
	assert.Equal(t, StatusSuccessReceiptID, tx.Outcome.ExecutionOutcome.Outcome.Status.Kind)

	require.Len(t, shard.ReceiptExecutionOutcomes, 1)
	assert.True(t, shard.ReceiptExecutionOutcomes[0].Receipt.Decodable())
	assert.Equal(t, StatusSuccessValue, shard.ReceiptExecutionOutcomes[0].ExecutionOutcome.Outcome.Status.Kind)

	require.Len(t, shard.StateChanges, 3)
	first := shard.StateChanges[0]
	assert.Equal(t, CauseTransactionProcessing, first.Cause.Type)
	assert.Equal(t, "T1", first.Cause.TxHash)
	assert.True(t, first.Value.IsBalanceChange())
	assert.Equal(t, "900", first.Value.Change.Amount)
	assert.True(t, shard.StateChanges[1].Value.IsBalanceChange())
	assert.False(t, shard.StateChanges[2].Value.IsBalanceChange())

	assert.Nil(t, msg.Shards[1].Transactions())
}

func TestDecodeStreamerMessageRejectsBadHeader(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"block":`},
		{"missing prev hash", `{"block":{"header":{"height":1,"timestamp_nanosec":"1"}},"shards":[]}`},
		{"bad timestamp", `{"block":{"header":{"height":1,"prev_hash":"P","timestamp_nanosec":"1.5"}},"shards":[]}`},
		{"duplicate shard", `{"block":{"header":{"height":1,"prev_hash":"P","timestamp_nanosec":"1"}},"shards":[{"shard_id":3},{"shard_id":3}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStreamerMessage([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestExecutionStatusJSON(t *testing.T) {
	tests := []struct {
		in   string
		want StatusKind
	}{
		{`"Unknown"`, StatusUnknown},
		{`null`, StatusUnknown},
		{`{"Failure": {"ActionError": {"index": 0}}}`, StatusFailure},
		{`{"SuccessValue": "AQ=="}`, StatusSuccessValue},
		{`{"SuccessReceiptId": "R9"}`, StatusSuccessReceiptID},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var s ExecutionStatus
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			assert.Equal(t, tt.want, s.Kind)
		})
	}

	var s ExecutionStatus
	assert.Error(t, json.Unmarshal([]byte(`{"Bogus": 1}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"Failure": 1, "SuccessValue": ""}`), &s))

	out, err := json.Marshal(ExecutionStatus{Kind: StatusSuccessReceiptID, Raw: json.RawMessage(`"R9"`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"SuccessReceiptId":"R9"}`, string(out))
}

func TestReceiptDecodable(t *testing.T) {
	var nilReceipt *ReceiptView
	assert.False(t, nilReceipt.Decodable())
	assert.False(t, (&ReceiptView{ReceiverID: "bob.near"}).Decodable())
	assert.True(t, (&ReceiptView{ReceiptID: "R1", ReceiverID: "bob.near"}).Decodable())
}
