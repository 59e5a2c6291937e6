package near

// CauseType is the runtime reason attached to a state change.
type CauseType string

const (
	CauseValidatorAccountsUpdate        CauseType = "validator_accounts_update"
	CauseTransactionProcessing          CauseType = "transaction_processing"
	CauseReceiptProcessing              CauseType = "receipt_processing"
	CauseActionReceiptGasReward         CauseType = "action_receipt_gas_reward"
	CauseNotWritableToDisk              CauseType = "not_writable_to_disk"
	CauseInitialState                   CauseType = "initial_state"
	CauseActionReceiptProcessingStarted CauseType = "action_receipt_processing_started"
	CauseUpdatedDelayedReceipts         CauseType = "updated_delayed_receipts"
	CausePostponedReceipt               CauseType = "postponed_receipt"
	CauseUpdateRefunds                  CauseType = "update_refunds"
	CauseMigration                      CauseType = "migration"
	CauseResharding                     CauseType = "resharding"
)

// ValueType is the kind of state mutation.
type ValueType string

const (
	ValueAccountUpdate     ValueType = "account_update"
	ValueAccountDeletion   ValueType = "account_deletion"
	ValueAccessKeyUpdate   ValueType = "access_key_update"
	ValueAccessKeyDeletion ValueType = "access_key_deletion"
	ValueDataUpdate        ValueType = "data_update"
	ValueDataDeletion      ValueType = "data_deletion"
	ValueContractUpdate    ValueType = "contract_code_update"
	ValueContractDeletion  ValueType = "contract_code_deletion"
)

type StateChangeWithCause struct {
	Cause StateChangeCause `json:"cause"`
	Value StateChangeValue `json:"value"`
}

// StateChangeCause keeps unknown cause types as-is; rejecting them is up to
// the consumer.
type StateChangeCause struct {
	Type        CauseType `json:"type"`
	TxHash      string    `json:"tx_hash,omitempty"`
	ReceiptHash string    `json:"receipt_hash,omitempty"`
}

type StateChangeValue struct {
	Type   ValueType        `json:"type"`
	Change StateChangeEntry `json:"change"`
}

// StateChangeEntry is the flattened change payload. Only the account fields
// are decoded; the rest of the payload is ignored.
type StateChangeEntry struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount,omitempty"`
	Locked    string `json:"locked,omitempty"`
}

// IsBalanceChange reports whether the value mutates an account balance.
func (v StateChangeValue) IsBalanceChange() bool {
	return v.Type == ValueAccountUpdate || v.Type == ValueAccountDeletion
}
