package entities

// TxStage identifies which ledger write a transaction belongs to
type TxStage string

const (
	TxStageApproval TxStage = "approval"
	TxStageWager    TxStage = "wager"
	TxStageRevoke   TxStage = "revoke"
)

// TxStatus is the confirmation status of a submitted transaction
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// TransactionHandle references a submitted ledger transaction
type TransactionHandle struct {
	Stage  TxStage
	Hash   string
	Status TxStatus
}

// IsConfirmed checks if the transaction has been confirmed
func (h *TransactionHandle) IsConfirmed() bool {
	return h != nil && h.Status == TxStatusConfirmed
}

// Receipt is the confirmation of a mined transaction
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	// Accepted holds any wager acceptance events emitted by the transaction
	Accepted []WagerAccepted
}
