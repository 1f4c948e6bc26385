package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
	"coinflip/domain/interfaces"
)

// OrchestratorState is the orchestrator's position in the approve then flip sequence
type OrchestratorState string

const (
	OrchestratorIdle                    OrchestratorState = "idle"
	OrchestratorApproving               OrchestratorState = "approving"
	OrchestratorAwaitingApprovalConfirm OrchestratorState = "awaiting_approval_confirm"
	OrchestratorSubmitting              OrchestratorState = "submitting"
	OrchestratorAwaitingSubmitConfirm   OrchestratorState = "awaiting_submit_confirm"
	OrchestratorSubmitted               OrchestratorState = "submitted"
)

// IsApproving checks if the approval stage is in progress
func (s OrchestratorState) IsApproving() bool {
	return s == OrchestratorApproving || s == OrchestratorAwaitingApprovalConfirm
}

// IsSubmitting checks if the wager stage is in progress
func (s OrchestratorState) IsSubmitting() bool {
	return s == OrchestratorSubmitting || s == OrchestratorAwaitingSubmitConfirm
}

// FactSink receives facts produced by background work
type FactSink func(facts.Fact)

// OrchestratorUpdate describes the effect of one handled fact
type OrchestratorUpdate struct {
	State   OrchestratorState
	Changed bool
	// Err is set when the wager failed and the orchestrator returned to idle
	Err *entities.TransactionError
	// Receipt is the wager transaction receipt once the flip is confirmed
	Receipt *entities.Receipt
}

// TransactionOrchestrator drives the two ledger writes of a wager: an ERC20
// approval for exactly the wager amount, then the flip itself. The flip is
// never issued before the approval is confirmed, whatever order the facts
// arrive in. Writes run in background goroutines that report back through the
// sink; Handle must be called from a single goroutine.
type TransactionOrchestrator struct {
	writer      interfaces.LedgerWriter
	game        ethtypes.Address0xHex
	sink        FactSink
	revokeStale bool

	state    OrchestratorState
	request  *entities.WagerRequest
	approval *entities.TransactionHandle
	wager    *entities.TransactionHandle
}

// NewTransactionOrchestrator creates an orchestrator for the given game contract
func NewTransactionOrchestrator(writer interfaces.LedgerWriter, game ethtypes.Address0xHex, sink FactSink, revokeStale bool) *TransactionOrchestrator {
	return &TransactionOrchestrator{
		writer:      writer,
		game:        game,
		sink:        sink,
		revokeStale: revokeStale,
		state:       OrchestratorIdle,
	}
}

// State returns the current orchestrator state
func (o *TransactionOrchestrator) State() OrchestratorState {
	return o.state
}

// Request returns the wager being orchestrated, nil when idle
func (o *TransactionOrchestrator) Request() *entities.WagerRequest {
	return o.request
}

// Approval returns the approval transaction handle, nil until submitted
func (o *TransactionOrchestrator) Approval() *entities.TransactionHandle {
	return o.approval
}

// Wager returns the wager transaction handle, nil until the flip is issued
func (o *TransactionOrchestrator) Wager() *entities.TransactionHandle {
	return o.wager
}

// WagerHash returns the hash of the flip transaction, empty until it is known
func (o *TransactionOrchestrator) WagerHash() string {
	if o.wager == nil {
		return ""
	}
	return o.wager.Hash
}

// Start begins a wager by submitting the approval
func (o *TransactionOrchestrator) Start(ctx context.Context, req entities.WagerRequest) error {
	if o.state != OrchestratorIdle && o.state != OrchestratorSubmitted {
		return fmt.Errorf("cannot start wager in state %s: %w", o.state, entities.ErrWagerInFlight)
	}
	if req.Units == nil || req.Units.Sign() <= 0 {
		return fmt.Errorf("wager %s has no amount", req.ID)
	}

	o.request = &req
	o.approval = nil
	o.wager = nil
	o.state = OrchestratorApproving

	log.WithFields(log.Fields{
		"wager_id": req.ID,
		"token":    req.Token.String(),
		"amount":   req.Amount,
		"choice":   req.Choice.String(),
	}).Info("Submitting approval")

	go o.approve(ctx, req)
	return nil
}

// Handle applies a transaction fact. Facts for other wagers are ignored. ctx
// bounds any write the fact triggers.
func (o *TransactionOrchestrator) Handle(ctx context.Context, f facts.Fact) OrchestratorUpdate {
	switch fact := f.(type) {
	case facts.TxSubmittedFact:
		if fact.Stage == entities.TxStageRevoke {
			log.WithFields(log.Fields{"wager_id": fact.WagerID, "tx_hash": fact.Hash}).Info("Allowance revocation submitted")
			return o.unchanged()
		}
		if !o.owns(fact.WagerID) {
			return o.unchanged()
		}
		return o.handleSubmitted(fact)

	case facts.TxConfirmedFact:
		if fact.Stage == entities.TxStageRevoke {
			log.WithFields(log.Fields{"wager_id": fact.WagerID, "tx_hash": fact.Receipt.TxHash}).Info("Allowance revoked")
			return o.unchanged()
		}
		if !o.owns(fact.WagerID) {
			return o.unchanged()
		}
		return o.handleConfirmed(ctx, fact)

	case facts.TxFailedFact:
		if fact.Stage == entities.TxStageRevoke {
			log.WithFields(log.Fields{"wager_id": fact.WagerID, "tx_hash": fact.Hash}).WithError(fact.Err).Warn("Allowance revocation failed")
			return o.unchanged()
		}
		if !o.owns(fact.WagerID) {
			return o.unchanged()
		}
		return o.handleFailed(fact)
	}
	return o.unchanged()
}

func (o *TransactionOrchestrator) handleSubmitted(fact facts.TxSubmittedFact) OrchestratorUpdate {
	switch {
	case fact.Stage == entities.TxStageApproval && o.state == OrchestratorApproving:
		o.approval = &entities.TransactionHandle{Stage: entities.TxStageApproval, Hash: fact.Hash, Status: entities.TxStatusPending}
		return o.transition(OrchestratorAwaitingApprovalConfirm)

	case fact.Stage == entities.TxStageWager && o.state == OrchestratorSubmitting:
		o.wager.Hash = fact.Hash
		return o.transition(OrchestratorAwaitingSubmitConfirm)
	}
	return o.unchanged()
}

func (o *TransactionOrchestrator) handleConfirmed(ctx context.Context, fact facts.TxConfirmedFact) OrchestratorUpdate {
	switch fact.Stage {
	case entities.TxStageApproval:
		// The confirmation may overtake the submission fact; the approval handle is
		// rebuilt from the receipt in that case.
		if !o.state.IsApproving() || o.wager != nil {
			return o.unchanged()
		}
		o.approval = &entities.TransactionHandle{Stage: entities.TxStageApproval, Hash: fact.Receipt.TxHash, Status: entities.TxStatusConfirmed}
		o.wager = &entities.TransactionHandle{Stage: entities.TxStageWager, Status: entities.TxStatusPending}

		log.WithFields(log.Fields{
			"wager_id": o.request.ID,
			"tx_hash":  fact.Receipt.TxHash,
		}).Info("Approval confirmed, submitting wager")

		go o.flip(ctx, *o.request)
		return o.transition(OrchestratorSubmitting)

	case entities.TxStageWager:
		if !o.state.IsSubmitting() {
			return o.unchanged()
		}
		o.wager.Hash = fact.Receipt.TxHash
		o.wager.Status = entities.TxStatusConfirmed
		receipt := fact.Receipt

		log.WithFields(log.Fields{
			"wager_id": o.request.ID,
			"tx_hash":  receipt.TxHash,
			"block":    receipt.BlockNumber,
		}).Info("Wager confirmed")

		update := o.transition(OrchestratorSubmitted)
		update.Receipt = &receipt
		return update
	}
	return o.unchanged()
}

func (o *TransactionOrchestrator) handleFailed(fact facts.TxFailedFact) OrchestratorUpdate {
	switch {
	case fact.Stage == entities.TxStageApproval && o.state.IsApproving():
	case fact.Stage == entities.TxStageWager && o.state.IsSubmitting():
	default:
		return o.unchanged()
	}

	txErr := &entities.TransactionError{Stage: fact.Stage, Hash: fact.Hash, Err: fact.Err}
	log.WithFields(log.Fields{
		"wager_id": fact.WagerID,
		"stage":    fact.Stage,
		"tx_hash":  fact.Hash,
	}).WithError(fact.Err).Error("Wager transaction failed")

	o.clear()
	return OrchestratorUpdate{State: o.state, Changed: true, Err: txErr}
}

// Reset returns the orchestrator to idle and forgets the wager
func (o *TransactionOrchestrator) Reset() {
	o.clear()
}

// Abandon is called when the session closes. If the approval went out but the
// flip never did, the allowance is revoked best-effort. Transactions already
// sent finalize on their own.
func (o *TransactionOrchestrator) Abandon(ctx context.Context) {
	defer o.clear()

	if !o.revokeStale || o.request == nil || o.wager != nil || !o.state.IsApproving() {
		return
	}
	log.WithField("wager_id", o.request.ID).Info("Abandoning approved wager, revoking allowance")
	if _, err := o.writer.Approve(ctx, o.request.Token, o.game, new(big.Int)); err != nil {
		log.WithField("wager_id", o.request.ID).WithError(err).Warn("Failed to revoke allowance")
	}
}

func (o *TransactionOrchestrator) approve(ctx context.Context, req entities.WagerRequest) {
	hash, err := o.writer.Approve(ctx, req.Token, o.game, req.Units)
	if err != nil {
		o.sink(facts.TxFailedFact{WagerID: req.ID, Stage: entities.TxStageApproval, Err: err})
		return
	}
	o.sink(facts.TxSubmittedFact{WagerID: req.ID, Stage: entities.TxStageApproval, Hash: hash})

	receipt, err := o.confirm(ctx, hash)
	if err != nil {
		o.sink(facts.TxFailedFact{WagerID: req.ID, Stage: entities.TxStageApproval, Hash: hash, Err: err})
		return
	}
	o.sink(facts.TxConfirmedFact{WagerID: req.ID, Stage: entities.TxStageApproval, Receipt: *receipt})
}

// flip runs only after the approval is confirmed. When it fails the allowance
// is still open, so the revocation is submitted before the failure is reported.
func (o *TransactionOrchestrator) flip(ctx context.Context, req entities.WagerRequest) {
	hash, err := o.writer.Flip(ctx, req.Choice, req.Token, req.Units)
	if err != nil {
		o.revoke(ctx, req)
		o.sink(facts.TxFailedFact{WagerID: req.ID, Stage: entities.TxStageWager, Err: err})
		return
	}
	o.sink(facts.TxSubmittedFact{WagerID: req.ID, Stage: entities.TxStageWager, Hash: hash})

	receipt, err := o.confirm(ctx, hash)
	if err != nil {
		if errors.Is(err, entities.ErrTransactionReverted) {
			o.revoke(ctx, req)
		}
		o.sink(facts.TxFailedFact{WagerID: req.ID, Stage: entities.TxStageWager, Hash: hash, Err: err})
		return
	}
	o.sink(facts.TxConfirmedFact{WagerID: req.ID, Stage: entities.TxStageWager, Receipt: *receipt})
}

func (o *TransactionOrchestrator) revoke(ctx context.Context, req entities.WagerRequest) {
	if !o.revokeStale || ctx.Err() != nil {
		return
	}
	hash, err := o.writer.Approve(ctx, req.Token, o.game, new(big.Int))
	if err != nil {
		o.sink(facts.TxFailedFact{WagerID: req.ID, Stage: entities.TxStageRevoke, Err: err})
		return
	}
	o.sink(facts.TxSubmittedFact{WagerID: req.ID, Stage: entities.TxStageRevoke, Hash: hash})

	go func() {
		receipt, err := o.confirm(ctx, hash)
		if err != nil {
			o.sink(facts.TxFailedFact{WagerID: req.ID, Stage: entities.TxStageRevoke, Hash: hash, Err: err})
			return
		}
		o.sink(facts.TxConfirmedFact{WagerID: req.ID, Stage: entities.TxStageRevoke, Receipt: *receipt})
	}()
}

func (o *TransactionOrchestrator) confirm(ctx context.Context, hash string) (*entities.Receipt, error) {
	receipt, err := o.writer.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for receipt: %w", err)
	}
	if !receipt.Success {
		return nil, entities.ErrTransactionReverted
	}
	return receipt, nil
}

func (o *TransactionOrchestrator) owns(wagerID uuid.UUID) bool {
	return o.request != nil && o.request.ID == wagerID
}

func (o *TransactionOrchestrator) transition(next OrchestratorState) OrchestratorUpdate {
	o.state = next
	return OrchestratorUpdate{State: next, Changed: true}
}

func (o *TransactionOrchestrator) unchanged() OrchestratorUpdate {
	return OrchestratorUpdate{State: o.state}
}

func (o *TransactionOrchestrator) clear() {
	o.state = OrchestratorIdle
	o.request = nil
	o.approval = nil
	o.wager = nil
}
