// Package facts defines the immutable messages that asynchronous producers
// (ledger events, pollers, transaction waiters, balance reads) post to the
// wager session's inbox.
package facts

import (
	"github.com/google/uuid"

	"coinflip/domain/entities"
)

// Kind tags a fact variant
type Kind string

const (
	KindAccepted    Kind = "accepted"
	KindFulfilled   Kind = "fulfilled"
	KindStatus      Kind = "status"
	KindOutcome     Kind = "outcome"
	KindTxSubmitted Kind = "tx_submitted"
	KindTxConfirmed Kind = "tx_confirmed"
	KindTxFailed    Kind = "tx_failed"
	KindBalanceRead Kind = "balance_read"
)

// Fact is an asynchronous arrival of information about the ledger
type Fact interface {
	Kind() Kind
}

// Correlated is implemented by facts that refer to a randomness request
type Correlated interface {
	Fact
	Request() entities.RequestID
}

// AcceptedFact reports that the game contract accepted a wager into the randomness queue
type AcceptedFact struct {
	entities.WagerAccepted
}

func (f AcceptedFact) Kind() Kind                  { return KindAccepted }
func (f AcceptedFact) Request() entities.RequestID { return f.RequestID }

// FulfilledFact reports that randomness for a request was delivered
type FulfilledFact struct {
	entities.WagerFulfilled
}

func (f FulfilledFact) Kind() Kind                  { return KindFulfilled }
func (f FulfilledFact) Request() entities.RequestID { return f.RequestID }

// StatusFact carries a polled BetStatus
type StatusFact struct {
	RequestID entities.RequestID
	Status    entities.BetStatus
}

func (f StatusFact) Kind() Kind                  { return KindStatus }
func (f StatusFact) Request() entities.RequestID { return f.RequestID }

// OutcomeFact carries a polled GameOutcome
type OutcomeFact struct {
	RequestID entities.RequestID
	Outcome   entities.GameOutcome
}

func (f OutcomeFact) Kind() Kind                  { return KindOutcome }
func (f OutcomeFact) Request() entities.RequestID { return f.RequestID }

// TxSubmittedFact reports that a transaction was accepted by the node
type TxSubmittedFact struct {
	WagerID uuid.UUID
	Stage   entities.TxStage
	Hash    string
}

func (f TxSubmittedFact) Kind() Kind { return KindTxSubmitted }

// TxConfirmedFact reports a successful receipt
type TxConfirmedFact struct {
	WagerID uuid.UUID
	Stage   entities.TxStage
	Receipt entities.Receipt
}

func (f TxConfirmedFact) Kind() Kind { return KindTxConfirmed }

// TxFailedFact reports a rejected submission or a failed confirmation
type TxFailedFact struct {
	WagerID uuid.UUID
	Stage   entities.TxStage
	Hash    string
	Err     error
}

func (f TxFailedFact) Kind() Kind { return KindTxFailed }

// BalanceReadFact carries the result of one balance refresh
type BalanceReadFact struct {
	Generation uint64
	Balance    entities.TokenBalance
	// Err is set when balance or symbol could not be read
	Err error
	// TreasuryErr is set when only the treasury read failed
	TreasuryErr error
}

func (f BalanceReadFact) Kind() Kind { return KindBalanceRead }
