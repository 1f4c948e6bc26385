package entities

import (
	"fmt"
	"math/big"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// RequestID is the randomness request identifier the game contract emits when a
// wager is accepted, in base-10. The empty value means no request.
type RequestID string

// NewRequestID creates a RequestID from its integer form
func NewRequestID(n *big.Int) RequestID {
	if n == nil {
		return ""
	}
	return RequestID(n.String())
}

// IsZero reports whether no request is referenced
func (r RequestID) IsZero() bool {
	return r == ""
}

// BigInt returns the integer form of the identifier
func (r RequestID) BigInt() *big.Int {
	n, ok := new(big.Int).SetString(string(r), 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func (r RequestID) String() string {
	return string(r)
}

// WagerAccepted is emitted when the game contract queues a wager for randomness
type WagerAccepted struct {
	RequestID RequestID
	NumWords  uint32
	TxHash    string
}

// WagerFulfilled is emitted when the randomness for a request has been delivered
type WagerFulfilled struct {
	RequestID RequestID
	UserWon   bool
	Rolled    *big.Int
	TxHash    string
}

// BetStatus is the ledger-resident record of a wager's randomness request
type BetStatus struct {
	Exists    bool
	Fulfilled bool
	Numbers   []*big.Int
	Requester ethtypes.Address0xHex
	Amount    *big.Int
	Resolved  bool
}

// GameOutcome is the resolved result of a fulfilled wager
type GameOutcome struct {
	PlayerWon       bool
	PlayerChoice    Choice
	Outcome         Choice
	BetAmount       *big.Int
	PotentialPayout *big.Int
}

// Describe returns the player-facing narrative for the outcome
func (o GameOutcome) Describe() string {
	verdict := "Lost"
	if o.PlayerWon {
		verdict = "Won"
	}
	return fmt.Sprintf("You %s. Choice: %s, Outcome: %s", verdict, o.PlayerChoice, o.Outcome)
}

// FlipResult is the settled result shown to the player
type FlipResult struct {
	RequestID   RequestID
	Outcome     GameOutcome
	Description string
}

// NewFlipResult materializes the result for a settled request
func NewFlipResult(id RequestID, outcome GameOutcome) *FlipResult {
	return &FlipResult{
		RequestID:   id,
		Outcome:     outcome,
		Description: outcome.Describe(),
	}
}

// Won reports whether the player won
func (r *FlipResult) Won() bool {
	return r.Outcome.PlayerWon
}

// Headline returns the short banner for the result
func (r *FlipResult) Headline() string {
	if r.Outcome.PlayerWon {
		return "Congratulations!"
	}
	return "Better luck next time!"
}
