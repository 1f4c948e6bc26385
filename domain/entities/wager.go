package entities

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// DefaultTokenDecimals is used when a token does not declare its precision
const DefaultTokenDecimals = 18

// WagerRequest is the player's intent for a single flip. It is copied by value
// into the orchestrator once submitted and never modified afterwards.
type WagerRequest struct {
	ID       uuid.UUID
	Token    ethtypes.Address0xHex
	Amount   string   // decimal amount as entered
	Units    *big.Int // Amount in the token's fixed-point representation
	Decimals int
	Choice   Choice
}

// NewWagerRequest creates a wager request with a fresh identifier
func NewWagerRequest(token ethtypes.Address0xHex, amount string, units *big.Int, decimals int, choice Choice) WagerRequest {
	return WagerRequest{
		ID:       uuid.New(),
		Token:    token,
		Amount:   amount,
		Units:    new(big.Int).Set(units),
		Decimals: decimals,
		Choice:   choice,
	}
}

// TokenBalance is the advisory view of the selected token as read from the ledger
type TokenBalance struct {
	Token    ethtypes.Address0xHex
	Symbol   string
	Decimals int
	Balance  *big.Int // nil until read
	Treasury *big.Int // nil when the treasury balance is unknown
}

// BalanceOrZero returns the account balance, treating an unread balance as zero
func (b TokenBalance) BalanceOrZero() *big.Int {
	if b.Balance == nil {
		return new(big.Int)
	}
	return b.Balance
}
