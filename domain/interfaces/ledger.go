package interfaces

import (
	"context"
	"math/big"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
)

// LedgerReader defines the read-only calls issued to the token and game contracts
type LedgerReader interface {
	// BalanceOf returns the token balance of an account in fixed-point units
	BalanceOf(ctx context.Context, token, account ethtypes.Address0xHex) (*big.Int, error)

	// Symbol returns the token's ticker symbol
	Symbol(ctx context.Context, token ethtypes.Address0xHex) (string, error)

	// Decimals returns the token's declared decimal precision
	Decimals(ctx context.Context, token ethtypes.Address0xHex) (int, error)

	// GetBetStatus returns the randomness request record for a wager
	GetBetStatus(ctx context.Context, requestID entities.RequestID) (*entities.BetStatus, error)

	// GetGameOutcome returns the outcome of a fulfilled wager
	GetGameOutcome(ctx context.Context, requestID entities.RequestID) (*entities.GameOutcome, error)
}

// LedgerWriter defines the transactions the client submits and how it observes them
type LedgerWriter interface {
	// Approve authorizes spender to transfer amount of token from the player's account
	Approve(ctx context.Context, token, spender ethtypes.Address0xHex, amount *big.Int) (txHash string, err error)

	// Flip submits the wager to the game contract
	Flip(ctx context.Context, choice entities.Choice, token ethtypes.Address0xHex, amount *big.Int) (txHash string, err error)

	// WaitForReceipt blocks until the transaction is mined or ctx is done
	WaitForReceipt(ctx context.Context, txHash string) (*entities.Receipt, error)
}

// EventSource streams the game contract's wager events as facts
type EventSource interface {
	// Run delivers facts to sink until ctx is done
	Run(ctx context.Context, sink func(facts.Fact)) error
}
