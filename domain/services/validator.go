package services

import (
	"fmt"
	"math/big"

	"coinflip/domain/entities"
	"coinflip/domain/utils"
)

// TreasuryCoverageMultiplier is how many times the wager the treasury must hold
// to cover the maximum payout
const TreasuryCoverageMultiplier = 2

// ValidationInput is everything the validator looks at. It is rebuilt from the
// latest reads on every attempt.
type ValidationInput struct {
	Wallet   entities.Wallet
	Amount   string
	Decimals int
	Symbol   string
	Balance  *big.Int // nil is treated as zero
	Treasury *big.Int // nil when unknown
}

// ValidateWager checks a wager against wallet state, balance and treasury
// solvency. The first failing rule wins.
func ValidateWager(in ValidationInput) *entities.ValidationError {
	if !in.Wallet.HasAccount() {
		return &entities.ValidationError{
			Kind:    entities.ValidationNotConnected,
			Message: "Please connect your wallet",
		}
	}

	units, err := utils.ParseUnits(in.Amount, in.Decimals)
	if err != nil || units.Sign() <= 0 {
		return &entities.ValidationError{
			Kind:    entities.ValidationInvalidAmount,
			Message: "Bet amount must be positive",
		}
	}

	balance := in.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	if balance.Cmp(units) < 0 {
		return &entities.ValidationError{
			Kind:    entities.ValidationInsufficientBalance,
			Message: fmt.Sprintf("Insufficient %s balance", in.Symbol),
		}
	}

	if in.Treasury != nil {
		required := new(big.Int).Mul(units, big.NewInt(TreasuryCoverageMultiplier))
		if in.Treasury.Cmp(required) < 0 {
			return &entities.ValidationError{
				Kind: entities.ValidationInsufficientTreasury,
				Message: fmt.Sprintf("Treasury has insufficient balance: %s available, %s needed. Contact support.",
					utils.FormatUnits(in.Treasury, in.Decimals),
					utils.FormatUnits(required, in.Decimals)),
			}
		}
	}

	return nil
}
