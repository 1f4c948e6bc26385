package utils

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrAmountNotDecimal is returned for input that is not a decimal number
	ErrAmountNotDecimal = errors.New("amount is not a decimal number")

	// ErrAmountTooPrecise is returned when the amount has more fractional digits than the token supports
	ErrAmountTooPrecise = errors.New("amount has more decimal places than the token supports")
)

// ParseUnits converts a decimal string into the token's fixed-point integer
// representation, e.g. "1.5" with 18 decimals is 1500000000000000000.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, ErrAmountNotDecimal
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrAmountNotDecimal, amount)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q at %d decimals", ErrAmountTooPrecise, amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FormatUnits converts a fixed-point integer back into its decimal string
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}
