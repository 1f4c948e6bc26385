package utils

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatDisplay formats a fixed-point balance with two decimal places for display
func FormatDisplay(value *big.Int, decimals int) string {
	if value == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).StringFixed(2)
}

// ShortAddress abbreviates an address as 0x1234...abcd
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
