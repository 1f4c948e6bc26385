package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDisplay(t *testing.T) {
	tests := []struct {
		name     string
		value    *big.Int
		decimals int
		expected string
	}{
		{
			name:     "unread balance",
			value:    nil,
			decimals: 18,
			expected: "0.00",
		},
		{
			name:     "whole tokens",
			value:    ether(50),
			decimals: 18,
			expected: "50.00",
		},
		{
			name:     "rounds to cents",
			value:    big.NewInt(1_234_567),
			decimals: 6,
			expected: "1.23",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDisplay(tt.value, tt.decimals))
		})
	}
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x1234...abcd", ShortAddress("0x1234567890123456789012345678901234abcd"))
	assert.Equal(t, "0x12", ShortAddress("0x12"))
}
