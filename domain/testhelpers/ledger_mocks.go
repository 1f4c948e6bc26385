package testhelpers

import (
	"context"
	"math/big"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/stretchr/testify/mock"

	"coinflip/domain/entities"
)

const (
	TestPlayerAddress   = "0x1111111111111111111111111111111111111111"
	TestTokenAddress    = "0x2222222222222222222222222222222222222222"
	TestGameAddress     = "0x3333333333333333333333333333333333333333"
	TestAltTokenAddress = "0x4444444444444444444444444444444444444444"
)

// Address parses one of the test address constants
func Address(hex string) ethtypes.Address0xHex {
	return *ethtypes.MustNewAddress(hex)
}

// Tokens returns n whole tokens at 18 decimals
func Tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// MockLedgerReader is a mock implementation of LedgerReader
type MockLedgerReader struct {
	mock.Mock
}

func (m *MockLedgerReader) BalanceOf(ctx context.Context, token, account ethtypes.Address0xHex) (*big.Int, error) {
	args := m.Called(ctx, token, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockLedgerReader) Symbol(ctx context.Context, token ethtypes.Address0xHex) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerReader) Decimals(ctx context.Context, token ethtypes.Address0xHex) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

func (m *MockLedgerReader) GetBetStatus(ctx context.Context, requestID entities.RequestID) (*entities.BetStatus, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.BetStatus), args.Error(1)
}

func (m *MockLedgerReader) GetGameOutcome(ctx context.Context, requestID entities.RequestID) (*entities.GameOutcome, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.GameOutcome), args.Error(1)
}

// MockLedgerWriter is a mock implementation of LedgerWriter
type MockLedgerWriter struct {
	mock.Mock
}

func (m *MockLedgerWriter) Approve(ctx context.Context, token, spender ethtypes.Address0xHex, amount *big.Int) (string, error) {
	args := m.Called(ctx, token, spender, amount)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerWriter) Flip(ctx context.Context, choice entities.Choice, token ethtypes.Address0xHex, amount *big.Int) (string, error) {
	args := m.Called(ctx, choice, token, amount)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerWriter) WaitForReceipt(ctx context.Context, txHash string) (*entities.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Receipt), args.Error(1)
}
