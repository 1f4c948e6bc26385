package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"

	"coinflip/domain/entities"
)

// BalanceOf returns the token balance of account
func (c *Client) BalanceOf(ctx context.Context, token, account ethtypes.Address0xHex) (*big.Int, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.call(ctx, token, fnBalanceOf, map[string]interface{}{
		"account": account.String(),
	}, &out); err != nil {
		return nil, err
	}
	return parseUint("balance", out.Balance)
}

// Symbol returns the token's ticker symbol
func (c *Client) Symbol(ctx context.Context, token ethtypes.Address0xHex) (string, error) {
	var out struct {
		Symbol string `json:"symbol"`
	}
	if err := c.call(ctx, token, fnSymbol, nil, &out); err != nil {
		return "", err
	}
	return out.Symbol, nil
}

// Decimals returns the token's declared precision
func (c *Client) Decimals(ctx context.Context, token ethtypes.Address0xHex) (int, error) {
	var out struct {
		Decimals string `json:"decimals"`
	}
	if err := c.call(ctx, token, fnDecimals, nil, &out); err != nil {
		return 0, err
	}
	decimals, err := strconv.Atoi(out.Decimals)
	if err != nil {
		return 0, fmt.Errorf("invalid decimals %q: %w", out.Decimals, err)
	}
	return decimals, nil
}

// GetBetStatus reads the randomness request record for requestID
func (c *Client) GetBetStatus(ctx context.Context, requestID entities.RequestID) (*entities.BetStatus, error) {
	var out betStatusJSON
	if err := c.call(ctx, c.config.GameContract, fnGetBetStatus, map[string]interface{}{
		"requestId": requestID.String(),
	}, &out); err != nil {
		return nil, err
	}

	amount, err := parseUint("amount", out.Amount)
	if err != nil {
		return nil, err
	}
	numbers := make([]*big.Int, 0, len(out.Numbers))
	for _, s := range out.Numbers {
		n, err := parseUint("random number", s)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}

	return &entities.BetStatus{
		Exists:    out.Exists,
		Fulfilled: out.Fulfilled,
		Numbers:   numbers,
		Requester: out.Requester,
		Amount:    amount,
		Resolved:  out.Resolved,
	}, nil
}

// GetGameOutcome reads the resolved outcome for requestID
func (c *Client) GetGameOutcome(ctx context.Context, requestID entities.RequestID) (*entities.GameOutcome, error) {
	var out gameOutcomeJSON
	if err := c.call(ctx, c.config.GameContract, fnGetGameOutcome, map[string]interface{}{
		"requestId": requestID.String(),
	}, &out); err != nil {
		return nil, err
	}

	betAmount, err := parseUint("bet amount", out.BetAmount)
	if err != nil {
		return nil, err
	}
	payout, err := parseUint("potential payout", out.PotentialPayout)
	if err != nil {
		return nil, err
	}

	return &entities.GameOutcome{
		PlayerWon:       out.PlayerWon,
		PlayerChoice:    entities.Choice(out.PlayerChoice),
		Outcome:         entities.Choice(out.Outcome),
		BetAmount:       betAmount,
		PotentialPayout: payout,
	}, nil
}
