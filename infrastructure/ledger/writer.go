package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
)

// Approve authorizes spender to move amount of token from the player's account
func (c *Client) Approve(ctx context.Context, token, spender ethtypes.Address0xHex, amount *big.Int) (string, error) {
	return c.sendTransaction(ctx, token, fnApprove, map[string]interface{}{
		"spender": spender.String(),
		"amount":  amount.String(),
	})
}

// Flip submits the wager to the game contract
func (c *Client) Flip(ctx context.Context, choice entities.Choice, token ethtypes.Address0xHex, amount *big.Int) (string, error) {
	return c.sendTransaction(ctx, c.config.GameContract, fnFlip, map[string]interface{}{
		"choice": bool(choice),
		"token":  token.String(),
		"amount": amount.String(),
	})
}

// sendTransaction builds, signs and submits a legacy EIP-155 transaction and
// returns its hash once the node has accepted it.
func (c *Client) sendTransaction(ctx context.Context, to ethtypes.Address0xHex, fn *abi.Entry, params map[string]interface{}) (string, error) {
	if c.signer == nil {
		return "", ErrNoSigner
	}
	callData, err := encodeCall(ctx, fn, params)
	if err != nil {
		return "", err
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	from := c.signer.Address
	tx := &ethsigner.Transaction{
		From: fromJSON(from),
		To:   &to,
		Data: callData,
	}

	// Pending count so a write issued before the previous one is mined still gets the next nonce
	var nonce ethtypes.HexInteger
	if rpcErr := c.rpc.CallRPC(ctx, &nonce, "eth_getTransactionCount", from.String(), "pending"); rpcErr != nil {
		return "", fmt.Errorf("eth_getTransactionCount failed: %w", rpcErr.Error())
	}
	tx.Nonce = &nonce

	var gasPrice ethtypes.HexInteger
	if rpcErr := c.rpc.CallRPC(ctx, &gasPrice, "eth_gasPrice"); rpcErr != nil {
		return "", fmt.Errorf("eth_gasPrice failed: %w", rpcErr.Error())
	}
	tx.GasPrice = &gasPrice

	var gasEstimate ethtypes.HexInteger
	if rpcErr := c.rpc.CallRPC(ctx, &gasEstimate, "eth_estimateGas", tx); rpcErr != nil {
		return "", fmt.Errorf("eth_estimateGas for %s failed: %w", fn.Name, rpcErr.Error())
	}
	gasLimitFactored := new(big.Float).SetInt(gasEstimate.BigInt())
	gasLimitFactored = gasLimitFactored.Mul(gasLimitFactored, big.NewFloat(c.config.GasEstimateFactor))
	gasLimit, _ := gasLimitFactored.Int(nil)
	tx.GasLimit = ethtypes.NewHexInteger(gasLimit)

	sigPayload := tx.SignaturePayloadLegacyEIP155(c.chainID)
	sig, err := c.signer.Sign(sigPayload.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to sign %s transaction: %w", fn.Name, err)
	}
	rawTX, err := tx.FinalizeLegacyEIP155WithSignature(sigPayload, sig, c.chainID)
	if err != nil {
		return "", fmt.Errorf("failed to finalize %s transaction: %w", fn.Name, err)
	}

	var txHash ethtypes.HexBytes0xPrefix
	if rpcErr := c.rpc.CallRPC(ctx, &txHash, "eth_sendRawTransaction", ethtypes.HexBytes0xPrefix(rawTX)); rpcErr != nil {
		log.WithFields(log.Fields{
			"function": fn.Name,
			"from":     from.String(),
			"nonce":    nonce.BigInt().String(),
		}).WithError(rpcErr.Error()).Error("Transaction rejected by node")
		return "", fmt.Errorf("eth_sendRawTransaction failed: %w", rpcErr.Error())
	}

	log.WithFields(log.Fields{
		"function": fn.Name,
		"to":       to.String(),
		"nonce":    nonce.BigInt().String(),
		"gasLimit": gasLimit.String(),
		"txHash":   txHash.String(),
	}).Info("Submitted transaction")
	return txHash.String(), nil
}
