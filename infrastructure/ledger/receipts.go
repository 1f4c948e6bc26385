package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
)

// WaitForReceipt polls for the receipt of txHash until it is mined or ctx is
// done. Transport errors are retried on the next poll.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*entities.Receipt, error) {
	logger := log.WithField("txHash", txHash)
	for {
		var receipt *txReceiptJSONRPC
		if rpcErr := c.rpc.CallRPC(ctx, &receipt, "eth_getTransactionReceipt", txHash); rpcErr != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash, ctx.Err())
			}
			logger.WithError(rpcErr.Error()).Warn("Failed to query transaction receipt, will retry")
		} else if receipt != nil {
			return c.toReceipt(ctx, txHash, receipt), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash, ctx.Err())
		case <-time.After(c.config.ReceiptPollInterval):
		}
	}
}

func (c *Client) toReceipt(ctx context.Context, txHash string, r *txReceiptJSONRPC) *entities.Receipt {
	receipt := &entities.Receipt{
		TxHash:      txHash,
		BlockNumber: r.BlockNumber.Uint64(),
		Success:     r.Status != nil && r.Status.BigInt().Int64() == 1,
	}
	if h := hashString(r.TransactionHash); h != "" {
		receipt.TxHash = h
	}
	if !receipt.Success {
		return receipt
	}

	for _, l := range r.Logs {
		if !c.fromGame(l) || !hasTopic(l, evBetSent) {
			continue
		}
		accepted, err := decodeBetSent(ctx, l)
		if err != nil {
			log.WithFields(log.Fields{
				"txHash":   receipt.TxHash,
				"logIndex": l.LogIndex.Uint64(),
			}).WithError(err).Warn("Failed to decode BetSent log")
			continue
		}
		receipt.Accepted = append(receipt.Accepted, *accepted)
	}
	return receipt
}

func hashString(h ethtypes.HexBytes0xPrefix) string {
	if len(h) == 0 {
		return ""
	}
	return h.String()
}

func (c *Client) fromGame(l *logJSONRPC) bool {
	return l.Address != nil && strings.EqualFold(l.Address.String(), c.config.GameContract.String())
}

func hasTopic(l *logJSONRPC, ev *abi.Entry) bool {
	return len(l.Topics) > 0 && bytes.Equal(l.Topics[0], ev.SignatureHashBytes())
}

func decodeEvent(ctx context.Context, ev *abi.Entry, l *logJSONRPC, out interface{}) error {
	cv, err := ev.DecodeEventDataCtx(ctx, l.Topics, l.Data)
	if err != nil {
		return err
	}
	jsonData, err := abiSerializer().SerializeJSONCtx(ctx, cv)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

func decodeBetSent(ctx context.Context, l *logJSONRPC) (*entities.WagerAccepted, error) {
	var out betSentJSON
	if err := decodeEvent(ctx, evBetSent, l, &out); err != nil {
		return nil, err
	}
	requestID, err := parseUint("requestId", out.RequestID)
	if err != nil {
		return nil, err
	}
	numWords, err := strconv.ParseUint(out.NumWords, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid numWords %q: %w", out.NumWords, err)
	}
	return &entities.WagerAccepted{
		RequestID: entities.NewRequestID(requestID),
		NumWords:  uint32(numWords),
		TxHash:    hashString(l.TransactionHash),
	}, nil
}

func decodeBetFulfilled(ctx context.Context, l *logJSONRPC) (*entities.WagerFulfilled, error) {
	var out betFulfilledJSON
	if err := decodeEvent(ctx, evBetFulfilled, l, &out); err != nil {
		return nil, err
	}
	requestID, err := parseUint("requestId", out.RequestID)
	if err != nil {
		return nil, err
	}
	rolled, err := parseUint("rolled", out.Rolled)
	if err != nil {
		return nil, err
	}
	return &entities.WagerFulfilled{
		RequestID: entities.NewRequestID(requestID),
		UserWon:   out.UserWon,
		Rolled:    rolled,
		TxHash:    hashString(l.TransactionHash),
	}, nil
}
