package ledger

import (
	"context"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	log "github.com/sirupsen/logrus"

	"coinflip/domain/facts"
)

// Run watches the game contract for BetSent and BetFulfilled logs from the
// current head onwards and delivers them to sink as facts, until ctx is done.
// Logs may be delivered more than once if a range has to be re-queried.
func (c *Client) Run(ctx context.Context, sink func(facts.Fact)) error {
	game := c.config.GameContract
	filterTopics := [][]ethtypes.HexBytes0xPrefix{{
		evBetSent.SignatureHashBytes(),
		evBetFulfilled.SignatureHashBytes(),
	}}

	var next uint64
	started := false
	logger := log.WithField("gameContract", game.String())
	logger.Info("Starting contract event watcher")

	for {
		head, err := c.blockNumber(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				logger.WithError(err).Warn("Failed to query block number, will retry")
			}
		case !started:
			next = head
			started = true
			logger.WithField("fromBlock", next).Debug("Event watcher positioned at head")
		case head >= next:
			if err := c.deliverLogs(ctx, &logFilterJSONRPC{
				FromBlock: ethtypes.HexUint64(next),
				ToBlock:   ethtypes.HexUint64(head),
				Address:   &game,
				Topics:    filterTopics,
			}, sink); err != nil {
				if ctx.Err() == nil {
					logger.WithFields(log.Fields{
						"fromBlock": next,
						"toBlock":   head,
					}).WithError(err).Warn("Failed to fetch contract logs, will retry")
				}
			} else {
				next = head + 1
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("Contract event watcher stopped")
			return ctx.Err()
		case <-time.After(c.config.EventPollInterval):
		}
	}
}

func (c *Client) blockNumber(ctx context.Context) (uint64, error) {
	var head ethtypes.HexUint64
	if rpcErr := c.rpc.CallRPC(ctx, &head, "eth_blockNumber"); rpcErr != nil {
		return 0, rpcErr.Error()
	}
	return head.Uint64(), nil
}

func (c *Client) deliverLogs(ctx context.Context, filter *logFilterJSONRPC, sink func(facts.Fact)) error {
	var logs []*logJSONRPC
	if rpcErr := c.rpc.CallRPC(ctx, &logs, "eth_getLogs", filter); rpcErr != nil {
		return rpcErr.Error()
	}

	for _, l := range logs {
		if l.Removed || !c.fromGame(l) {
			continue
		}
		logger := log.WithFields(log.Fields{
			"txHash":      hashString(l.TransactionHash),
			"blockNumber": l.BlockNumber.Uint64(),
			"logIndex":    l.LogIndex.Uint64(),
		})
		switch {
		case hasTopic(l, evBetSent):
			accepted, err := decodeBetSent(ctx, l)
			if err != nil {
				logger.WithError(err).Warn("Failed to decode BetSent log")
				continue
			}
			logger.WithField("requestId", accepted.RequestID).Debug("Observed BetSent")
			sink(facts.AcceptedFact{WagerAccepted: *accepted})
		case hasTopic(l, evBetFulfilled):
			fulfilled, err := decodeBetFulfilled(ctx, l)
			if err != nil {
				logger.WithError(err).Warn("Failed to decode BetFulfilled log")
				continue
			}
			logger.WithField("requestId", fulfilled.RequestID).Debug("Observed BetFulfilled")
			sink(facts.FulfilledFact{WagerFulfilled: *fulfilled})
		}
	}
	return nil
}
