package services

import (
	"context"
	"math/big"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
	"coinflip/domain/facts"
	"coinflip/domain/interfaces"
)

// BalanceReader keeps the advisory view of the selected token: the player's
// balance, the token symbol and the treasury held by the game contract. Reads
// run in the background and come back as BalanceReadFact; a result is applied
// only if no newer read was triggered since.
type BalanceReader struct {
	reader   interfaces.LedgerReader
	treasury ethtypes.Address0xHex
	sink     FactSink

	generation uint64
	loading    bool
	current    entities.TokenBalance
}

// NewBalanceReader creates a reader for the given token whose treasury is held by the game contract
func NewBalanceReader(reader interfaces.LedgerReader, treasury, token ethtypes.Address0xHex, sink FactSink) *BalanceReader {
	return &BalanceReader{
		reader:   reader,
		treasury: treasury,
		sink:     sink,
		current:  entities.TokenBalance{Token: token, Decimals: entities.DefaultTokenDecimals},
	}
}

// Current returns the last applied view
func (b *BalanceReader) Current() entities.TokenBalance {
	return b.current
}

// Token returns the selected token
func (b *BalanceReader) Token() ethtypes.Address0xHex {
	return b.current.Token
}

// Loading reports whether a read is outstanding
func (b *BalanceReader) Loading() bool {
	return b.loading
}

// SelectToken switches to another token. Previous values are dropped and any
// read still in flight for the old token will be discarded.
func (b *BalanceReader) SelectToken(token ethtypes.Address0xHex) {
	b.generation++
	b.current = entities.TokenBalance{Token: token, Decimals: entities.DefaultTokenDecimals}
	b.loading = true
}

// Refresh triggers a background read of the selected token. account may be nil
// when no wallet is connected, in which case only symbol and treasury are read.
func (b *BalanceReader) Refresh(ctx context.Context, account *ethtypes.Address0xHex) uint64 {
	b.generation++
	b.loading = true
	generation := b.generation
	token := b.current.Token

	go func() {
		fact := b.Read(ctx, token, account)
		fact.Generation = generation
		b.sink(fact)
	}()
	return generation
}

// Read performs a synchronous read of token. It only touches the ledger and is
// safe to call from any goroutine.
func (b *BalanceReader) Read(ctx context.Context, token ethtypes.Address0xHex, account *ethtypes.Address0xHex) facts.BalanceReadFact {
	result := entities.TokenBalance{Token: token, Decimals: entities.DefaultTokenDecimals}
	fact := facts.BalanceReadFact{}

	symbol, err := b.reader.Symbol(ctx, token)
	if err != nil {
		fact.Err = &entities.TransportError{Op: "symbol", Err: err}
		return b.degraded(fact, token)
	}
	result.Symbol = symbol

	decimals, err := b.reader.Decimals(ctx, token)
	if err != nil {
		log.WithFields(log.Fields{
			"token": token.String(),
			"error": err,
		}).Debug("Token does not report decimals, assuming default")
	} else {
		result.Decimals = decimals
	}

	if account != nil {
		balance, err := b.reader.BalanceOf(ctx, token, *account)
		if err != nil {
			fact.Err = &entities.TransportError{Op: "balanceOf", Err: err}
			return b.degraded(fact, token)
		}
		result.Balance = balance
	}

	treasury, err := b.reader.BalanceOf(ctx, token, b.treasury)
	if err != nil {
		fact.TreasuryErr = &entities.TransportError{Op: "treasury balanceOf", Err: err}
		log.WithFields(log.Fields{
			"token": token.String(),
		}).WithError(err).Warn("Failed to read treasury balance")
	} else {
		result.Treasury = treasury
	}

	fact.Balance = result
	return fact
}

func (b *BalanceReader) degraded(fact facts.BalanceReadFact, token ethtypes.Address0xHex) facts.BalanceReadFact {
	log.WithFields(log.Fields{
		"token": token.String(),
	}).WithError(fact.Err).Warn("Balance read failed, keeping last known values")
	fact.Balance = entities.TokenBalance{Token: token}
	return fact
}

// Apply folds a completed read into the view. It returns false when the read
// was superseded and has been discarded.
func (b *BalanceReader) Apply(fact facts.BalanceReadFact) bool {
	if fact.Generation != b.generation || fact.Balance.Token != b.current.Token {
		log.WithFields(log.Fields{
			"generation": fact.Generation,
			"current":    b.generation,
		}).Debug("Discarding stale balance read")
		return false
	}
	b.loading = false

	if fact.Err != nil {
		return true
	}

	previousTreasury := b.current.Treasury
	b.current = fact.Balance
	if fact.TreasuryErr != nil && previousTreasury != nil {
		b.current.Treasury = new(big.Int).Set(previousTreasury)
	}
	return true
}
