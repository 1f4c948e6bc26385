package entities

import (
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// Wallet is the connection state of the player's wallet, passed explicitly into
// every wager attempt.
type Wallet struct {
	Connected bool
	Account   *ethtypes.Address0xHex
}

// ConnectedWallet returns a connected wallet for the given account
func ConnectedWallet(account ethtypes.Address0xHex) Wallet {
	return Wallet{Connected: true, Account: &account}
}

// HasAccount reports whether the wallet is connected with a known account address
func (w Wallet) HasAccount() bool {
	return w.Connected && w.Account != nil
}
