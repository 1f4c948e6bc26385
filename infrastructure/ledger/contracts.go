package ledger

import (
	"encoding/json"

	"github.com/hyperledger/firefly-signer/pkg/abi"
)

var erc20ABIJSON = []byte(`[
	{
		"type": "function",
		"name": "balanceOf",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "balance", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "symbol",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "symbol", "type": "string"}]
	},
	{
		"type": "function",
		"name": "decimals",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "decimals", "type": "uint8"}]
	},
	{
		"type": "function",
		"name": "approve",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "success", "type": "bool"}]
	}
]`)

var gameABIJSON = []byte(`[
	{
		"type": "function",
		"name": "flip",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "choice", "type": "bool"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "requestId", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "getBetStatus",
		"stateMutability": "view",
		"inputs": [{"name": "requestId", "type": "uint256"}],
		"outputs": [
			{"name": "exists", "type": "bool"},
			{"name": "fulfilled", "type": "bool"},
			{"name": "numbers", "type": "uint256[]"},
			{"name": "requester", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "resolved", "type": "bool"}
		]
	},
	{
		"type": "function",
		"name": "getGameOutcome",
		"stateMutability": "view",
		"inputs": [{"name": "requestId", "type": "uint256"}],
		"outputs": [
			{"name": "playerWon", "type": "bool"},
			{"name": "playerChoice", "type": "bool"},
			{"name": "outcome", "type": "bool"},
			{"name": "betAmount", "type": "uint256"},
			{"name": "potentialPayout", "type": "uint256"}
		]
	},
	{
		"type": "event",
		"name": "BetSent",
		"anonymous": false,
		"inputs": [
			{"name": "requestId", "type": "uint256", "indexed": false},
			{"name": "numWords", "type": "uint32", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "BetFulfilled",
		"anonymous": false,
		"inputs": [
			{"name": "requestId", "type": "uint256", "indexed": false},
			{"name": "userWon", "type": "bool", "indexed": false},
			{"name": "rolled", "type": "uint256", "indexed": false}
		]
	}
]`)

var (
	// ERC20ABI is the subset of the token interface the client calls
	ERC20ABI = mustParseABI(erc20ABIJSON)

	// GameABI is the coin-flip game contract interface
	GameABI = mustParseABI(gameABIJSON)
)

var (
	fnBalanceOf      = ERC20ABI.Functions()["balanceOf"]
	fnSymbol         = ERC20ABI.Functions()["symbol"]
	fnDecimals       = ERC20ABI.Functions()["decimals"]
	fnApprove        = ERC20ABI.Functions()["approve"]
	fnFlip           = GameABI.Functions()["flip"]
	fnGetBetStatus   = GameABI.Functions()["getBetStatus"]
	fnGetGameOutcome = GameABI.Functions()["getGameOutcome"]
	evBetSent        = GameABI.Events()["BetSent"]
	evBetFulfilled   = GameABI.Events()["BetFulfilled"]
)

func mustParseABI(abiJSON []byte) abi.ABI {
	var a abi.ABI
	if err := json.Unmarshal(abiJSON, &a); err != nil {
		panic(err)
	}
	return a
}

// abiSerializer renders decoded values as JSON objects with base-10 integers
// and 0x-prefixed bytes and addresses.
func abiSerializer() *abi.Serializer {
	return abi.NewSerializer().
		SetFormattingMode(abi.FormatAsObjects).
		SetIntSerializer(abi.Base10StringIntSerializer).
		SetFloatSerializer(abi.Base10StringFloatSerializer).
		SetByteSerializer(abi.HexByteSerializer0xPrefix).
		SetAddressSerializer(abi.HexAddrSerializer0xPrefix)
}
