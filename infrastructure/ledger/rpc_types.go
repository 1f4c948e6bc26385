package ledger

import (
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

type txReceiptJSONRPC struct {
	BlockHash         ethtypes.HexBytes0xPrefix `json:"blockHash"`
	BlockNumber       ethtypes.HexUint64        `json:"blockNumber"`
	ContractAddress   *ethtypes.Address0xHex    `json:"contractAddress"`
	CumulativeGasUsed *ethtypes.HexInteger      `json:"cumulativeGasUsed"`
	From              *ethtypes.Address0xHex    `json:"from"`
	GasUsed           *ethtypes.HexInteger      `json:"gasUsed"`
	Logs              []*logJSONRPC             `json:"logs"`
	Status            *ethtypes.HexInteger      `json:"status"`
	To                *ethtypes.Address0xHex    `json:"to"`
	TransactionHash   ethtypes.HexBytes0xPrefix `json:"transactionHash"`
	TransactionIndex  *ethtypes.HexInteger      `json:"transactionIndex"`
}

type logJSONRPC struct {
	Removed          bool                        `json:"removed"`
	LogIndex         ethtypes.HexUint64          `json:"logIndex"`
	TransactionIndex ethtypes.HexUint64          `json:"transactionIndex"`
	BlockNumber      ethtypes.HexUint64          `json:"blockNumber"`
	TransactionHash  ethtypes.HexBytes0xPrefix   `json:"transactionHash"`
	BlockHash        ethtypes.HexBytes0xPrefix   `json:"blockHash"`
	Address          *ethtypes.Address0xHex      `json:"address"`
	Data             ethtypes.HexBytes0xPrefix   `json:"data"`
	Topics           []ethtypes.HexBytes0xPrefix `json:"topics"`
}

// logFilterJSONRPC is the eth_getLogs filter object
type logFilterJSONRPC struct {
	FromBlock ethtypes.HexUint64            `json:"fromBlock"`
	ToBlock   ethtypes.HexUint64            `json:"toBlock"`
	Address   *ethtypes.Address0xHex        `json:"address,omitempty"`
	Topics    [][]ethtypes.HexBytes0xPrefix `json:"topics,omitempty"`
}

// Decoded event and call outputs, as rendered by abiSerializer

type betSentJSON struct {
	RequestID string `json:"requestId"`
	NumWords  string `json:"numWords"`
}

type betFulfilledJSON struct {
	RequestID string `json:"requestId"`
	UserWon   bool   `json:"userWon"`
	Rolled    string `json:"rolled"`
}

type betStatusJSON struct {
	Exists    bool                  `json:"exists"`
	Fulfilled bool                  `json:"fulfilled"`
	Numbers   []string              `json:"numbers"`
	Requester ethtypes.Address0xHex `json:"requester"`
	Amount    string                `json:"amount"`
	Resolved  bool                  `json:"resolved"`
}

type gameOutcomeJSON struct {
	PlayerWon       bool   `json:"playerWon"`
	PlayerChoice    bool   `json:"playerChoice"`
	Outcome         bool   `json:"outcome"`
	BetAmount       string `json:"betAmount"`
	PotentialPayout string `json:"potentialPayout"`
}
