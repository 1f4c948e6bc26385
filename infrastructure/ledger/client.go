package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	log "github.com/sirupsen/logrus"

	"coinflip/domain/entities"
)

const (
	defaultGasEstimateFactor   = 1.5
	defaultReceiptPollInterval = 2 * time.Second
	defaultEventPollInterval   = 2 * time.Second
)

// ErrNoSigner is returned for writes on a client configured without a key
var ErrNoSigner = errors.New("no signing key configured")

// ErrChainMismatch is returned when the node serves a different chain than configured
var ErrChainMismatch = errors.New("connected node is on a different chain")

// Config holds the ledger client settings
type Config struct {
	// ChainID is the expected chain. Zero adopts whatever the node reports.
	ChainID             int64
	GameContract        ethtypes.Address0xHex
	GasEstimateFactor   float64
	ReceiptPollInterval time.Duration
	EventPollInterval   time.Duration
}

// Client talks JSON-RPC to an EVM node on behalf of a single player account.
// It implements the domain's LedgerReader, LedgerWriter and EventSource.
type Client struct {
	rpc     rpcbackend.Backend
	config  Config
	chainID int64
	signer  *secp256k1.KeyPair

	// held across nonce allocation and submission so writes get consecutive nonces
	nonceMu sync.Mutex
}

// NewClient wraps an RPC backend. signer may be nil for a read-only client.
func NewClient(rpc rpcbackend.Backend, config Config, signer *secp256k1.KeyPair) *Client {
	if config.GasEstimateFactor < 1.0 {
		config.GasEstimateFactor = defaultGasEstimateFactor
	}
	if config.ReceiptPollInterval <= 0 {
		config.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if config.EventPollInterval <= 0 {
		config.EventPollInterval = defaultEventPollInterval
	}
	return &Client{
		rpc:     rpc,
		config:  config,
		chainID: config.ChainID,
		signer:  signer,
	}
}

// Dial creates a client for an HTTP JSON-RPC endpoint
func Dial(url string, config Config, signer *secp256k1.KeyPair) *Client {
	return NewClient(rpcbackend.NewRPCClient(resty.New().SetBaseURL(url)), config, signer)
}

// Connect queries the node's chain ID and checks it against the configuration
func (c *Client) Connect(ctx context.Context) error {
	var chainID ethtypes.HexUint64
	if rpcErr := c.rpc.CallRPC(ctx, &chainID, "eth_chainId"); rpcErr != nil {
		return fmt.Errorf("eth_chainId failed: %w", rpcErr.Error())
	}
	reported := int64(chainID.Uint64())
	if c.config.ChainID != 0 && c.config.ChainID != reported {
		return fmt.Errorf("%w: expected %d, node reports %d", ErrChainMismatch, c.config.ChainID, reported)
	}
	c.chainID = reported

	log.WithFields(log.Fields{
		"chainId":      reported,
		"gameContract": c.config.GameContract.String(),
		"readOnly":     c.signer == nil,
	}).Info("Connected to ledger")
	return nil
}

// ChainID returns the chain the client signs for
func (c *Client) ChainID() int64 {
	return c.chainID
}

// GameContract returns the address of the game contract
func (c *Client) GameContract() ethtypes.Address0xHex {
	return c.config.GameContract
}

// Account returns the player's address, or nil for a read-only client
func (c *Client) Account() *ethtypes.Address0xHex {
	if c.signer == nil {
		return nil
	}
	addr := c.signer.Address
	return &addr
}

// Wallet returns the wallet state the client represents
func (c *Client) Wallet() entities.Wallet {
	if account := c.Account(); account != nil {
		return entities.ConnectedWallet(*account)
	}
	return entities.Wallet{}
}

// call runs a read-only function and unmarshals its decoded outputs into out
func (c *Client) call(ctx context.Context, to ethtypes.Address0xHex, fn *abi.Entry, params map[string]interface{}, out interface{}) error {
	callData, err := encodeCall(ctx, fn, params)
	if err != nil {
		return err
	}
	tx := &ethsigner.Transaction{
		To:   &to,
		Data: callData,
	}
	if c.signer != nil {
		tx.From = fromJSON(c.signer.Address)
	}

	var res ethtypes.HexBytes0xPrefix
	if rpcErr := c.rpc.CallRPC(ctx, &res, "eth_call", tx, "latest"); rpcErr != nil {
		return fmt.Errorf("eth_call %s failed: %w", fn.Name, rpcErr.Error())
	}

	cv, err := fn.Outputs.DecodeABIDataCtx(ctx, res, 0)
	if err != nil {
		return fmt.Errorf("failed to decode %s result: %w", fn.Name, err)
	}
	jsonData, err := abiSerializer().SerializeJSONCtx(ctx, cv)
	if err != nil {
		return fmt.Errorf("failed to serialize %s result: %w", fn.Name, err)
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", fn.Name, err)
	}
	return nil
}

func encodeCall(ctx context.Context, fn *abi.Entry, params map[string]interface{}) (ethtypes.HexBytes0xPrefix, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	callData, err := fn.EncodeCallDataJSONCtx(ctx, paramsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s call: %w", fn.Name, err)
	}
	return callData, nil
}

func fromJSON(addr ethtypes.Address0xHex) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`"%s"`, addr.String()))
}

// parseUint parses a base-10 integer as rendered by abiSerializer
func parseUint(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return n, nil
}
