package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/stretchr/testify/require"

	"coinflip/domain/testhelpers"
)

const testPrivateKey = "0x0000000000000000000000000000000000000000000000000000000000000001"

// address of testPrivateKey
const testSignerAddress = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"

type rpcMethod func(params []json.RawMessage) (interface{}, error)

// contractCall answers an eth_call with the JSON form of the function outputs
type contractCall func(args map[string]interface{}) (string, error)

type registeredCall struct {
	to   string
	fn   *abi.Entry
	call contractCall
}

// fakeNode is an httptest JSON-RPC server standing in for an EVM node
type fakeNode struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	methods   map[string]rpcMethod
	contracts []registeredCall
	calls     map[string]int
}

func newFakeNode(t *testing.T) *fakeNode {
	n := &fakeNode{
		t:       t,
		methods: make(map[string]rpcMethod),
		calls:   make(map[string]int),
	}
	n.on("eth_chainId", func(params []json.RawMessage) (interface{}, error) {
		return "0x539", nil
	})
	n.on("eth_call", n.ethCall)
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) on(method string, fn rpcMethod) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods[method] = fn
}

func (n *fakeNode) onCall(to string, fn *abi.Entry, call contractCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contracts = append(n.contracts, registeredCall{to: to, fn: fn, call: call})
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) client(signer *secp256k1.KeyPair) *Client {
	return Dial(n.server.URL, Config{
		ChainID:             1337,
		GameContract:        testhelpers.Address(testhelpers.TestGameAddress),
		GasEstimateFactor:   2.0,
		ReceiptPollInterval: 5 * time.Millisecond,
		EventPollInterval:   5 * time.Millisecond,
	}, signer)
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	method := n.methods[req.Method]
	n.mu.Unlock()

	res := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
	}
	if method == nil {
		res["error"] = map[string]interface{}{"code": -32601, "message": "method not found: " + req.Method}
	} else if result, err := method(req.Params); err != nil {
		res["error"] = map[string]interface{}{"code": -32000, "message": err.Error()}
	} else {
		res["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (n *fakeNode) ethCall(params []json.RawMessage) (interface{}, error) {
	var tx struct {
		To    *ethtypes.Address0xHex    `json:"to"`
		Data  ethtypes.HexBytes0xPrefix `json:"data"`
		Input ethtypes.HexBytes0xPrefix `json:"input"`
	}
	if err := json.Unmarshal(params[0], &tx); err != nil {
		return nil, err
	}
	data := tx.Data
	if len(data) == 0 {
		data = tx.Input
	}
	if tx.To == nil || len(data) < 4 {
		return nil, errors.New("malformed call")
	}

	n.mu.Lock()
	contracts := append([]registeredCall(nil), n.contracts...)
	n.mu.Unlock()

	for _, c := range contracts {
		if c.to != tx.To.String() || !bytes.Equal(data[:4], c.fn.SignatureHashBytes()[:4]) {
			continue
		}
		args := decodeArgs(n.t, c.fn, data)
		outputJSON, err := c.call(args)
		if err != nil {
			return nil, err
		}
		encoded, err := c.fn.Outputs.EncodeABIDataJSON([]byte(outputJSON))
		require.NoError(n.t, err)
		return ethtypes.HexBytes0xPrefix(encoded), nil
	}
	return nil, errors.New("execution reverted")
}

func decodeArgs(t *testing.T, fn *abi.Entry, data []byte) map[string]interface{} {
	cv, err := fn.DecodeCallData(data)
	require.NoError(t, err)
	jsonData, err := abiSerializer().SerializeJSON(cv)
	require.NoError(t, err)
	args := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(jsonData, &args))
	return args
}

func mustSigner(t *testing.T) *secp256k1.KeyPair {
	kp, err := LoadSigner(testPrivateKey)
	require.NoError(t, err)
	return kp
}

// encodedLog builds a game contract log for an event with only non-indexed inputs
func encodedLog(t *testing.T, ev *abi.Entry, dataJSON, txHash string) map[string]interface{} {
	data, err := ev.Inputs.EncodeABIDataJSON([]byte(dataJSON))
	require.NoError(t, err)
	return map[string]interface{}{
		"removed":          false,
		"logIndex":         "0x0",
		"transactionIndex": "0x0",
		"blockNumber":      "0xb",
		"transactionHash":  txHash,
		"blockHash":        "0x" + repeatHex("bb", 32),
		"address":          testhelpers.TestGameAddress,
		"data":             ethtypes.HexBytes0xPrefix(data).String(),
		"topics":           []string{ev.SignatureHashBytes().String()},
	}
}

func repeatHex(b string, n int) string {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteString(b)
	}
	return buf.String()
}
