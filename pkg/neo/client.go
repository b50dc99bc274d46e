// Copyright 2025 Certen Protocol
//
// JSON-RPC 2.0 client for a Neo N3 node. One keep-alive HTTP client per
// endpoint; every response is checked for a non-null error object.

package neo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrTxNotFound is returned by GetRawTransaction while a transaction is
// not yet known to the node.
var ErrTxNotFound = errors.New("transaction not found")

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC 2.0 to one Neo node.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
	logger   *log.Logger
}

// NewClient creates a client for the endpoint.
func NewClient(endpoint string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[NeoRPC] ", log.LstdFlags)
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call performs one JSON-RPC round trip and decodes result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d: %s", method, resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("malformed %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("malformed %s result: %w", method, err)
		}
	}
	return nil
}

// GetBlockCount returns the current chain height.
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	var count uint32
	if err := c.call(ctx, "getblockcount", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// InvokeResult is the outcome of a test invocation.
type InvokeResult struct {
	State       string `json:"state"`
	GasConsumed string `json:"gasconsumed"`
	Exception   string `json:"exception"`
}

// Faulted reports whether the test invocation aborted.
func (r *InvokeResult) Faulted() bool {
	return !strings.EqualFold(r.State, "HALT")
}

// GasConsumedInt parses the consumed gas into 1e-8 GAS units.
func (r *InvokeResult) GasConsumedInt() (int64, error) {
	return strconv.ParseInt(r.GasConsumed, 10, 64)
}

// signerJSON is the RPC representation of a transaction signer.
type signerJSON struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

func signersToJSON(signers []Signer) []interface{} {
	out := make([]interface{}, len(signers))
	for i, s := range signers {
		// The RPC layer wants the big-endian 0x form.
		be := make([]byte, 20)
		for j := 0; j < 20; j++ {
			be[j] = s.Account[19-j]
		}
		out[i] = signerJSON{
			Account: "0x" + fmt.Sprintf("%x", be),
			Scopes:  "CalledByEntry",
		}
	}
	return out
}

// InvokeScript test-executes a script to estimate its system fee.
func (c *Client) InvokeScript(ctx context.Context, script []byte, signers []Signer) (*InvokeResult, error) {
	params := []interface{}{base64.StdEncoding.EncodeToString(script), signersToJSON(signers)}
	var result InvokeResult
	if err := c.call(ctx, "invokescript", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// InvokeFunction test-executes a contract method.
func (c *Client) InvokeFunction(ctx context.Context, contract, method string, args []interface{}, signers []Signer) (*InvokeResult, error) {
	if args == nil {
		args = []interface{}{}
	}
	params := []interface{}{contract, method, args, signersToJSON(signers)}
	var result InvokeResult
	if err := c.call(ctx, "invokefunction", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CalculateNetworkFee asks the node to price a serialized transaction.
func (c *Client) CalculateNetworkFee(ctx context.Context, tx []byte) (int64, error) {
	var result struct {
		NetworkFee string `json:"networkfee"`
	}
	params := []interface{}{base64.StdEncoding.EncodeToString(tx)}
	if err := c.call(ctx, "calculatenetworkfee", params, &result); err != nil {
		return 0, err
	}
	fee, err := strconv.ParseInt(result.NetworkFee, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed networkfee %q: %w", result.NetworkFee, err)
	}
	return fee, nil
}

// SendRawTransaction submits a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, tx []byte) (string, error) {
	var result struct {
		Hash string `json:"hash"`
	}
	params := []interface{}{base64.StdEncoding.EncodeToString(tx)}
	if err := c.call(ctx, "sendrawtransaction", params, &result); err != nil {
		return "", err
	}
	return result.Hash, nil
}

// TxState is the confirmation state of a submitted transaction.
type TxState struct {
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
}

// GetRawTransaction polls a transaction's confirmation state. Unknown
// transactions are reported as ErrTxNotFound.
func (c *Client) GetRawTransaction(ctx context.Context, txHash string) (*TxState, error) {
	var result TxState
	err := c.call(ctx, "getrawtransaction", []interface{}{txHash, true}, &result)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "unknown") {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	return &result, nil
}

// Nep17Balance is one token balance of an account.
type Nep17Balance struct {
	AssetHash string `json:"assethash"`
	Amount    string `json:"amount"`
}

// GetNep17Balances lists the NEP-17 balances of an address.
func (c *Client) GetNep17Balances(ctx context.Context, address string) ([]Nep17Balance, error) {
	var result struct {
		Balance []Nep17Balance `json:"balance"`
	}
	if err := c.call(ctx, "getnep17balances", []interface{}{address}, &result); err != nil {
		return nil, err
	}
	return result.Balance, nil
}
