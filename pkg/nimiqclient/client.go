/**
 * @description
 * This package provides a client for the Nimiq node's JSON-RPC API. It
 * encapsulates the logic for making RPC calls over HTTP, parsing responses,
 * and adapting the node's surface to the settlement core's chain gateway
 * contract: consensus readiness, balance reads, mempool admission checks,
 * transaction relay and a polling-based confirmation stream.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, sync, time: Standard Go libraries.
 */
package nimiqclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	defaultPollInterval   = 10 * time.Second
	defaultMempoolSoftCap = 256
	defaultTxPageSize     = 16
)

// Client is a client for a Nimiq node's JSON-RPC endpoint.
type Client struct {
	RPCURL     string
	HTTPClient *http.Client

	// PollInterval is how often confirmation subscriptions re-query the node.
	PollInterval time.Duration
	// MempoolSoftCap is the mempool size above which admission is refused.
	MempoolSoftCap int

	mu  sync.Mutex
	seq int64
}

// NewClient creates a new Nimiq RPC client with default polling and
// admission settings.
func NewClient(rpcURL string) *Client {
	return &Client{
		RPCURL: rpcURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		PollInterval:   defaultPollInterval,
		MempoolSoftCap: defaultMempoolSoftCap,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("nimiq rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call executes one JSON-RPC method and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.mu.Unlock()

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.RPCURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", method, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=nimiq_client method=%s status=%d msg=\"non-2xx response\"", method, resp.StatusCode)
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(bodyBytes, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		log.Printf("level=warn component=nimiq_client method=%s code=%d msg=%q", method, rpcResp.Error.Code, rpcResp.Error.Message)
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// IsReady reports whether the node has established network consensus.
func (c *Client) IsReady(ctx context.Context) bool {
	var state string
	if err := c.call(ctx, "consensus", &state); err != nil {
		log.Printf("level=warn component=nimiq_client msg=\"consensus check failed\" err=%v", err)
		return false
	}
	return state == "established"
}

// CurrentHeight returns the node's current block height.
func (c *Client) CurrentHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := c.call(ctx, "blockNumber", &height); err != nil {
		return 0, err
	}
	return height, nil
}

type mempoolInfo struct {
	Total int `json:"total"`
}

// HasMempoolCapacity reports whether the node's mempool is below the soft cap.
// A failed read counts as no capacity so submission is deferred, not dropped.
func (c *Client) HasMempoolCapacity(ctx context.Context) bool {
	var info mempoolInfo
	if err := c.call(ctx, "mempool", &info); err != nil {
		log.Printf("level=warn component=nimiq_client msg=\"mempool check failed\" err=%v", err)
		return false
	}
	softCap := c.MempoolSoftCap
	if softCap <= 0 {
		softCap = defaultMempoolSoftCap
	}
	return info.Total < softCap
}

type txInfo struct {
	Hash        string `json:"hash"`
	Recipient   string `json:"toAddress"`
	BlockNumber int64  `json:"blockNumber"`
}

type walletInfo struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
	Mnemonic   string `json:"mnemonic"`
}

type outgoingTx struct {
	From                string `json:"from"`
	To                  string `json:"to"`
	Value               int64  `json:"value"`
	Fee                 int64  `json:"fee"`
	ValidityStartHeight int64  `json:"validityStartHeight,omitempty"`
}

// BalanceOfAddress returns an address's confirmed balance in luna.
func (c *Client) BalanceOfAddress(ctx context.Context, address string) (int64, error) {
	var balance int64
	if err := c.call(ctx, "getBalance", &balance, address); err != nil {
		return 0, err
	}
	return balance, nil
}

// SendBasicTransaction imports the sender key into the node, relays a basic
// transaction and returns its hash. The fee is always zero.
func (c *Client) SendBasicTransaction(ctx context.Context, senderKeyHex, recipient string, value, validityStartHeight int64) (string, error) {
	var from string
	if err := c.call(ctx, "importRawKey", &from, senderKeyHex, ""); err != nil {
		return "", fmt.Errorf("import sender key: %w", err)
	}
	var hash string
	tx := outgoingTx{
		From:                from,
		To:                  recipient,
		Value:               value,
		ValidityStartHeight: validityStartHeight,
	}
	if err := c.call(ctx, "sendTransaction", &hash, tx); err != nil {
		return "", err
	}
	return hash, nil
}

// CreateWallet asks the node to generate a fresh account and returns its key
// material.
func (c *Client) CreateWallet(ctx context.Context) (*walletInfo, error) {
	var wallet walletInfo
	if err := c.call(ctx, "createAccount", &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// TransactionsByAddress returns the most recent transactions involving an
// address, newest first.
func (c *Client) TransactionsByAddress(ctx context.Context, address string, limit int) ([]txInfo, error) {
	if limit <= 0 {
		limit = defaultTxPageSize
	}
	var txs []txInfo
	if err := c.call(ctx, "getTransactionsByAddress", &txs, address, limit); err != nil {
		return nil, err
	}
	return txs, nil
}
