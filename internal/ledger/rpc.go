package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// JSON-RPC error codes used by the ledger gateway.
const (
	rpcCodeNotFound = -32004
	rpcCodeRejected = -32010
)

// RPCNetwork talks JSON-RPC 2.0 over HTTP to a ledger gateway exposing
// ledger_getNonce, ledger_sendTransaction, ledger_getReceipt and
// ledger_getCommitment.
type RPCNetwork struct {
	url        string
	httpClient *http.Client
	seq        atomic.Uint64
}

func NewRPCNetwork(url string, httpClient *http.Client) *RPCNetwork {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPCNetwork{url: url, httpClient: httpClient}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (n *RPCNetwork) Nonce(ctx context.Context, account string) (uint64, error) {
	var nonce uint64
	if err := n.call(ctx, "ledger_getNonce", []any{account}, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (n *RPCNetwork) Submit(ctx context.Context, tx SignedTx) (Ack, error) {
	var ack Ack
	if err := n.call(ctx, "ledger_sendTransaction", []any{tx}, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

func (n *RPCNetwork) Receipt(ctx context.Context, txHash string) (Receipt, error) {
	var r Receipt
	if err := n.call(ctx, "ledger_getReceipt", []any{txHash}, &r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

func (n *RPCNetwork) Commitment(ctx context.Context, address string) ([]byte, error) {
	var out string
	if err := n.call(ctx, "ledger_getCommitment", []any{address}, &out); err != nil {
		return nil, err
	}
	if out == "" {
		return nil, ErrNotFound
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(out, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode commitment: %w", err)
	}
	return raw, nil
}

func (n *RPCNetwork) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      n.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: gateway status %s", method, resp.Status)
	}

	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return mapRPCError(rr.Error)
	}
	if out == nil || len(rr.Result) == 0 || string(rr.Result) == "null" {
		if out != nil {
			return ErrNotFound
		}
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

func mapRPCError(e *rpcError) error {
	switch e.Code {
	case rpcCodeNotFound:
		return ErrNotFound
	case rpcCodeRejected:
		var data struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		}
		if len(e.Data) > 0 {
			_ = json.Unmarshal(e.Data, &data)
		}
		if data.Reason == "" {
			data.Reason = e.Message
		}
		return &RejectedError{Code: data.Code, Reason: data.Reason}
	}
	return errors.Join(ErrNetwork, e)
}
