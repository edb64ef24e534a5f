package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/stellar/go/xdr"
)

// HTTPRPC talks JSON-RPC 2.0 to a soroban-rpc endpoint.
type HTTPRPC struct {
	url    string
	client *http.Client
	nextID atomic.Int64
}

func NewHTTPRPC(url string) *HTTPRPC {
	return &HTTPRPC{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (h *HTTPRPC) call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      h.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		blob, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, blob)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetAccount fetches the account ledger entry and extracts its sequence.
func (h *HTTPRPC) GetAccount(ctx context.Context, address string) (AccountState, error) {
	aid, err := xdr.AddressToAccountId(address)
	if err != nil {
		return AccountState{}, fmt.Errorf("parse account %q: %w", address, err)
	}
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: aid},
	}
	keyB64, err := marshalBase64(&key)
	if err != nil {
		return AccountState{}, err
	}

	params := struct {
		Keys []string `json:"keys"`
	}{Keys: []string{keyB64}}
	var result struct {
		Entries []struct {
			XDR string `json:"xdr"`
		} `json:"entries"`
	}
	if err := h.call(ctx, "getLedgerEntries", params, &result); err != nil {
		return AccountState{}, err
	}
	if len(result.Entries) == 0 {
		return AccountState{}, fmt.Errorf("account %s not found on ledger", address)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(result.Entries[0].XDR, &data); err != nil {
		return AccountState{}, fmt.Errorf("decode account entry: %w", err)
	}
	if data.Type != xdr.LedgerEntryTypeAccount || data.Account == nil {
		return AccountState{}, fmt.Errorf("unexpected ledger entry type %v", data.Type)
	}
	return AccountState{ID: address, Sequence: int64(data.Account.SeqNum)}, nil
}

func (h *HTTPRPC) SimulateTransaction(ctx context.Context, envelopeXDR string) (SimulationResult, error) {
	params := struct {
		Transaction string `json:"transaction"`
	}{Transaction: envelopeXDR}
	var result struct {
		Error           string `json:"error"`
		TransactionData string `json:"transactionData"`
		MinResourceFee  string `json:"minResourceFee"`
		Results         []struct {
			Auth []string `json:"auth"`
			XDR  string   `json:"xdr"`
		} `json:"results"`
		LatestLedger uint32 `json:"latestLedger"`
	}
	if err := h.call(ctx, "simulateTransaction", params, &result); err != nil {
		return SimulationResult{}, err
	}

	sim := SimulationResult{
		Error:           result.Error,
		TransactionData: result.TransactionData,
		LatestLedger:    result.LatestLedger,
	}
	if result.MinResourceFee != "" {
		fee, err := strconv.ParseInt(result.MinResourceFee, 10, 64)
		if err != nil {
			return SimulationResult{}, fmt.Errorf("parse min resource fee %q: %w", result.MinResourceFee, err)
		}
		sim.MinResourceFee = fee
	}
	if len(result.Results) > 0 {
		sim.ResultXDR = result.Results[0].XDR
		sim.AuthXDR = result.Results[0].Auth
	}
	return sim, nil
}

func (h *HTTPRPC) SendTransaction(ctx context.Context, envelopeXDR string) (SendResult, error) {
	params := struct {
		Transaction string `json:"transaction"`
	}{Transaction: envelopeXDR}
	var result struct {
		Status         string `json:"status"`
		Hash           string `json:"hash"`
		ErrorResultXDR string `json:"errorResultXdr"`
	}
	if err := h.call(ctx, "sendTransaction", params, &result); err != nil {
		return SendResult{}, err
	}
	return SendResult{
		Status:         result.Status,
		Hash:           result.Hash,
		ErrorResultXDR: result.ErrorResultXDR,
	}, nil
}

func (h *HTTPRPC) GetTransaction(ctx context.Context, hash string) (TxResult, error) {
	params := struct {
		Hash string `json:"hash"`
	}{Hash: hash}
	var result struct {
		Status        string `json:"status"`
		ResultXDR     string `json:"resultXdr"`
		ResultMetaXDR string `json:"resultMetaXdr"`
		Ledger        uint32 `json:"ledger"`
	}
	if err := h.call(ctx, "getTransaction", params, &result); err != nil {
		return TxResult{}, err
	}
	return TxResult{
		Status:        result.Status,
		ResultXDR:     result.ResultXDR,
		ResultMetaXDR: result.ResultMetaXDR,
		Ledger:        result.Ledger,
	}, nil
}

func (h *HTTPRPC) GetLatestLedger(ctx context.Context) (uint32, error) {
	var result struct {
		Sequence uint32 `json:"sequence"`
	}
	if err := h.call(ctx, "getLatestLedger", nil, &result); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}
