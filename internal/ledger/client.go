// Package ledger builds, simulates, prepares and submits Soroban contract
// calls against an RPC endpoint, and polls submitted transactions to
// finality. Signing happens out of process through an injected callback.
package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"rebasegate/internal/amount"
)

const (
	// Read-only simulations only need to outlive one RPC round trip.
	readTimeoutSeconds = 30
	// Submitted envelopes must stay valid through interactive signing
	// plus the full poll window.
	writeTimeoutSeconds = 300

	defaultPollInterval = time.Second
	defaultPollAttempts = 20
)

// SignFunc signs a prepared transaction envelope out of process and returns
// the signed wire encoding.
type SignFunc func(ctx context.Context, envelopeXDR, networkPassphrase string) (string, error)

// Call describes one contract invocation.
type Call struct {
	Contract string
	Method   string
	Args     []Arg
	Source   string
}

// ClientConfig wires a Client. RPC and NetworkPassphrase are required.
type ClientConfig struct {
	RPC               RPC
	NetworkPassphrase string

	// PollInterval and PollAttempts bound the finality wait. Zero values
	// take the defaults (1s, 20).
	PollInterval time.Duration
	PollAttempts int

	// Sleep is injectable so tests can exhaust the poll budget without
	// wall-clock delay.
	Sleep func(ctx context.Context, d time.Duration) error

	// PollObserver, if set, is invoked once per poll attempt.
	PollObserver func()
}

// Client is the on-chain call pipeline.
type Client struct {
	rpc          RPC
	passphrase   string
	pollInterval time.Duration
	pollAttempts int
	sleep        func(ctx context.Context, d time.Duration) error
	onPoll       func()
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RPC == nil {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	if cfg.NetworkPassphrase == "" {
		return nil, fmt.Errorf("network passphrase is required")
	}
	c := &Client{
		rpc:          cfg.RPC,
		passphrase:   cfg.NetworkPassphrase,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		sleep:        cfg.Sleep,
		onPoll:       cfg.PollObserver,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.pollAttempts <= 0 {
		c.pollAttempts = defaultPollAttempts
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReadContractValue simulates a single-operation invocation and decodes its
// return value. It never signs and never consumes ledger state.
func (c *Client) ReadContractValue(ctx context.Context, call Call) (Value, error) {
	env, err := c.buildInvoke(ctx, call, readTimeoutSeconds)
	if err != nil {
		return Value{}, err
	}

	sim, err := c.rpc.SimulateTransaction(ctx, env)
	if err != nil {
		return Value{}, fmt.Errorf("simulate %s.%s: %w", amount.Shorten(call.Contract, 4), call.Method, err)
	}
	if sim.Error != "" {
		return Value{}, fmt.Errorf("%w: %s", ErrSimulationFailed, sim.Error)
	}
	if sim.ResultXDR == "" {
		return Value{Kind: ValueNull}, nil
	}

	var sv xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(sim.ResultXDR, &sv); err != nil {
		return Value{}, fmt.Errorf("decode %s return value: %w", call.Method, err)
	}
	return valueFromScVal(sv)
}

// SubmitContractCall builds, prepares, signs, broadcasts and polls one
// state-changing invocation to a terminal outcome.
func (c *Client) SubmitContractCall(ctx context.Context, call Call, sign SignFunc) (TxResult, error) {
	env, err := c.buildInvoke(ctx, call, writeTimeoutSeconds)
	if err != nil {
		return TxResult{}, err
	}

	prepared, err := c.prepare(ctx, env)
	if err != nil {
		return TxResult{}, err
	}

	signed, err := sign(ctx, prepared, c.passphrase)
	if err != nil {
		return TxResult{}, fmt.Errorf("sign transaction: %w", err)
	}
	if _, err := txnbuild.TransactionFromXDR(signed); err != nil {
		return TxResult{}, fmt.Errorf("parse signed transaction: %w", err)
	}

	send, err := c.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return TxResult{}, fmt.Errorf("send transaction: %w", err)
	}
	if send.Status == SendStatusError {
		reason := send.ErrorResultXDR
		if reason == "" {
			reason = "transaction rejected"
		}
		return TxResult{}, fmt.Errorf("%w: %s", ErrSubmissionFailed, reason)
	}
	if send.Hash == "" {
		return TxResult{}, ErrMissingTransactionHash
	}

	for i := 0; i < c.pollAttempts; i++ {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return TxResult{}, err
		}
		if c.onPoll != nil {
			c.onPoll()
		}
		res, err := c.rpc.GetTransaction(ctx, send.Hash)
		if err != nil {
			return TxResult{}, fmt.Errorf("get transaction %s: %w", send.Hash, err)
		}
		switch res.Status {
		case TxStatusSuccess:
			res.Hash = send.Hash
			return res, nil
		case TxStatusFailed:
			reason := res.ResultXDR
			if reason == "" {
				reason = "transaction failed"
			}
			return TxResult{}, fmt.Errorf("%w: %s", ErrSubmissionFailed, reason)
		}
		// pending or not yet found, keep polling
	}
	return TxResult{}, ErrTimeout
}

// LatestLedger fetches the most recently closed ledger sequence, used by
// callers to anchor absolute expiration horizons.
func (c *Client) LatestLedger(ctx context.Context) (uint32, error) {
	seq, err := c.rpc.GetLatestLedger(ctx)
	if err != nil {
		return 0, fmt.Errorf("get latest ledger: %w", err)
	}
	return seq, nil
}

func (c *Client) buildInvoke(ctx context.Context, call Call, timeoutSeconds int64) (string, error) {
	acct, err := c.rpc.GetAccount(ctx, call.Source)
	if err != nil {
		return "", fmt.Errorf("get account %s: %w", amount.Shorten(call.Source, 4), err)
	}

	contractAddr, err := scAddress(call.Contract)
	if err != nil {
		return "", err
	}
	scArgs := make([]xdr.ScVal, 0, len(call.Args))
	for _, arg := range call.Args {
		sv, err := arg.scVal()
		if err != nil {
			return "", fmt.Errorf("encode %s argument: %w", call.Method, err)
		}
		scArgs = append(scArgs, sv)
	}

	op := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddr,
				FunctionName:    xdr.ScSymbol(call.Method),
				Args:            scArgs,
			},
		},
	}

	source := txnbuild.SimpleAccount{AccountID: acct.ID, Sequence: acct.Sequence}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &source,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(timeoutSeconds),
		},
	})
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	return tx.Base64()
}

// prepare simulates the envelope and folds the resulting footprint, auth and
// resource fee back into it, yielding the wire encoding handed to the
// signer. A backend that reports no transaction data (the in-memory fake)
// leaves the envelope untouched.
func (c *Client) prepare(ctx context.Context, envelopeXDR string) (string, error) {
	sim, err := c.rpc.SimulateTransaction(ctx, envelopeXDR)
	if err != nil {
		return "", fmt.Errorf("prepare transaction: %w", err)
	}
	if sim.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrSimulationFailed, sim.Error)
	}
	if sim.TransactionData == "" {
		return envelopeXDR, nil
	}

	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(envelopeXDR, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != xdr.EnvelopeTypeEnvelopeTypeTx || env.V1 == nil {
		return "", fmt.Errorf("unexpected envelope type %v", env.Type)
	}

	var sorobanData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &sorobanData); err != nil {
		return "", fmt.Errorf("decode transaction data: %w", err)
	}
	env.V1.Tx.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}
	env.V1.Tx.Fee = xdr.Uint32(int64(env.V1.Tx.Fee) + sim.MinResourceFee)

	if len(env.V1.Tx.Operations) == 1 {
		if op := env.V1.Tx.Operations[0].Body.InvokeHostFunctionOp; op != nil && len(op.Auth) == 0 {
			for _, raw := range sim.AuthXDR {
				var entry xdr.SorobanAuthorizationEntry
				if err := xdr.SafeUnmarshalBase64(raw, &entry); err != nil {
					return "", fmt.Errorf("decode auth entry: %w", err)
				}
				op.Auth = append(op.Auth, entry)
			}
		}
	}

	return marshalBase64(&env)
}

func marshalBase64(v interface{ MarshalBinary() ([]byte, error) }) (string, error) {
	raw, err := v.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
