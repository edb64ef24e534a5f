package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/stellar/go/xdr"
)

// FakeRPC emulates the ledger in memory: two token contracts with balances,
// allowances and supply, deterministic hashes, and scriptable statuses.
// It backs the test suite and `serve --fake` local development.
type FakeRPC struct {
	mu        sync.Mutex
	sequences map[string]int64
	tokens    map[string]*fakeToken
	pending   map[string]invocation

	collateral string
	issued     string

	// Ledger is returned by GetLatestLedger.
	Ledger uint32

	// SimulateError, when set, fails every simulation with that message.
	SimulateError string
	// SendStatus overrides the send response status when non-empty.
	SendStatus string
	// OmitHash makes SendTransaction return no transaction hash.
	OmitHash bool
	// Statuses scripts GetTransaction responses, consumed front to back;
	// once drained (or when empty) transactions apply and succeed.
	Statuses []string
}

type fakeToken struct {
	decimals   uint32
	supply     *big.Int
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

type invocation struct {
	contract string
	method   string
	args     []Value
}

// NewFakeRPC seeds a collateral token and an issued token, both at 7
// decimals, mirroring the USDC/rUSD pair.
func NewFakeRPC(collateralContract, issuedContract string) *FakeRPC {
	return &FakeRPC{
		sequences:  make(map[string]int64),
		pending:    make(map[string]invocation),
		collateral: collateralContract,
		issued:     issuedContract,
		Ledger:     1000,
		tokens: map[string]*fakeToken{
			collateralContract: newFakeToken(7),
			issuedContract:     newFakeToken(7),
		},
	}
}

func newFakeToken(decimals uint32) *fakeToken {
	return &fakeToken{
		decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func (t *fakeToken) balance(account string) *big.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func allowanceKey(owner, spender string) string { return owner + "|" + spender }

// SetBalance seeds an account balance on a contract.
func (f *FakeRPC) SetBalance(contract, account string, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[contract].balances[account] = new(big.Int).Set(v)
}

// SetAllowance seeds a collateral allowance.
func (f *FakeRPC) SetAllowance(owner, spender string, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[f.collateral].allowances[allowanceKey(owner, spender)] = new(big.Int).Set(v)
}

// SetSupply seeds the issued token's total supply.
func (f *FakeRPC) SetSupply(contract string, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[contract].supply = new(big.Int).Set(v)
}

// Balance reads back a seeded or mutated balance.
func (f *FakeRPC) Balance(contract, account string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.tokens[contract].balance(account))
}

// Allowance reads back a collateral allowance.
func (f *FakeRPC) Allowance(owner, spender string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.tokens[f.collateral].allowances[allowanceKey(owner, spender)]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (f *FakeRPC) GetAccount(_ context.Context, address string) (AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences[address]++
	return AccountState{ID: address, Sequence: f.sequences[address]}, nil
}

func (f *FakeRPC) SimulateTransaction(_ context.Context, envelopeXDR string) (SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SimulateError != "" {
		return SimulationResult{Error: f.SimulateError, LatestLedger: f.Ledger}, nil
	}

	inv, err := parseInvocation(envelopeXDR)
	if err != nil {
		return SimulationResult{}, err
	}
	retval, err := f.eval(inv)
	if err != nil {
		return SimulationResult{Error: err.Error(), LatestLedger: f.Ledger}, nil
	}
	return SimulationResult{ResultXDR: retval, LatestLedger: f.Ledger}, nil
}

// eval computes read results without mutating state. Write methods simulate
// to a void result; their effects land in apply once polled to SUCCESS.
func (f *FakeRPC) eval(inv invocation) (string, error) {
	token, ok := f.tokens[inv.contract]
	if !ok {
		return "", fmt.Errorf("unknown contract %s", inv.contract)
	}

	switch inv.method {
	case "balance":
		if len(inv.args) != 1 || inv.args[0].Kind != ValueAddress {
			return "", fmt.Errorf("balance: bad arguments")
		}
		return encodeI128(token.balance(inv.args[0].Address))
	case "allowance":
		if len(inv.args) != 2 || inv.args[0].Kind != ValueAddress || inv.args[1].Kind != ValueAddress {
			return "", fmt.Errorf("allowance: bad arguments")
		}
		key := allowanceKey(inv.args[0].Address, inv.args[1].Address)
		if v, ok := token.allowances[key]; ok {
			return encodeI128(v)
		}
		return encodeI128(new(big.Int))
	case "total_supply":
		return encodeI128(token.supply)
	case "decimals":
		return encodeU32(token.decimals)
	case "approve", "mint", "burn":
		return "", nil // void
	}
	return "", fmt.Errorf("unknown method %s", inv.method)
}

func (f *FakeRPC) SendTransaction(_ context.Context, envelopeXDR string) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendStatus != "" {
		return SendResult{Status: f.SendStatus, ErrorResultXDR: "tx_rejected"}, nil
	}

	inv, err := parseInvocation(envelopeXDR)
	if err != nil {
		return SendResult{}, err
	}

	sum := sha256.Sum256([]byte(envelopeXDR))
	hash := hex.EncodeToString(sum[:])
	if f.OmitHash {
		return SendResult{Status: TxStatusPending}, nil
	}
	f.pending[hash] = inv
	return SendResult{Status: TxStatusPending, Hash: hash}, nil
}

func (f *FakeRPC) GetTransaction(_ context.Context, hash string) (TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Statuses) > 0 {
		status := f.Statuses[0]
		f.Statuses = f.Statuses[1:]
		switch status {
		case TxStatusSuccess:
			return f.finalize(hash)
		case TxStatusFailed:
			delete(f.pending, hash)
			return TxResult{Status: TxStatusFailed, ResultXDR: "tx_failed"}, nil
		default:
			return TxResult{Status: status}, nil
		}
	}
	return f.finalize(hash)
}

func (f *FakeRPC) finalize(hash string) (TxResult, error) {
	inv, ok := f.pending[hash]
	if !ok {
		return TxResult{Status: TxStatusNotFound}, nil
	}
	delete(f.pending, hash)
	if err := f.apply(inv); err != nil {
		return TxResult{Status: TxStatusFailed, ResultXDR: err.Error()}, nil
	}
	f.Ledger++
	return TxResult{Status: TxStatusSuccess, Ledger: f.Ledger}, nil
}

// apply mutates the token world the way the real contracts would: minting
// pulls collateral from the recipient into the issuer's reserve and consumes
// allowance; burning releases it back.
func (f *FakeRPC) apply(inv invocation) error {
	switch inv.method {
	case "approve":
		if len(inv.args) != 4 {
			return fmt.Errorf("approve: bad arguments")
		}
		owner, spender := inv.args[0].Address, inv.args[1].Address
		v, ok := inv.args[2].BigInt()
		if !ok {
			return fmt.Errorf("approve: bad amount")
		}
		f.tokens[inv.contract].allowances[allowanceKey(owner, spender)] = new(big.Int).Set(v)
		return nil

	case "mint":
		to, v, err := accountAmount(inv)
		if err != nil {
			return err
		}
		collateral := f.tokens[f.collateral]
		issued := f.tokens[f.issued]
		key := allowanceKey(to, f.issued)

		if collateral.balance(to).Cmp(v) < 0 {
			return fmt.Errorf("insufficient collateral balance")
		}
		allowed, ok := collateral.allowances[key]
		if !ok || allowed.Cmp(v) < 0 {
			return fmt.Errorf("insufficient allowance")
		}
		collateral.allowances[key] = new(big.Int).Sub(allowed, v)
		collateral.balances[to] = new(big.Int).Sub(collateral.balance(to), v)
		collateral.balances[f.issued] = new(big.Int).Add(collateral.balance(f.issued), v)
		issued.balances[to] = new(big.Int).Add(issued.balance(to), v)
		issued.supply = new(big.Int).Add(issued.supply, v)
		return nil

	case "burn":
		from, v, err := accountAmount(inv)
		if err != nil {
			return err
		}
		collateral := f.tokens[f.collateral]
		issued := f.tokens[f.issued]

		if issued.balance(from).Cmp(v) < 0 {
			return fmt.Errorf("insufficient issued balance")
		}
		issued.balances[from] = new(big.Int).Sub(issued.balance(from), v)
		issued.supply = new(big.Int).Sub(issued.supply, v)
		collateral.balances[f.issued] = new(big.Int).Sub(collateral.balance(f.issued), v)
		collateral.balances[from] = new(big.Int).Add(collateral.balance(from), v)
		return nil
	}
	return fmt.Errorf("cannot apply method %s", inv.method)
}

func accountAmount(inv invocation) (string, *big.Int, error) {
	if len(inv.args) != 2 || inv.args[0].Kind != ValueAddress {
		return "", nil, fmt.Errorf("%s: bad arguments", inv.method)
	}
	v, ok := inv.args[1].BigInt()
	if !ok {
		return "", nil, fmt.Errorf("%s: bad amount", inv.method)
	}
	return inv.args[0].Address, v, nil
}

func (f *FakeRPC) GetLatestLedger(_ context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Ledger, nil
}

func parseInvocation(envelopeXDR string) (invocation, error) {
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(envelopeXDR, &env); err != nil {
		return invocation{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != xdr.EnvelopeTypeEnvelopeTypeTx || env.V1 == nil || len(env.V1.Tx.Operations) != 1 {
		return invocation{}, fmt.Errorf("expected a single-operation v1 envelope")
	}
	op := env.V1.Tx.Operations[0].Body.InvokeHostFunctionOp
	if op == nil || op.HostFunction.InvokeContract == nil {
		return invocation{}, fmt.Errorf("expected an invoke-contract operation")
	}

	call := op.HostFunction.InvokeContract
	contract, err := scAddressString(call.ContractAddress)
	if err != nil {
		return invocation{}, err
	}
	args := make([]Value, 0, len(call.Args))
	for _, raw := range call.Args {
		v, err := valueFromScVal(raw)
		if err != nil {
			return invocation{}, err
		}
		args = append(args, v)
	}
	return invocation{
		contract: contract,
		method:   string(call.FunctionName),
		args:     args,
	}, nil
}

func encodeI128(v *big.Int) (string, error) {
	parts, err := i128Parts(v)
	if err != nil {
		return "", err
	}
	sv := xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
	return marshalBase64(&sv)
}

func encodeU32(v uint32) (string, error) {
	u := xdr.Uint32(v)
	sv := xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
	return marshalBase64(&sv)
}
