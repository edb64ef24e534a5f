package ledger

import "context"

// Transaction statuses reported by the RPC endpoint. Anything outside the
// terminal pair keeps the poll loop going.
const (
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
	TxStatusNotFound = "NOT_FOUND"
	TxStatusPending  = "PENDING"
)

// SendStatusError is the only send status treated as an immediate failure.
const SendStatusError = "ERROR"

// AccountState is the source account's current sequence state.
type AccountState struct {
	ID       string
	Sequence int64
}

// SimulationResult is the outcome of a dry-run execution.
type SimulationResult struct {
	Error           string
	TransactionData string   // base64 SorobanTransactionData, empty for plain reads
	MinResourceFee  int64
	ResultXDR       string   // base64 ScVal return value, empty when the call returns nothing
	AuthXDR         []string // base64 SorobanAuthorizationEntry footprints
	LatestLedger    uint32
}

// SendResult is the immediate response to a broadcast.
type SendResult struct {
	Status         string
	Hash           string
	ErrorResultXDR string
}

// TxResult is a polled transaction status. Hash is filled in by the client,
// not the endpoint, once the transaction settles.
type TxResult struct {
	Status        string
	Hash          string
	ResultXDR     string
	ResultMetaXDR string
	Ledger        uint32
}

// RPC is the narrow surface of the ledger's JSON-RPC endpoint this client
// depends on. Everything else about the endpoint is opaque.
type RPC interface {
	GetAccount(ctx context.Context, address string) (AccountState, error)
	SimulateTransaction(ctx context.Context, envelopeXDR string) (SimulationResult, error)
	SendTransaction(ctx context.Context, envelopeXDR string) (SendResult, error)
	GetTransaction(ctx context.Context, hash string) (TxResult, error)
	GetLatestLedger(ctx context.Context) (uint32, error)
}
