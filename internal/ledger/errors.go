package ledger

import "errors"

var (
	// ErrSimulationFailed reports a dry-run the RPC endpoint rejected.
	ErrSimulationFailed = errors.New("simulation failed")

	// ErrSubmissionFailed reports a broadcast the network rejected, either
	// at send time or after inclusion with a FAILED status.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrMissingTransactionHash reports a send response with no hash to
	// poll, which leaves the transaction outcome unknowable.
	ErrMissingTransactionHash = errors.New("missing transaction hash")

	// ErrTimeout reports poll-attempt exhaustion before a terminal status.
	ErrTimeout = errors.New("transaction timed out")
)
