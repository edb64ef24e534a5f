// Package wallet abstracts how a connected account's key is obtained and how
// transaction envelopes get signed. The pipeline only sees this interface,
// so signer backends can be swapped without touching it.
package wallet

import (
	"context"
	"errors"
)

var (
	// ErrConnectionCanceled reports an interactive connect the user backed
	// out of.
	ErrConnectionCanceled = errors.New("wallet connection canceled")

	// ErrSigningUnsupported reports an envelope the signer backend cannot
	// handle.
	ErrSigningUnsupported = errors.New("wallet does not support signing this transaction")
)

// Signer connects an account and signs transaction envelopes for it.
type Signer interface {
	// Connect resolves the account identifier this signer acts for. It
	// may be interactive and may fail with ErrConnectionCanceled.
	Connect(ctx context.Context, networkPassphrase string) (string, error)

	// SignTransaction signs a base64 transaction envelope for the given
	// network and returns the signed wire encoding.
	SignTransaction(ctx context.Context, envelopeXDR, networkPassphrase string) (string, error)
}
