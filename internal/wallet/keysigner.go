package wallet

import (
	"context"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

// KeySigner signs with a locally held secret key. It is the headless
// counterpart to a browser-extension wallet and backs the one-shot CLI
// commands.
type KeySigner struct {
	kp *keypair.Full
}

// NewKeySigner parses an S... secret seed.
func NewKeySigner(secretSeed string) (*KeySigner, error) {
	kp, err := keypair.ParseFull(secretSeed)
	if err != nil {
		return nil, fmt.Errorf("parse secret key: %w", err)
	}
	return &KeySigner{kp: kp}, nil
}

// Connect is non-interactive for a local key; it never cancels.
func (s *KeySigner) Connect(_ context.Context, _ string) (string, error) {
	return s.kp.Address(), nil
}

func (s *KeySigner) SignTransaction(_ context.Context, envelopeXDR, networkPassphrase string) (string, error) {
	generic, err := txnbuild.TransactionFromXDR(envelopeXDR)
	if err != nil {
		return "", fmt.Errorf("parse envelope: %w", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		// fee-bump envelopes never come out of this pipeline
		return "", ErrSigningUnsupported
	}
	signed, err := tx.Sign(networkPassphrase, s.kp)
	if err != nil {
		return "", fmt.Errorf("sign envelope: %w", err)
	}
	return signed.Base64()
}
