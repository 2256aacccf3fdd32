// Package verifier checks the cryptographic parts of a transaction: the
// transparent input scripts and the Orchard bundle's proof.
package verifier

import (
	"context"

	"github.com/colorfulnotion/cartezcash/types"
)

// Request is everything a verifier needs to check one transaction.
// PrevOuts holds the resolved previous output of every transparent input.
type Request struct {
	Tx       *types.Transaction
	PrevOuts []types.TxOut
	Height   uint32
}

// Verifier checks a transaction's scripts and shielded proof.
//
// Failures are reported wrapping czerrors.ErrScriptVerificationFailed or
// czerrors.ErrShieldedProofInvalid. A verifier that cannot reach a decision,
// for example because ctx expired, wraps czerrors.ErrVerifierUnavailable.
type Verifier interface {
	Verify(ctx context.Context, req *Request) error
}
