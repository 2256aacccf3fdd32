package verifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/colorfulnotion/cartezcash/czerrors"
	log "github.com/colorfulnotion/cartezcash/log"
	"github.com/colorfulnotion/cartezcash/types"
)

var proofPersonalization = types.Personalization("CZ_OrchardProof")

// Production verifies P2PKH input scripts with secp256k1 ECDSA and checks the
// Orchard proof as a transcript digest over the shielded sighash and the
// bundle's public inputs.
type Production struct{}

func NewProduction() *Production {
	return &Production{}
}

func (p *Production) Verify(ctx context.Context, req *Request) error {
	tx := req.Tx
	if len(req.PrevOuts) != len(tx.Inputs) {
		return fmt.Errorf("%w: have %d previous outputs for %d inputs",
			czerrors.ErrScriptVerificationFailed, len(req.PrevOuts), len(tx.Inputs))
	}
	for i := range tx.Inputs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", czerrors.ErrVerifierUnavailable, err)
		}
		if err := VerifyInput(tx, i, req.PrevOuts); err != nil {
			log.Debug(log.Verifier, "input script rejected", "txid", tx.TxID(), "input", i, "err", err)
			return fmt.Errorf("%w: input %d: %v", czerrors.ErrScriptVerificationFailed, i, err)
		}
	}
	if tx.Orchard == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", czerrors.ErrVerifierUnavailable, err)
	}
	want, err := TranscriptProof(tx, req.PrevOuts)
	if err != nil {
		return fmt.Errorf("%w: %v", czerrors.ErrShieldedProofInvalid, err)
	}
	if !bytes.Equal(tx.Orchard.Proof, want) {
		log.Debug(log.Verifier, "orchard proof rejected", "txid", tx.TxID())
		return fmt.Errorf("%w: proof does not match bundle", czerrors.ErrShieldedProofInvalid)
	}
	return nil
}

// TranscriptProof is the proof a well-formed bundle must carry: a BLAKE2b
// digest binding the shielded sighash to the anchor, nullifiers, note
// commitments, value balance and flags.
func TranscriptProof(tx *types.Transaction, prevOuts []types.TxOut) ([]byte, error) {
	if tx.Orchard == nil {
		return nil, fmt.Errorf("transaction has no orchard bundle")
	}
	sighash, err := tx.ShieldedSighash(prevOuts)
	if err != nil {
		return nil, err
	}
	b := tx.Orchard
	parts := [][]byte{sighash[:], b.Anchor[:]}
	for i := range b.Actions {
		parts = append(parts, b.Actions[i].Nullifier[:], b.Actions[i].CMX[:])
	}
	var tail [9]byte
	binary.LittleEndian.PutUint64(tail[:8], uint64(b.ValueBalance))
	tail[8] = b.Flags
	parts = append(parts, tail[:])
	digest := types.Blake2b256(proofPersonalization, parts...)
	return digest[:], nil
}

// VerifyInput checks input inputIdx against the script of the output it spends.
// Only P2PKH is spendable.
func VerifyInput(tx *types.Transaction, inputIdx int, prevOuts []types.TxOut) error {
	script := prevOuts[inputIdx].Script
	pkh, ok := types.P2PKHHash(script)
	if !ok {
		return fmt.Errorf("unsupported script type")
	}
	sig, pubkey, err := types.SplitP2PKHScriptSig(tx.Inputs[inputIdx].ScriptSig)
	if err != nil {
		return fmt.Errorf("extract scriptSig: %w", err)
	}
	if types.Hash160(pubkey) != pkh {
		return fmt.Errorf("pubkey hash mismatch")
	}
	if len(sig) < 1 {
		return fmt.Errorf("signature too short")
	}
	hashType := sig[len(sig)-1]
	derSig := sig[:len(sig)-1]

	sighash, err := tx.SignatureHash(inputIdx, hashType, prevOuts)
	if err != nil {
		return fmt.Errorf("compute sighash: %w", err)
	}
	return verifyECDSA(pubkey, sighash[:], derSig)
}

func verifyECDSA(pubkey []byte, msg []byte, sig []byte) error {
	pk, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return fmt.Errorf("parse pubkey: %w", err)
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if !signature.Verify(msg, pk) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// SignInput produces a P2PKH scriptSig for input inputIdx with SIGHASH_ALL.
func SignInput(tx *types.Transaction, inputIdx int, prevOuts []types.TxOut, key *btcec.PrivateKey) ([]byte, error) {
	sighash, err := tx.SignatureHash(inputIdx, types.SighashAll, prevOuts)
	if err != nil {
		return nil, err
	}
	sig := ecdsa.Sign(key, sighash[:]).Serialize()
	sig = append(sig, types.SighashAll)
	scriptSig := types.PushData(sig)
	return append(scriptSig, types.PushData(key.PubKey().SerializeCompressed())...), nil
}
