package ledger

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/colorfulnotion/cartezcash/note"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/colorfulnotion/cartezcash/verifier"
	"github.com/stretchr/testify/require"
)

type wallet struct {
	key    *btcec.PrivateKey
	script []byte
}

func newWallet(t *testing.T) *wallet {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &wallet{key: key, script: types.P2PKHScript(types.Hash160(key.PubKey().SerializeCompressed()))}
}

func newLedger(t *testing.T, cfg Config, v verifier.Verifier) *Ledger {
	t.Helper()
	l := New(cfg, v)
	_, err := l.Apply(context.Background(), Genesis{})
	require.NoError(t, err)
	return l
}

// mint pays amount to w and returns the new outpoint.
func (w *wallet) mint(t *testing.T, l *Ledger, amount uint64) types.OutPoint {
	t.Helper()
	resp, err := l.Apply(context.Background(), Mint{Amount: amount, To: w.script})
	require.NoError(t, err)
	return types.OutPoint{TxID: resp.Block.Transactions[0].TxID(), Index: 0}
}

func randomNullifier(t *testing.T) types.Nullifier {
	t.Helper()
	var nf types.Nullifier
	_, err := rand.Read(nf[:])
	require.NoError(t, err)
	return nf
}

// shieldedAction creates an action spending nf and creating a note of value to addr.
func shieldedAction(t *testing.T, nf types.Nullifier, to note.Address, value uint64, memo note.Memo) types.Action {
	t.Helper()
	ct, _, err := note.Encrypt(to, value, memo, nil)
	require.NoError(t, err)
	action := types.Action{Nullifier: nf}
	ct.Fill(&action)
	return action
}

func bundle(anchor types.Hash, valueBalance int64, actions ...types.Action) *types.OrchardBundle {
	return &types.OrchardBundle{
		Actions:       actions,
		Flags:         types.OrchardFlagSpendsEnabled | types.OrchardFlagOutputsEnabled,
		ValueBalance:  valueBalance,
		Anchor:        anchor,
		SpendAuthSigs: make([][types.SignatureSize]byte, len(actions)),
	}
}

// finalize attaches the orchard proof and signs every input owned by w.
func (w *wallet) finalize(t *testing.T, l *Ledger, tx *types.Transaction) *types.Transaction {
	t.Helper()
	prevOuts := make([]types.TxOut, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if u, ok := l.UTXO(in.PrevOut); ok {
			prevOuts[i] = types.TxOut{Value: u.Value, Script: u.Script}
		}
	}
	if tx.Orchard != nil {
		proof, err := verifier.TranscriptProof(tx, prevOuts)
		require.NoError(t, err)
		tx.Orchard.Proof = proof
	}
	for i := range tx.Inputs {
		scriptSig, err := verifier.SignInput(tx, i, prevOuts, w.key)
		require.NoError(t, err)
		tx.Inputs[i].ScriptSig = scriptSig
	}
	return tx
}

// shield moves value from op into one shielded note; the rest of op is fee.
func (w *wallet) shield(t *testing.T, l *Ledger, op types.OutPoint, nf types.Nullifier, to note.Address, value uint64, memo note.Memo) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction()
	tx.Inputs = []types.TxIn{{PrevOut: op, Sequence: types.FinalSequence}}
	tx.Orchard = bundle(l.Root(), -int64(value), shieldedAction(t, nf, to, value, memo))
	return w.finalize(t, l, tx)
}

// pay spends op to the given outputs.
func (w *wallet) pay(t *testing.T, l *Ledger, op types.OutPoint, outputs ...types.TxOut) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction()
	tx.Inputs = []types.TxIn{{PrevOut: op, Sequence: types.FinalSequence}}
	tx.Outputs = outputs
	return w.finalize(t, l, tx)
}

// shieldedTransfer is a fully shielded transaction with no transparent part.
func shieldedTransfer(t *testing.T, l *Ledger, nf types.Nullifier, to note.Address, value uint64) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction()
	tx.Orchard = bundle(l.Root(), 0, shieldedAction(t, nf, to, value, note.Memo{}))
	proof, err := verifier.TranscriptProof(tx, nil)
	require.NoError(t, err)
	tx.Orchard.Proof = proof
	return tx
}

func walletAddress(t *testing.T) note.Address {
	t.Helper()
	var ivk note.IncomingViewingKey
	_, err := rand.Read(ivk[:])
	require.NoError(t, err)
	addr, err := ivk.Address([note.DiversifierSize]byte{})
	require.NoError(t, err)
	return addr
}
