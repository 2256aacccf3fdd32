package ledger

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/colorfulnotion/cartezcash/types"
)

// checkStructure applies the context-free rules to tx for inclusion at height.
func checkStructure(tx *types.Transaction, height uint32) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", czerrors.ErrInvalidTransaction)
	}
	if tx.ConsensusBranchID != types.ConsensusBranchNU5 {
		return fmt.Errorf("%w: unsupported consensus branch id 0x%08x", czerrors.ErrInvalidTransaction, tx.ConsensusBranchID)
	}
	if len(tx.Inputs) == 0 && len(tx.Actions()) == 0 {
		return fmt.Errorf("%w: transaction has no inputs and no actions", czerrors.ErrInvalidTransaction)
	}
	spent := make(map[types.OutPoint]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if in.IsCoinbase() {
			return fmt.Errorf("%w: input %d is a coinbase input", czerrors.ErrInvalidTransaction, i)
		}
		if _, dup := spent[in.PrevOut]; dup {
			return fmt.Errorf("%w: input %d spends an outpoint twice", czerrors.ErrInvalidTransaction, i)
		}
		spent[in.PrevOut] = struct{}{}
	}
	if b := tx.Orchard; b != nil && len(b.SpendAuthSigs) != len(b.Actions) {
		return fmt.Errorf("%w: %d spend auth sigs for %d actions", czerrors.ErrInvalidTransaction, len(b.SpendAuthSigs), len(b.Actions))
	}
	if tx.ExpiryHeight != 0 && height > tx.ExpiryHeight {
		return fmt.Errorf("%w: height %d > expiry %d", czerrors.ErrTransactionExpired, height, tx.ExpiryHeight)
	}
	return nil
}

// resolveInputs looks up the output spent by every input, in input order.
func (l *Ledger) resolveInputs(tx *types.Transaction) ([]types.TxOut, error) {
	prevOuts := make([]types.TxOut, len(tx.Inputs))
	for i, in := range tx.Inputs {
		utxo, ok := l.state.utxos[in.PrevOut]
		if !ok {
			return nil, fmt.Errorf("%w: input %d spends %s:%d", czerrors.ErrUnknownPreviousOutput, i, in.PrevOut.TxID, in.PrevOut.Index)
		}
		prevOuts[i] = types.TxOut{Value: utxo.Value, Script: utxo.Script}
	}
	return prevOuts, nil
}

// checkNullifiers rejects a nullifier already in the set or repeated within tx.
func (l *Ledger) checkNullifiers(tx *types.Transaction) error {
	seen := make(map[types.Nullifier]struct{})
	for i, nf := range tx.Nullifiers() {
		if _, ok := l.state.nullifiers[nf]; ok {
			return fmt.Errorf("%w: action %d nullifier %s", czerrors.ErrDuplicateNullifier, i, nf.Hex())
		}
		if _, ok := seen[nf]; ok {
			return fmt.Errorf("%w: action %d repeats nullifier %s", czerrors.ErrDuplicateNullifier, i, nf.Hex())
		}
		seen[nf] = struct{}{}
	}
	return nil
}

func (l *Ledger) checkAnchor(tx *types.Transaction) error {
	if tx.Orchard == nil {
		return nil
	}
	if !l.state.roots.Contains(tx.Orchard.Anchor) {
		return fmt.Errorf("%w: %s", czerrors.ErrUnknownAnchor, tx.Orchard.Anchor)
	}
	return nil
}

// checkValueBalance requires transparent inputs plus value leaving the
// shielded pool to cover transparent outputs plus value entering it. The
// difference is the fee, which no output collects.
func checkValueBalance(tx *types.Transaction, prevOuts []types.TxOut) error {
	var available, spent uint64
	var err error
	for _, out := range prevOuts {
		if available, err = addUint64(available, out.Value); err != nil {
			return fmt.Errorf("%w: inputs: %v", czerrors.ErrValueBalance, err)
		}
	}
	for _, out := range tx.Outputs {
		if spent, err = addUint64(spent, out.Value); err != nil {
			return fmt.Errorf("%w: outputs: %v", czerrors.ErrValueBalance, err)
		}
	}
	if tx.Orchard != nil {
		vb := tx.Orchard.ValueBalance
		if vb > 0 {
			available, err = addUint64(available, uint64(vb))
		} else {
			spent, err = addUint64(spent, uint64(-vb))
		}
		if err != nil {
			return fmt.Errorf("%w: value balance: %v", czerrors.ErrValueBalance, err)
		}
	}
	if spent > available {
		return fmt.Errorf("%w: outputs exceed inputs: %d > %d", czerrors.ErrValueBalance, spent, available)
	}
	return nil
}

func addUint64(a uint64, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("uint64 overflow")
	}
	return a + b, nil
}
