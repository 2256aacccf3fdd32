// Package builder assembles the candidate blocks the ledger verifies and
// commits. Every function is pure: the same arguments always produce the same
// block, which keeps replicas bit-identical.
package builder

import (
	"github.com/colorfulnotion/cartezcash/types"
)

var coinbaseTag = []byte("/cartezcash/")

// Coinbase returns the coinbase transaction for height paying outputs.
func Coinbase(height uint32, outputs []types.TxOut) *types.Transaction {
	tx := types.NewTransaction()
	tx.Inputs = []types.TxIn{{
		PrevOut:   types.OutPoint{Index: types.CoinbaseIndex},
		ScriptSig: types.CoinbaseScriptSig(height, coinbaseTag),
		Sequence:  types.FinalSequence,
	}}
	if len(outputs) > 0 {
		tx.Outputs = outputs
	}
	return tx
}

// GenesisBlock is the fixed first block: an output-less coinbase on a zero
// previous hash. It creates no UTXOs, nullifiers or commitments.
func GenesisBlock() *types.Block {
	return newBlock(types.Hash{}, Coinbase(0, nil))
}

// MintBlock builds a block whose only transaction is a coinbase paying amount to script.
func MintBlock(height uint32, prev types.Hash, amount uint64, script []byte) *types.Block {
	out := types.TxOut{Value: amount, Script: append([]byte(nil), script...)}
	return newBlock(prev, Coinbase(height, []types.TxOut{out}))
}

// TransactBlock builds [empty coinbase, tx] at height.
func TransactBlock(height uint32, prev types.Hash, tx *types.Transaction) *types.Block {
	return newBlock(prev, Coinbase(height, nil), tx)
}

func newBlock(prev types.Hash, txs ...*types.Transaction) *types.Block {
	b := &types.Block{
		Header: types.Header{
			Version:  types.BlockVersion,
			PrevHash: prev,
		},
		Transactions: txs,
	}
	b.Header.MerkleRoot = types.MerkleRoot(b.TxIDs())
	return b
}
