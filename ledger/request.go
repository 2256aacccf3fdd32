package ledger

import (
	"github.com/colorfulnotion/cartezcash/note"
	"github.com/colorfulnotion/cartezcash/types"
)

// Request is one of Genesis, Mint or IncludeTransaction.
type Request interface {
	Kind() string
}

// Genesis loads the fixed genesis block. It must be the first request.
type Genesis struct{}

// Mint pays Amount zatoshis to the locking script To in a coinbase-only block.
type Mint struct {
	Amount uint64
	To     []byte
}

// IncludeTransaction verifies Tx and commits it in a block after an empty coinbase.
type IncludeTransaction struct {
	Tx *types.Transaction
}

func (Genesis) Kind() string            { return "genesis" }
func (Mint) Kind() string               { return "mint" }
func (IncludeTransaction) Kind() string { return "include_transaction" }

// Response describes an accepted block.
type Response struct {
	Block  *types.Block
	Height uint32
	Hash   types.Hash
	Burns  []note.BurnRecord
	// TreeState is the serialized commitment frontier after the block.
	TreeState []byte
}
