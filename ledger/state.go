package ledger

import (
	"github.com/colorfulnotion/cartezcash/merkle"
	"github.com/colorfulnotion/cartezcash/types"
)

type state struct {
	hasTip     bool
	height     uint32
	hash       types.Hash
	utxos      map[types.OutPoint]types.Utxo
	nullifiers map[types.Nullifier]struct{}
	frontier   *merkle.Frontier
	roots      *merkle.RootWindow
	// shieldedPool is the value held by unspent shielded notes.
	shieldedPool uint64
	// minted and burned are running totals of coinbase outputs and of value
	// released to the host chain.
	minted uint64
	burned uint64
}

func newState(window int) *state {
	return &state{
		utxos:      make(map[types.OutPoint]types.Utxo),
		nullifiers: make(map[types.Nullifier]struct{}),
		frontier:   merkle.NewFrontier(),
		roots:      merkle.NewRootWindow(window),
	}
}

// Snapshot is a deep copy of the ledger state.
type Snapshot struct {
	HasTip       bool
	Height       uint32
	Hash         types.Hash
	UTXOs        map[types.OutPoint]types.Utxo
	Nullifiers   map[types.Nullifier]struct{}
	TreeSize     uint64
	Root         types.Hash
	Roots        []types.Hash
	ShieldedPool uint64
	Minted       uint64
	Burned       uint64
}

func (s *state) snapshot() *Snapshot {
	snap := &Snapshot{
		HasTip:       s.hasTip,
		Height:       s.height,
		Hash:         s.hash,
		UTXOs:        make(map[types.OutPoint]types.Utxo, len(s.utxos)),
		Nullifiers:   make(map[types.Nullifier]struct{}, len(s.nullifiers)),
		TreeSize:     s.frontier.Size(),
		Root:         s.frontier.Root(),
		Roots:        s.roots.Roots(),
		ShieldedPool: s.shieldedPool,
		Minted:       s.minted,
		Burned:       s.burned,
	}
	for op, u := range s.utxos {
		u.Script = append([]byte(nil), u.Script...)
		snap.UTXOs[op] = u
	}
	for nf := range s.nullifiers {
		snap.Nullifiers[nf] = struct{}{}
	}
	return snap
}

// TotalTransparent sums the values of all unspent transparent outputs.
func (s *Snapshot) TotalTransparent() uint64 {
	var total uint64
	for _, u := range s.UTXOs {
		total += u.Value
	}
	return total
}
