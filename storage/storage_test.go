package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/colorfulnotion/cartezcash/ledger"
	"github.com/colorfulnotion/cartezcash/merkle"
	"github.com/colorfulnotion/cartezcash/note"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/colorfulnotion/cartezcash/verifier"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chain struct {
	l      *ledger.Ledger
	store  Store
	key    *btcec.PrivateKey
	pkh    [20]byte
	script []byte
	txids  []types.Hash
	spent  byte
}

func newChain(t *testing.T, store Store) *chain {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pkh := types.Hash160(key.PubKey().SerializeCompressed())
	c := &chain{l: ledger.New(ledger.DefaultConfig(), verifier.NewProduction()), store: store, key: key, pkh: pkh, script: types.P2PKHScript(pkh)}
	c.apply(t, ledger.Genesis{})
	return c
}

func (c *chain) apply(t *testing.T, req ledger.Request) *ledger.Response {
	t.Helper()
	resp, err := c.l.Apply(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, c.store.CommitBlock(resp.Height, resp.Block, resp.TreeState))
	return resp
}

// build mints, spends the mint to another key, then shields the change.
func (c *chain) build(t *testing.T) {
	t.Helper()
	resp := c.apply(t, ledger.Mint{Amount: 1000, To: c.script})
	mintTx := resp.Block.Transactions[0]
	c.txids = append(c.txids, mintTx.TxID())

	prevOuts := []types.TxOut{mintTx.Outputs[0]}
	pay := types.NewTransaction()
	pay.Inputs = []types.TxIn{{PrevOut: types.OutPoint{TxID: mintTx.TxID()}, Sequence: types.FinalSequence}}
	pay.Outputs = []types.TxOut{
		{Value: 400, Script: types.P2PKHScript([20]byte{0x99})},
		{Value: 600, Script: c.script},
	}
	sig, err := verifier.SignInput(pay, 0, prevOuts, c.key)
	require.NoError(t, err)
	pay.Inputs[0].ScriptSig = sig
	c.apply(t, ledger.IncludeTransaction{Tx: pay})
	c.txids = append(c.txids, pay.TxID())

	shield := types.NewTransaction()
	shield.Inputs = []types.TxIn{{PrevOut: types.OutPoint{TxID: pay.TxID(), Index: 1}, Sequence: types.FinalSequence}}
	ct, _, err := note.Encrypt(note.BurnAddress(), 600, note.Memo{}, nil)
	require.NoError(t, err)
	c.spent++
	action := types.Action{Nullifier: types.Nullifier{c.spent}}
	ct.Fill(&action)
	shield.Orchard = &types.OrchardBundle{
		Actions:       []types.Action{action},
		Flags:         types.OrchardFlagSpendsEnabled | types.OrchardFlagOutputsEnabled,
		ValueBalance:  -600,
		Anchor:        c.l.Root(),
		SpendAuthSigs: make([][types.SignatureSize]byte, 1),
	}
	prevOuts = []types.TxOut{pay.Outputs[1]}
	shield.Orchard.Proof, err = verifier.TranscriptProof(shield, prevOuts)
	require.NoError(t, err)
	sig, err = verifier.SignInput(shield, 0, prevOuts, c.key)
	require.NoError(t, err)
	shield.Inputs[0].ScriptSig = sig
	c.apply(t, ledger.IncludeTransaction{Tx: shield})
	c.txids = append(c.txids, shield.TxID())
}

func TestCommitAndRead(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	c := newChain(t, store)
	c.build(t)

	height, hash, ok, err := store.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	lh, lhash, _ := c.l.Tip()
	assert.Equal(t, lh, height)
	assert.Equal(t, lhash, hash)

	block, err := store.BlockByHeight(2)
	require.NoError(t, err)
	byHash, h, err := store.BlockByHash(block.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h)
	assert.Equal(t, block.Bytes(), byHash.Bytes())

	loc, err := store.Transaction(c.txids[1])
	require.NoError(t, err)
	assert.Equal(t, uint32(2), loc.Height)
	assert.Equal(t, uint32(1), loc.Index)

	_, err = store.BlockByHeight(99)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Transaction(types.Hash{0x42})
	require.True(t, IsNotFound(err))

	tree, err := store.TreeState(3)
	require.NoError(t, err)
	f, err := merkle.ParseFrontier(tree)
	require.NoError(t, err)
	assert.Equal(t, c.l.Root(), f.Root())
}

func TestAddressIndex(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	c := newChain(t, store)
	c.build(t)

	// mint pays us, the payment spends from and pays us, the shield spends from us
	txids, err := store.AddressTxIDs(c.pkh, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, c.txids, txids)

	txids, err = store.AddressTxIDs(c.pkh, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{c.txids[1]}, txids)

	txids, err = store.AddressTxIDs([20]byte{0x99}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{c.txids[1]}, txids)
}

func TestCommitBlockOrdering(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	newChain(t, store)
	genesis, err := store.BlockByHeight(0)
	require.NoError(t, err)

	require.Error(t, store.CommitBlock(0, genesis, nil))
	require.Error(t, store.CommitBlock(5, genesis, nil))
	require.Error(t, store.CommitBlock(1, genesis, nil), "prev hash must link to tip")

	empty, err := NewMemoryStore()
	require.NoError(t, err)
	defer empty.Close()
	require.Error(t, empty.CommitBlock(1, genesis, nil))
}

func TestReopenAndReplay(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLevelDBStore(dir)
	require.NoError(t, err)

	c := newChain(t, store)
	c.build(t)
	c.build(t)
	require.NoError(t, store.Close())

	reopened, err := NewLevelDBStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	replica := ledger.New(ledger.DefaultConfig(), verifier.NewProduction())
	var visited []uint32
	err = reopened.ForEachBlock(func(height uint32, block *types.Block) error {
		visited = append(visited, height)
		return replica.ReplayBlock(block)
	})
	require.NoError(t, err)
	assert.Len(t, visited, 7)
	assert.Equal(t, c.l.Snapshot(), replica.Snapshot())
}

func TestQueryHandler(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	c := newChain(t, store)
	c.build(t)
	q := NewQueryHandler(store)

	out, err := q.Query([]byte(`{"method":"tip"}`))
	require.NoError(t, err)
	var tip TipResult
	require.NoError(t, json.Unmarshal(out, &tip))
	assert.Equal(t, uint32(3), tip.Height)

	out, err = q.Query([]byte(`{"method":"block","height":1}`))
	require.NoError(t, err)
	var blk BlockResult
	require.NoError(t, json.Unmarshal(out, &blk))
	assert.Equal(t, []common.Hash{c.txids[0]}, blk.TxIDs)
	parsed, err := types.ParseBlock(blk.Raw)
	require.NoError(t, err)
	assert.Equal(t, blk.Hash, parsed.Hash())

	out, err = q.Query([]byte(fmt.Sprintf(`{"method":"block","hash":"%s"}`, blk.Hash.Hex())))
	require.NoError(t, err)
	var again BlockResult
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, uint32(1), again.Height)

	out, err = q.Query([]byte(fmt.Sprintf(`{"method":"transaction","txid":"%s"}`, c.txids[2].Hex())))
	require.NoError(t, err)
	var txr TransactionResult
	require.NoError(t, json.Unmarshal(out, &txr))
	assert.Equal(t, uint32(3), txr.Height)

	out, err = q.Query([]byte(fmt.Sprintf(`{"method":"address_txids","address":"0x%x"}`, c.pkh[:])))
	require.NoError(t, err)
	var txids []common.Hash
	require.NoError(t, json.Unmarshal(out, &txids))
	assert.Equal(t, c.txids, txids)

	out, err = q.Query([]byte(`{"method":"tree_state","height":3}`))
	require.NoError(t, err)
	var ts TreeStateResult
	require.NoError(t, json.Unmarshal(out, &ts))
	assert.Equal(t, uint64(1), ts.Size)
	assert.Equal(t, c.l.Root(), ts.Root)

	for _, bad := range []string{`not json`, `{"method":"nope"}`, `{"method":"block"}`, `{"method":"address_txids","address":"0x01"}`, `{"method":"tree_state"}`} {
		_, err := q.Query([]byte(bad))
		require.ErrorIs(t, err, czerrors.ErrMalformedQuery, bad)
	}
	_, err = q.Query([]byte(`{"method":"block","height":77}`))
	require.ErrorIs(t, err, ErrNotFound)
}
