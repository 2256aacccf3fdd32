package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/colorfulnotion/cartezcash/ledger"
	"github.com/colorfulnotion/cartezcash/note"
	"github.com/colorfulnotion/cartezcash/rollup"
	"github.com/colorfulnotion/cartezcash/storage"
	"github.com/colorfulnotion/cartezcash/telemetry"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/colorfulnotion/cartezcash/verifier"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixture struct {
	router *Router
	ledger *ledger.Ledger
	store  storage.Store
	key    *btcec.PrivateKey
	pkh    [20]byte
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	if store == nil {
		mem, err := storage.NewMemoryStore()
		require.NoError(t, err)
		t.Cleanup(func() { mem.Close() })
		store = mem
	}
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	l := ledger.New(ledger.DefaultConfig(), verifier.NewProduction())
	r := New(DefaultConfig(), l, store)
	require.NoError(t, r.Init(context.Background()))
	return &fixture{router: r, ledger: l, store: store, key: key, pkh: types.Hash160(key.PubKey().SerializeCompressed())}
}

func depositPayload(sender common.Address, wei *uint256.Int, pkh [20]byte) []byte {
	value := wei.Bytes32()
	payload := append(sender.Bytes(), value[:]...)
	return append(payload, pkh[:]...)
}

func zatoshis(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), weiPerZatoshi)
}

func advance(sender common.Address, payload []byte) *rollup.Input {
	return &rollup.Input{Metadata: &rollup.Metadata{MsgSender: sender}, Payload: payload}
}

func (f *fixture) deposit(t *testing.T, amount uint64) types.OutPoint {
	t.Helper()
	out, err := f.router.Advance(context.Background(), advance(DefaultDepositSender, depositPayload(common.Address{0xaa}, zatoshis(amount), f.pkh)))
	require.NoError(t, err)
	var n BlockNotice
	require.NoError(t, json.Unmarshal(out.Notices[0], &n))
	return types.OutPoint{TxID: n.TxIDs[0]}
}

// burnTx spends op into a single burn note carrying memo.
func (f *fixture) burnTx(t *testing.T, op types.OutPoint, value uint64, memo note.Memo) *types.Transaction {
	t.Helper()
	u, ok := f.ledger.UTXO(op)
	require.True(t, ok)
	prevOuts := []types.TxOut{{Value: u.Value, Script: u.Script}}

	ct, _, err := note.Encrypt(note.BurnAddress(), value, memo, nil)
	require.NoError(t, err)
	action := types.Action{Nullifier: types.Nullifier(crypto.Keccak256Hash(op.TxID[:]))}
	ct.Fill(&action)

	tx := types.NewTransaction()
	tx.Inputs = []types.TxIn{{PrevOut: op, Sequence: types.FinalSequence}}
	tx.Orchard = &types.OrchardBundle{
		Actions:       []types.Action{action},
		Flags:         types.OrchardFlagSpendsEnabled | types.OrchardFlagOutputsEnabled,
		ValueBalance:  -int64(value),
		Anchor:        f.ledger.Root(),
		SpendAuthSigs: make([][types.SignatureSize]byte, 1),
	}
	tx.Orchard.Proof, err = verifier.TranscriptProof(tx, prevOuts)
	require.NoError(t, err)
	tx.Inputs[0].ScriptSig, err = verifier.SignInput(tx, 0, prevOuts, f.key)
	require.NoError(t, err)
	return tx
}

func transactPayload(withdraw common.Address, tx *types.Transaction) []byte {
	return append(withdraw.Bytes(), tx.Bytes()...)
}

func TestDecodeDeposit(t *testing.T) {
	sender := common.HexToAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	pkh := [20]byte{0x01, 0x02}

	// 1 ETH is one coin
	oneEther, err := uint256.FromDecimal("1000000000000000000")
	require.NoError(t, err)
	d, err := DecodeDeposit(depositPayload(sender, oneEther, pkh))
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), d.Amount)
	assert.Equal(t, oneEther, d.Wei)

	// 22 ETH
	wei, _ := uint256.FromDecimal("22000000000000000000")
	d, err = DecodeDeposit(depositPayload(sender, wei, pkh))
	require.NoError(t, err)
	assert.Equal(t, sender, d.Sender)
	assert.Equal(t, uint64(22*100_000_000), d.Amount)
	assert.Equal(t, pkh, d.PKH)
	assert.Equal(t, types.P2PKHScript(pkh), d.Request().To)

	// sub-zatoshi wei is dropped
	d, err = DecodeDeposit(depositPayload(sender, new(uint256.Int).AddUint64(zatoshis(5), 7), pkh))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), d.Amount)
}

func TestDecodeDepositErrors(t *testing.T) {
	sender := common.Address{0x01}
	good := depositPayload(sender, zatoshis(1), [20]byte{})

	_, err := DecodeDeposit(good[:len(good)-1])
	require.ErrorIs(t, err, czerrors.ErrMalformedPayload)
	_, err = DecodeDeposit(append(good, 0x00))
	require.ErrorIs(t, err, czerrors.ErrMalformedPayload)

	for _, wei := range []*uint256.Int{
		uint256.NewInt(0),
		uint256.NewInt(WeiPerZatoshi - 1),
		zatoshis(types.MaxMoney + 1),
		new(uint256.Int).SetAllOne(),
	} {
		_, err = DecodeDeposit(depositPayload(sender, wei, [20]byte{}))
		require.ErrorIs(t, err, czerrors.ErrAmountOutOfRange, wei.Dec())
	}
}

func TestDecodeTransact(t *testing.T) {
	tx := types.NewTransaction()
	tx.Outputs = []types.TxOut{{Value: 1, Script: types.P2PKHScript([20]byte{})}}
	withdraw := common.Address{0x42}

	w, decoded, err := DecodeTransact(transactPayload(withdraw, tx))
	require.NoError(t, err)
	assert.Equal(t, withdraw, w)
	assert.Equal(t, tx.TxID(), decoded.TxID())

	_, _, err = DecodeTransact(withdraw.Bytes())
	require.ErrorIs(t, err, czerrors.ErrMalformedPayload)
	_, _, err = DecodeTransact(append(withdraw.Bytes(), 0xff, 0xff))
	require.ErrorIs(t, err, czerrors.ErrMalformedTransaction)
}

func TestEncodeWithdrawal(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data, err := EncodeWithdrawal(to, 3)
	require.NoError(t, err)

	require.Len(t, data, 4+32+32)
	assert.Equal(t, crypto.Keccak256([]byte("withdrawEther(address,uint256)"))[:4], data[:4])
	assert.Equal(t, common.LeftPadBytes(to.Bytes(), 32), data[4:36])
	assert.Equal(t, common.LeftPadBytes(big.NewInt(30_000_000_000).Bytes(), 32), data[36:])
}

func TestInitAppliesGenesisOnce(t *testing.T) {
	f := newFixture(t, nil)
	height, hash, ok, err := f.store.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0), height)
	_, lhash, _ := f.ledger.Tip()
	assert.Equal(t, lhash, hash)

	f.deposit(t, 500)

	// a fresh ledger on the same store replays instead of re-applying genesis
	l := ledger.New(ledger.DefaultConfig(), verifier.NewProduction())
	require.NoError(t, New(DefaultConfig(), l, f.store).Init(context.Background()))
	assert.Equal(t, f.ledger.Snapshot(), l.Snapshot())
}

func TestDepositMintsAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	out, err := f.router.Advance(context.Background(), advance(DefaultDepositSender, depositPayload(common.Address{0xaa}, zatoshis(1000), f.pkh)))
	require.NoError(t, err)
	assert.Empty(t, out.Vouchers)
	require.Len(t, out.Notices, 1)

	var n BlockNotice
	require.NoError(t, json.Unmarshal(out.Notices[0], &n))
	assert.Equal(t, uint32(1), n.Height)
	require.Len(t, n.TxIDs, 1)
	assert.Empty(t, n.Burns)

	u, ok := f.ledger.UTXO(types.OutPoint{TxID: n.TxIDs[0]})
	require.True(t, ok)
	assert.Equal(t, uint64(1000), u.Value)

	loc, err := f.store.Transaction(n.TxIDs[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(1), loc.Height)

	oneEther, err := uint256.FromDecimal("1000000000000000000")
	require.NoError(t, err)
	out, err = f.router.Advance(context.Background(), advance(DefaultDepositSender, depositPayload(common.Address{0xaa}, oneEther, f.pkh)))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out.Notices[0], &n))
	u, ok = f.ledger.UTXO(types.OutPoint{TxID: n.TxIDs[0]})
	require.True(t, ok)
	assert.Equal(t, uint64(100_000_000), u.Value)
}

func TestUnrecognizedSenderRejected(t *testing.T) {
	f := newFixture(t, nil)
	before := f.ledger.Snapshot()
	_, err := f.router.Advance(context.Background(), advance(common.Address{0x05}, depositPayload(common.Address{}, zatoshis(1), f.pkh)))
	require.ErrorIs(t, err, czerrors.ErrUnrecognizedSender)
	assert.Equal(t, czerrors.ClassValidation, czerrors.ClassOf(err))
	assert.Equal(t, before, f.ledger.Snapshot())

	height, _, _, err := f.store.Tip()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), height)
}

func TestBurnProducesVoucher(t *testing.T) {
	f := newFixture(t, nil)
	withdraw := common.HexToAddress("0x2222222222222222222222222222222222222222")
	memoAddr := common.HexToAddress("0x3333333333333333333333333333333333333333")

	tests := []struct {
		name string
		memo note.Memo
		want common.Address
	}{
		{"memo address", note.MemoFromAddress(memoAddr), memoAddr},
		{"empty memo falls back to withdraw address", note.Memo{}, withdraw},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			op := f.deposit(t, 1000)
			tx := f.burnTx(t, op, 900, tc.memo)

			out, err := f.router.Advance(context.Background(), advance(DefaultInboxSender, transactPayload(withdraw, tx)))
			require.NoError(t, err)
			require.Len(t, out.Vouchers, 1)
			assert.Equal(t, DefaultBridge, out.Vouchers[0].Destination)
			want, err := EncodeWithdrawal(tc.want, 900)
			require.NoError(t, err)
			assert.Equal(t, want, []byte(out.Vouchers[0].Payload))

			var n BlockNotice
			require.NoError(t, json.Unmarshal(out.Notices[0], &n))
			assert.Equal(t, []BurnNotice{{Amount: 900, Recipient: tc.want}}, n.Burns)
			assert.Equal(t, tx.TxID(), n.TxIDs[1])
		})
	}
}

func TestTransactRejectionLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, nil)
	op := f.deposit(t, 1000)
	tx := f.burnTx(t, op, 900, note.Memo{})
	tx.Orchard.Proof[0] ^= 0xff

	_, err := f.router.Advance(context.Background(), advance(DefaultInboxSender, transactPayload(common.Address{}, tx)))
	require.ErrorIs(t, err, czerrors.ErrShieldedProofInvalid)

	height, _, _, err := f.store.Tip()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), height)

	_, err = f.router.Advance(context.Background(), advance(DefaultInboxSender, []byte("short")))
	require.ErrorIs(t, err, czerrors.ErrMalformedPayload)
}

func TestInspectForwardsQuery(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, 10)

	query := []byte(`{"method":"tip"}`)
	out, err := f.router.Route(context.Background(), &rollup.Input{Payload: query})
	require.NoError(t, err)
	require.Len(t, out.Reports, 1)
	want, err := storage.NewQueryHandler(f.store).Query(query)
	require.NoError(t, err)
	assert.Equal(t, want, out.Reports[0])
	assert.Empty(t, out.Notices)

	_, err = f.router.Inspect(context.Background(), &rollup.Input{Payload: []byte("{")})
	require.ErrorIs(t, err, czerrors.ErrMalformedQuery)
}

// failingStore accepts genesis and fails every later commit.
type failingStore struct {
	storage.Store
}

func (s *failingStore) CommitBlock(height uint32, block *types.Block, treeState []byte) error {
	if height == 0 {
		return s.Store.CommitBlock(height, block, treeState)
	}
	return errors.New("disk full")
}

func TestStoreFailureIsFatal(t *testing.T) {
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	defer mem.Close()
	f := newFixture(t, &failingStore{Store: mem})

	_, err = f.router.Advance(context.Background(), advance(DefaultDepositSender, depositPayload(common.Address{}, zatoshis(5), f.pkh)))
	require.ErrorIs(t, err, czerrors.ErrPersistDivergence)
	assert.True(t, czerrors.IsFatal(err))
}

func TestAdvanceRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	client := telemetry.NewSyncTelemetryClient(exporter)

	f := newFixture(t, nil)
	f.router.SetTracer(client.Tracer("test"))
	f.deposit(t, 1)

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{telemetry.SpanCommitBlock, telemetry.SpanRoute}, names)
}

func TestVoucherPayloadIsDeterministic(t *testing.T) {
	a, err := EncodeWithdrawal(common.Address{0x01}, types.MaxMoney)
	require.NoError(t, err)
	b, err := EncodeWithdrawal(common.Address{0x01}, types.MaxMoney)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}
