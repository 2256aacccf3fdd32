// Package ledger is the deterministic state machine behind the rollup: it owns
// the chain tip, the UTXO set, the nullifier set and the note commitment
// tree, and applies one request at a time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/colorfulnotion/cartezcash/builder"
	"github.com/colorfulnotion/cartezcash/czerrors"
	log "github.com/colorfulnotion/cartezcash/log"
	"github.com/colorfulnotion/cartezcash/merkle"
	"github.com/colorfulnotion/cartezcash/note"
	"github.com/colorfulnotion/cartezcash/telemetry"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/colorfulnotion/cartezcash/verifier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/cartezcash/ledger"

type Config struct {
	// RootWindow is how many recent commitment tree roots are valid anchors.
	RootWindow int
	// VerifyTimeout bounds each verifier call. Zero means no bound.
	VerifyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RootWindow:    merkle.DefaultRootWindow,
		VerifyTimeout: 10 * time.Second,
	}
}

// Ledger applies requests to its state. Apply calls must not overlap; an
// overlapping call fails with czerrors.ErrConcurrentApply. The read accessors
// are safe to call at any time.
type Ledger struct {
	cfg      Config
	verifier verifier.Verifier
	tracer   trace.Tracer

	applyMu sync.Mutex   // held for the whole of Apply
	mu      sync.RWMutex // guards state against readers
	state   *state
}

func New(cfg Config, v verifier.Verifier) *Ledger {
	return &Ledger{
		cfg:      cfg,
		verifier: v,
		tracer:   telemetry.Tracer(tracerName),
		state:    newState(cfg.RootWindow),
	}
}

// SetTracer replaces the tracer taken from the global provider at New.
func (l *Ledger) SetTracer(t trace.Tracer) {
	l.tracer = t
}

// Apply builds, checks and commits the block for req. On any error the state
// is exactly as before the call.
func (l *Ledger) Apply(ctx context.Context, req Request) (resp *Response, err error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", czerrors.ErrInvalidTransaction)
	}
	if !l.applyMu.TryLock() {
		return nil, czerrors.ErrConcurrentApply
	}
	defer l.applyMu.Unlock()

	ctx, span := l.tracer.Start(ctx, telemetry.SpanApply, trace.WithAttributes(attribute.String("request", req.Kind())))
	defer func() {
		if resp != nil {
			span.SetAttributes(attribute.Int64("height", int64(resp.Height)), attribute.String("hash", resp.Hash.Hex()))
		}
		telemetry.End(span, err)
	}()

	switch r := req.(type) {
	case Genesis:
		resp, err = l.applyGenesis()
	case Mint:
		resp, err = l.applyMint(r)
	case IncludeTransaction:
		resp, err = l.applyTransaction(ctx, r.Tx)
	default:
		err = fmt.Errorf("%w: unknown request %T", czerrors.ErrInvalidTransaction, req)
	}
	if err != nil {
		log.Debug(log.Ledger, "request rejected", "kind", req.Kind(), "err", err)
		return nil, err
	}
	log.Info(log.Ledger, "block accepted", "kind", req.Kind(), "height", resp.Height, "hash", resp.Hash, "txs", len(resp.Block.Transactions), "burns", len(resp.Burns))
	return resp, nil
}

func (l *Ledger) applyGenesis() (*Response, error) {
	if l.state.hasTip {
		return nil, czerrors.ErrGenesisAlreadyApplied
	}
	block := builder.GenesisBlock()
	p, err := l.plan(block, 0)
	if err != nil {
		return nil, err
	}
	return l.commit(p), nil
}

func (l *Ledger) applyMint(m Mint) (*Response, error) {
	height, prev, err := l.next()
	if err != nil {
		return nil, err
	}
	if m.Amount == 0 || m.Amount > types.MaxMoney {
		return nil, fmt.Errorf("%w: mint amount %d", czerrors.ErrInvalidTransaction, m.Amount)
	}
	if len(m.To) == 0 || len(m.To) > types.MaxScript {
		return nil, fmt.Errorf("%w: mint script length %d", czerrors.ErrInvalidTransaction, len(m.To))
	}
	if types.IsUnspendable(m.To) {
		return nil, fmt.Errorf("%w: mint to unspendable script", czerrors.ErrInvalidTransaction)
	}
	block := builder.MintBlock(height, prev, m.Amount, m.To)
	p, err := l.plan(block, height)
	if err != nil {
		return nil, err
	}
	return l.commit(p), nil
}

func (l *Ledger) applyTransaction(ctx context.Context, tx *types.Transaction) (*Response, error) {
	height, prev, err := l.next()
	if err != nil {
		return nil, err
	}
	if err := checkStructure(tx, height); err != nil {
		return nil, err
	}
	prevOuts, err := l.resolveInputs(tx)
	if err != nil {
		return nil, err
	}
	if err := l.checkNullifiers(tx); err != nil {
		return nil, err
	}
	if err := l.checkAnchor(tx); err != nil {
		return nil, err
	}
	if err := checkValueBalance(tx, prevOuts); err != nil {
		return nil, err
	}

	block := builder.TransactBlock(height, prev, tx)
	p, err := l.plan(block, height)
	if err != nil {
		return nil, err
	}
	if err := l.verify(ctx, tx, prevOuts, height); err != nil {
		return nil, err
	}

	return l.commit(p), nil
}

// next returns the height and previous hash of the block to build.
func (l *Ledger) next() (uint32, types.Hash, error) {
	if !l.state.hasTip {
		return 0, types.Hash{}, czerrors.ErrNoGenesis
	}
	return l.state.height + 1, l.state.hash, nil
}

func (l *Ledger) verify(ctx context.Context, tx *types.Transaction, prevOuts []types.TxOut, height uint32) (err error) {
	ctx, span := l.tracer.Start(ctx, telemetry.SpanVerify, trace.WithAttributes(attribute.String("txid", tx.TxID().Hex())))
	defer func() { telemetry.End(span, err) }()

	if l.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.VerifyTimeout)
		defer cancel()
	}
	err = l.verifier.Verify(ctx, &verifier.Request{Tx: tx, PrevOuts: prevOuts, Height: height})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, czerrors.ErrScriptVerificationFailed),
		errors.Is(err, czerrors.ErrShieldedProofInvalid),
		errors.Is(err, czerrors.ErrVerifierUnavailable):
		return err
	default:
		err = fmt.Errorf("%w: %v", czerrors.ErrVerifierUnavailable, err)
		return err
	}
}

// blockPlan is everything commit needs, computed without touching state.
type blockPlan struct {
	block    *types.Block
	height   uint32
	hash     types.Hash
	frontier *merkle.Frontier // nil when the block adds no commitments
	pool     uint64
	minted   uint64
	burns    []note.BurnRecord
	burned   uint64
}

func (l *Ledger) plan(block *types.Block, height uint32) (*blockPlan, error) {
	p := &blockPlan{
		block:  block,
		height: height,
		hash:   block.Hash(),
		pool:   l.state.shieldedPool,
		minted: l.state.minted,
		burned: l.state.burned,
	}
	var commitments []types.Hash
	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			for _, out := range tx.Outputs {
				minted, err := addUint64(p.minted, out.Value)
				if err != nil {
					return nil, fmt.Errorf("%w: minted supply: %v", czerrors.ErrInvalidTransaction, err)
				}
				p.minted = minted
			}
		}
		if tx.Orchard == nil {
			continue
		}
		commitments = append(commitments, tx.NoteCommitments()...)
		vb := tx.Orchard.ValueBalance
		if vb < 0 {
			p.pool += uint64(-vb)
		} else if uint64(vb) > p.pool {
			return nil, fmt.Errorf("%w: shielded pool %d cannot release %d", czerrors.ErrValueBalance, p.pool, vb)
		} else {
			p.pool -= uint64(vb)
		}
		if err := p.burn(note.ExtractBurns(tx.Actions())); err != nil {
			return nil, err
		}
	}
	if len(commitments) > 0 {
		p.frontier = l.state.frontier.Copy()
		if err := p.frontier.AppendBatch(commitments); err != nil {
			return nil, fmt.Errorf("%w: %v", czerrors.ErrInvalidTransaction, err)
		}
	}
	return p, nil
}

// burn releases burns from the shielded pool. Burned notes are withdrawn to
// the host chain and can never be spent here, so their value must already be
// in the pool and leaves it for good.
func (p *blockPlan) burn(burns []note.BurnRecord) error {
	var total uint64
	for _, b := range burns {
		var err error
		if total, err = addUint64(total, b.Amount); err != nil {
			return fmt.Errorf("%w: burn total: %v", czerrors.ErrValueBalance, err)
		}
	}
	if total > p.pool {
		return fmt.Errorf("%w: burns of %d exceed shielded pool %d", czerrors.ErrValueBalance, total, p.pool)
	}
	p.pool -= total
	p.burned += total
	p.burns = append(p.burns, burns...)
	return nil
}

// commit applies a plan. It cannot fail.
func (l *Ledger) commit(p *blockPlan) *Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state
	genesis := !s.hasTip
	for _, tx := range p.block.Transactions {
		txid := tx.TxID()
		coinbase := tx.IsCoinbase()
		if !coinbase {
			for _, in := range tx.Inputs {
				delete(s.utxos, in.PrevOut)
			}
		}
		for i, out := range tx.Outputs {
			if types.IsUnspendable(out.Script) {
				continue
			}
			s.utxos[types.OutPoint{TxID: txid, Index: uint32(i)}] = types.Utxo{
				Value:      out.Value,
				Script:     out.Script,
				Height:     p.height,
				IsCoinbase: coinbase,
			}
		}
		for _, nf := range tx.Nullifiers() {
			s.nullifiers[nf] = struct{}{}
		}
	}
	if p.frontier != nil {
		s.frontier = p.frontier
		s.roots.Push(s.frontier.Root())
	} else if genesis {
		s.roots.Push(s.frontier.Root())
	}
	s.shieldedPool = p.pool
	s.minted = p.minted
	s.burned = p.burned
	s.hasTip = true
	s.height = p.height
	s.hash = p.hash

	return &Response{
		Block:     p.block,
		Height:    p.height,
		Hash:      p.hash,
		Burns:     p.burns,
		TreeState: s.frontier.Bytes(),
	}
}

// ReplayBlock commits a block from persisted history without verification.
// Blocks must be replayed in height order starting from genesis.
func (l *Ledger) ReplayBlock(block *types.Block) error {
	if !l.applyMu.TryLock() {
		return czerrors.ErrConcurrentApply
	}
	defer l.applyMu.Unlock()

	var height uint32
	if !l.state.hasTip {
		if block.Hash() != builder.GenesisBlock().Hash() {
			return fmt.Errorf("replay: first block %s is not genesis", block.Hash())
		}
	} else {
		if block.Header.PrevHash != l.state.hash {
			return fmt.Errorf("replay: block %s does not extend tip %s", block.Hash(), l.state.hash)
		}
		height = l.state.height + 1
	}
	if len(block.Transactions) == 0 || !block.Transactions[0].IsCoinbase() {
		return fmt.Errorf("replay: block %s has no coinbase", block.Hash())
	}
	p, err := l.plan(block, height)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	l.commit(p)
	return nil
}

// Tip returns the current height and hash; ok is false before genesis.
func (l *Ledger) Tip() (height uint32, hash types.Hash, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.height, l.state.hash, l.state.hasTip
}

func (l *Ledger) UTXO(op types.OutPoint) (types.Utxo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.state.utxos[op]
	return u, ok
}

func (l *Ledger) HasNullifier(nf types.Nullifier) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.state.nullifiers[nf]
	return ok
}

// Root returns the current commitment tree root.
func (l *Ledger) Root() types.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.frontier.Root()
}

// TreeState returns the serialized commitment frontier.
func (l *Ledger) TreeState() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.frontier.Bytes()
}

// Roots returns the anchors currently accepted, oldest first.
func (l *Ledger) Roots() []types.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.roots.Roots()
}

func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.snapshot()
}
