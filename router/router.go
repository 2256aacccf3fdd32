// Package router classifies rollup inputs, turns them into ledger requests
// and maps accepted blocks to rollup outputs.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/colorfulnotion/cartezcash/ledger"
	log "github.com/colorfulnotion/cartezcash/log"
	"github.com/colorfulnotion/cartezcash/rollup"
	"github.com/colorfulnotion/cartezcash/storage"
	"github.com/colorfulnotion/cartezcash/telemetry"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Well-known host-chain addresses
var (
	DefaultDepositSender = common.HexToAddress("0xffdbe43d4c855bf7e0f105c400a50857f53ab044")
	DefaultInboxSender   = common.HexToAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	DefaultBridge        = common.HexToAddress("0x70ac08179605AF2D9e75782b8DEcDD3c22aA4D0C")
)

type Config struct {
	DepositSender common.Address
	InboxSender   common.Address
	// Bridge is the destination of every withdrawal voucher.
	Bridge common.Address
}

func DefaultConfig() Config {
	return Config{
		DepositSender: DefaultDepositSender,
		InboxSender:   DefaultInboxSender,
		Bridge:        DefaultBridge,
	}
}

// Router implements rollup.Handler on top of a ledger and its store.
type Router struct {
	cfg    Config
	ledger *ledger.Ledger
	store  storage.Store
	query  *storage.QueryHandler
	tracer trace.Tracer
}

func New(cfg Config, l *ledger.Ledger, store storage.Store) *Router {
	return &Router{
		cfg:    cfg,
		ledger: l,
		store:  store,
		query:  storage.NewQueryHandler(store),
		tracer: telemetry.Tracer("router"),
	}
}

// SetTracer replaces the tracer taken from the global provider at New.
func (r *Router) SetTracer(t trace.Tracer) {
	r.tracer = t
}

// Init brings the ledger to the store's tip, replaying every stored block, or
// applies and stores genesis when the store is empty.
func (r *Router) Init(ctx context.Context) error {
	_, _, ok, err := r.store.Tip()
	if err != nil {
		return fmt.Errorf("%w: read tip: %v", czerrors.ErrPersistDivergence, err)
	}
	if ok {
		err := r.store.ForEachBlock(func(height uint32, block *types.Block) error {
			return r.ledger.ReplayBlock(block)
		})
		if err != nil {
			return fmt.Errorf("%w: replay: %v", czerrors.ErrPersistDivergence, err)
		}
		height, hash, _ := r.ledger.Tip()
		log.Info(log.Router, "ledger restored", "height", height, "hash", hash)
		return nil
	}
	resp, err := r.ledger.Apply(ctx, ledger.Genesis{})
	if err != nil {
		return err
	}
	return r.commit(ctx, resp)
}

// Route dispatches in as an inspect when it carries no metadata and as an
// advance otherwise.
func (r *Router) Route(ctx context.Context, in *rollup.Input) (*rollup.Output, error) {
	if in.Metadata == nil {
		return r.Inspect(ctx, in)
	}
	return r.Advance(ctx, in)
}

// Advance decodes a deposit or a transaction by sender and applies it.
func (r *Router) Advance(ctx context.Context, in *rollup.Input) (out *rollup.Output, err error) {
	if in.Metadata == nil {
		return nil, fmt.Errorf("%w: advance without metadata", czerrors.ErrMalformedPayload)
	}
	sender := in.Metadata.MsgSender
	ctx, span := r.tracer.Start(ctx, telemetry.SpanRoute, trace.WithAttributes(
		attribute.String("sender", sender.Hex()),
		attribute.Int("payload_len", len(in.Payload)),
	))
	defer func() { telemetry.End(span, err) }()

	var req ledger.Request
	var withdraw common.Address
	switch sender {
	case r.cfg.DepositSender:
		d, err := DecodeDeposit(in.Payload)
		if err != nil {
			return nil, err
		}
		log.Debug(log.Router, "deposit", "from", d.Sender, "wei", d.Wei.Dec(), "amount", d.Amount)
		req = d.Request()
	case r.cfg.InboxSender:
		w, tx, err := DecodeTransact(in.Payload)
		if err != nil {
			return nil, err
		}
		log.Debug(log.Router, "transact", "txid", tx.TxID(), "withdraw", w)
		req, withdraw = ledger.IncludeTransaction{Tx: tx}, w
	default:
		return nil, fmt.Errorf("%w: %s", czerrors.ErrUnrecognizedSender, sender)
	}

	resp, err := r.ledger.Apply(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := r.commit(ctx, resp); err != nil {
		return nil, err
	}

	vouchers, err := r.vouchers(resp.Burns, withdraw)
	if err != nil {
		// the block is already committed, so an unencodable voucher would be lost
		return nil, fmt.Errorf("%w: %v", czerrors.ErrPersistDivergence, err)
	}
	notice, err := json.Marshal(summarize(resp, withdraw))
	if err != nil {
		return nil, fmt.Errorf("%w: encode notice: %v", czerrors.ErrPersistDivergence, err)
	}
	return &rollup.Output{Vouchers: vouchers, Notices: [][]byte{notice}}, nil
}

// Inspect forwards the payload to the store's query handler and returns the
// answer as a single report.
func (r *Router) Inspect(ctx context.Context, in *rollup.Input) (*rollup.Output, error) {
	result, err := r.query.Query(in.Payload)
	if err != nil {
		return nil, err
	}
	return &rollup.Output{Reports: [][]byte{result}}, nil
}

func (r *Router) commit(ctx context.Context, resp *ledger.Response) (err error) {
	_, span := r.tracer.Start(ctx, telemetry.SpanCommitBlock, trace.WithAttributes(attribute.Int64("height", int64(resp.Height))))
	defer func() { telemetry.End(span, err) }()

	if err := r.store.CommitBlock(resp.Height, resp.Block, resp.TreeState); err != nil {
		return fmt.Errorf("%w: block %d %s: %v", czerrors.ErrPersistDivergence, resp.Height, resp.Hash, err)
	}
	return nil
}

// BlockNotice is the JSON notice emitted for every accepted advance.
type BlockNotice struct {
	Height uint32        `json:"height"`
	Hash   common.Hash   `json:"hash"`
	TxIDs  []common.Hash `json:"txids"`
	Burns  []BurnNotice  `json:"burns"`
}

type BurnNotice struct {
	Amount    uint64         `json:"amount"`
	Recipient common.Address `json:"recipient"`
}

func summarize(resp *ledger.Response, withdraw common.Address) *BlockNotice {
	n := &BlockNotice{
		Height: resp.Height,
		Hash:   resp.Hash,
		TxIDs:  resp.Block.TxIDs(),
		Burns:  make([]BurnNotice, 0, len(resp.Burns)),
	}
	for _, b := range resp.Burns {
		n.Burns = append(n.Burns, BurnNotice{Amount: b.Amount, Recipient: recipient(b, withdraw)})
	}
	return n
}
