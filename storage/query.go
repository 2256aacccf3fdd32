package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/colorfulnotion/cartezcash/merkle"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Query methods
const (
	MethodTip          = "tip"
	MethodBlock        = "block"
	MethodTransaction  = "transaction"
	MethodAddressTxIDs = "address_txids"
	MethodTreeState    = "tree_state"
)

// Query is the JSON body of an inspect request.
type Query struct {
	Method  string        `json:"method"`
	Height  *uint32       `json:"height,omitempty"`
	Hash    *common.Hash  `json:"hash,omitempty"`
	TxID    *common.Hash  `json:"txid,omitempty"`
	Address hexutil.Bytes `json:"address,omitempty"`
	Start   uint32        `json:"start,omitempty"`
	End     uint32        `json:"end,omitempty"`
}

type TipResult struct {
	Height uint32      `json:"height"`
	Hash   common.Hash `json:"hash"`
}

type BlockResult struct {
	Height     uint32        `json:"height"`
	Hash       common.Hash   `json:"hash"`
	PrevHash   common.Hash   `json:"prev_hash"`
	MerkleRoot common.Hash   `json:"merkle_root"`
	TxIDs      []common.Hash `json:"txids"`
	Raw        hexutil.Bytes `json:"raw"`
}

type TransactionResult struct {
	Height uint32        `json:"height"`
	Index  uint32        `json:"index"`
	Raw    hexutil.Bytes `json:"raw"`
}

type TreeStateResult struct {
	Height   uint32        `json:"height"`
	Size     uint64        `json:"size"`
	Root     common.Hash   `json:"root"`
	Frontier hexutil.Bytes `json:"frontier"`
}

// QueryHandler answers read-only queries against a Store.
type QueryHandler struct {
	store Store
}

func NewQueryHandler(store Store) *QueryHandler {
	return &QueryHandler{store: store}
}

// Query decodes payload as a Query and returns the JSON encoded result.
// Undecodable queries wrap czerrors.ErrMalformedQuery; missing data wraps ErrNotFound.
func (h *QueryHandler) Query(payload []byte) ([]byte, error) {
	var q Query
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("%w: %v", czerrors.ErrMalformedQuery, err)
	}
	result, err := h.run(&q)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (h *QueryHandler) run(q *Query) (interface{}, error) {
	switch q.Method {
	case MethodTip:
		height, hash, ok, err := h.store.Tip()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: empty chain", ErrNotFound)
		}
		return &TipResult{Height: height, Hash: hash}, nil

	case MethodBlock:
		var block *types.Block
		var height uint32
		var err error
		switch {
		case q.Hash != nil:
			block, height, err = h.store.BlockByHash(*q.Hash)
		case q.Height != nil:
			height = *q.Height
			block, err = h.store.BlockByHeight(height)
		default:
			return nil, fmt.Errorf("%w: block query needs height or hash", czerrors.ErrMalformedQuery)
		}
		if err != nil {
			return nil, err
		}
		return &BlockResult{
			Height:     height,
			Hash:       block.Hash(),
			PrevHash:   block.Header.PrevHash,
			MerkleRoot: block.Header.MerkleRoot,
			TxIDs:      block.TxIDs(),
			Raw:        block.Bytes(),
		}, nil

	case MethodTransaction:
		if q.TxID == nil {
			return nil, fmt.Errorf("%w: transaction query needs txid", czerrors.ErrMalformedQuery)
		}
		loc, err := h.store.Transaction(*q.TxID)
		if err != nil {
			return nil, err
		}
		return &TransactionResult{Height: loc.Height, Index: loc.Index, Raw: loc.Tx.Bytes()}, nil

	case MethodAddressTxIDs:
		if len(q.Address) != 20 {
			return nil, fmt.Errorf("%w: address must be a 20-byte key hash", czerrors.ErrMalformedQuery)
		}
		var pkh [20]byte
		copy(pkh[:], q.Address)
		end := q.End
		if end == 0 {
			tip, _, ok, err := h.store.Tip()
			if err != nil {
				return nil, err
			}
			if ok {
				end = tip
			}
		}
		txids, err := h.store.AddressTxIDs(pkh, q.Start, end)
		if err != nil {
			return nil, err
		}
		if txids == nil {
			txids = []common.Hash{}
		}
		return txids, nil

	case MethodTreeState:
		if q.Height == nil {
			return nil, fmt.Errorf("%w: tree_state query needs height", czerrors.ErrMalformedQuery)
		}
		data, err := h.store.TreeState(*q.Height)
		if err != nil {
			return nil, err
		}
		frontier, err := merkle.ParseFrontier(data)
		if err != nil {
			return nil, fmt.Errorf("decode tree state at %d: %w", *q.Height, err)
		}
		return &TreeStateResult{Height: *q.Height, Size: frontier.Size(), Root: frontier.Root(), Frontier: data}, nil

	default:
		return nil, fmt.Errorf("%w: unknown method %q", czerrors.ErrMalformedQuery, q.Method)
	}
}

// IsNotFound reports whether err means the queried item does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
