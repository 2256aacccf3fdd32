// Package storage persists accepted blocks and serves the read-only queries
// the rollup's inspect requests are forwarded to.
package storage

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/colorfulnotion/cartezcash/log"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the persisted chain history.
type Store interface {
	// CommitBlock stores block as the new tip at height together with the
	// commitment tree state after it. Heights must be consecutive from 0.
	CommitBlock(height uint32, block *types.Block, treeState []byte) error
	Tip() (height uint32, hash types.Hash, ok bool, err error)
	BlockByHeight(height uint32) (*types.Block, error)
	BlockByHash(hash types.Hash) (*types.Block, uint32, error)
	Transaction(txid types.Hash) (*TxLocation, error)
	// AddressTxIDs lists the transactions paying to or spending from the
	// P2PKH key hash pkh in heights [start, end].
	AddressTxIDs(pkh [20]byte, start, end uint32) ([]types.Hash, error)
	TreeState(height uint32) ([]byte, error)
	// ForEachBlock visits every block from genesis to tip in order.
	ForEachBlock(fn func(height uint32, block *types.Block) error) error
	Close() error
}

// TxLocation is a stored transaction and where it was mined.
type TxLocation struct {
	Height uint32
	Index  uint32
	Tx     *types.Transaction
}

// Key layout
//
//	tip                              -> height:4 || hash:32
//	blkh_<height:010d>               -> block hash
//	blk_<hash hex>                   -> height:4 || block bytes
//	tx_<txid hex>                    -> height:4 || index:4 || tx bytes
//	addr_<pkh hex>_<height:010d>_<txid hex> -> empty
//	tree_<height:010d>               -> frontier bytes
var keyTip = []byte("tip")

func blockHeightKey(height uint32) []byte { return []byte(fmt.Sprintf("blkh_%010d", height)) }
func blockKey(hash types.Hash) []byte    { return []byte("blk_" + hex.EncodeToString(hash[:])) }
func txKey(txid types.Hash) []byte       { return []byte("tx_" + hex.EncodeToString(txid[:])) }
func treeKey(height uint32) []byte       { return []byte(fmt.Sprintf("tree_%010d", height)) }

func addrPrefix(pkh [20]byte) string { return "addr_" + hex.EncodeToString(pkh[:]) + "_" }

func addrKey(pkh [20]byte, height uint32, txid types.Hash) []byte {
	return []byte(fmt.Sprintf("%s%010d_%s", addrPrefix(pkh), height, hex.EncodeToString(txid[:])))
}

// LevelDBStore implements Store on a PersistenceStore.
type LevelDBStore struct {
	ps *PersistenceStore
}

// NewLevelDBStore opens the chain store at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	ps, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{ps: ps}, nil
}

// NewMemoryStore creates a chain store on in-memory LevelDB storage.
func NewMemoryStore() (*LevelDBStore, error) {
	return NewLevelDBStore("")
}

func (s *LevelDBStore) Close() error {
	return s.ps.Close()
}

func (s *LevelDBStore) CommitBlock(height uint32, block *types.Block, treeState []byte) error {
	tipHeight, tipHash, ok, err := s.Tip()
	if err != nil {
		return err
	}
	switch {
	case !ok && height != 0:
		return fmt.Errorf("commit block %d on empty store", height)
	case ok && height != tipHeight+1:
		return fmt.Errorf("commit block %d on tip %d", height, tipHeight)
	case ok && block.Header.PrevHash != tipHash:
		return fmt.Errorf("block %s does not extend tip %s", block.Hash(), tipHash)
	}

	hash := block.Hash()
	batch := new(leveldb.Batch)
	batch.Put(blockHeightKey(height), hash[:])
	batch.Put(blockKey(hash), append(binary.BigEndian.AppendUint32(nil, height), block.Bytes()...))
	batch.Put(treeKey(height), treeState)

	// outputs created earlier in this block are not yet readable from the db
	created := make(map[types.OutPoint][]byte)
	for i, tx := range block.Transactions {
		txid := tx.TxID()
		val := binary.BigEndian.AppendUint32(nil, height)
		val = binary.BigEndian.AppendUint32(val, uint32(i))
		batch.Put(txKey(txid), append(val, tx.Bytes()...))

		touched := make(map[[20]byte]struct{})
		for j, out := range tx.Outputs {
			created[types.OutPoint{TxID: txid, Index: uint32(j)}] = out.Script
			if pkh, ok := types.P2PKHHash(out.Script); ok {
				touched[pkh] = struct{}{}
			}
		}
		if !tx.IsCoinbase() {
			for _, in := range tx.Inputs {
				script, ok := created[in.PrevOut]
				if !ok {
					if script, err = s.outputScript(in.PrevOut); err != nil {
						return fmt.Errorf("index input of %s: %w", txid, err)
					}
				}
				if pkh, ok := types.P2PKHHash(script); ok {
					touched[pkh] = struct{}{}
				}
			}
		}
		for pkh := range touched {
			batch.Put(addrKey(pkh, height, txid), nil)
		}
	}
	batch.Put(keyTip, append(binary.BigEndian.AppendUint32(nil, height), hash[:]...))

	if err := s.ps.Write(batch); err != nil {
		return fmt.Errorf("write block %d: %w", height, err)
	}
	log.Debug(log.Store, "block committed", "height", height, "hash", hash, "txs", len(block.Transactions))
	return nil
}

func (s *LevelDBStore) outputScript(op types.OutPoint) ([]byte, error) {
	loc, err := s.Transaction(op.TxID)
	if err != nil {
		return nil, err
	}
	if int(op.Index) >= len(loc.Tx.Outputs) {
		return nil, fmt.Errorf("%w: output %s:%d", ErrNotFound, op.TxID, op.Index)
	}
	return loc.Tx.Outputs[op.Index].Script, nil
}

func (s *LevelDBStore) Tip() (uint32, types.Hash, bool, error) {
	data, ok, err := s.ps.Get(keyTip)
	if err != nil || !ok {
		return 0, types.Hash{}, false, err
	}
	if len(data) != 36 {
		return 0, types.Hash{}, false, fmt.Errorf("corrupt tip record: %d bytes", len(data))
	}
	return binary.BigEndian.Uint32(data[:4]), common.BytesToHash(data[4:]), true, nil
}

func (s *LevelDBStore) BlockByHeight(height uint32) (*types.Block, error) {
	data, ok, err := s.ps.Get(blockHeightKey(height))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: block at height %d", ErrNotFound, height)
	}
	block, _, err := s.BlockByHash(common.BytesToHash(data))
	return block, err
}

func (s *LevelDBStore) BlockByHash(hash types.Hash) (*types.Block, uint32, error) {
	data, ok, err := s.ps.Get(blockKey(hash))
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: block %s", ErrNotFound, hash)
	}
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("corrupt block record %s", hash)
	}
	block, err := types.ParseBlock(data[4:])
	if err != nil {
		return nil, 0, fmt.Errorf("decode block %s: %w", hash, err)
	}
	return block, binary.BigEndian.Uint32(data[:4]), nil
}

func (s *LevelDBStore) Transaction(txid types.Hash) (*TxLocation, error) {
	data, ok, err := s.ps.Get(txKey(txid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txid)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("corrupt transaction record %s", txid)
	}
	tx, err := types.ParseTransaction(data[8:])
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", txid, err)
	}
	return &TxLocation{
		Height: binary.BigEndian.Uint32(data[:4]),
		Index:  binary.BigEndian.Uint32(data[4:8]),
		Tx:     tx,
	}, nil
}

func (s *LevelDBStore) AddressTxIDs(pkh [20]byte, start, end uint32) ([]types.Hash, error) {
	if end < start {
		return nil, nil
	}
	prefix := addrPrefix(pkh)
	from := []byte(fmt.Sprintf("%s%010d", prefix, start))
	limit := []byte(fmt.Sprintf("%s%010d", prefix, uint64(end)+1))
	pairs, err := s.ps.GetRange(from, limit)
	if err != nil {
		return nil, err
	}
	txids := make([]types.Hash, 0, len(pairs))
	for _, kv := range pairs {
		// <prefix><height:10>_<txid:64>
		raw, err := hex.DecodeString(string(kv[0][len(prefix)+11:]))
		if err != nil {
			return nil, fmt.Errorf("corrupt address index key %s: %w", kv[0], err)
		}
		txids = append(txids, common.BytesToHash(raw))
	}
	return txids, nil
}

func (s *LevelDBStore) TreeState(height uint32) ([]byte, error) {
	data, ok, err := s.ps.Get(treeKey(height))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: tree state at height %d", ErrNotFound, height)
	}
	return data, nil
}

func (s *LevelDBStore) ForEachBlock(fn func(height uint32, block *types.Block) error) error {
	tip, _, ok, err := s.Tip()
	if err != nil || !ok {
		return err
	}
	for h := uint32(0); h <= tip; h++ {
		block, err := s.BlockByHeight(h)
		if err != nil {
			return err
		}
		if err := fn(h, block); err != nil {
			return err
		}
	}
	return nil
}
