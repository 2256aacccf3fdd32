package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// BlockVersion is the header version of every block the ledger builds.
const BlockVersion = 5

const maxBlockTransactions = 1 << 16

// Header is a Zcash-shaped block header. Only PrevHash and MerkleRoot vary;
// the proof-of-work fields stay at their zero values.
type Header struct {
	Version          uint32
	PrevHash         Hash
	MerkleRoot       Hash
	BlockCommitments Hash
	Time             uint32
	Bits             uint32
	Nonce            [32]byte
	Solution         []byte
}

// Bytes serializes the header.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 4+32*4+8+1+len(h.Solution))
	buf = appendUint32LE(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = append(buf, h.BlockCommitments[:]...)
	buf = appendUint32LE(buf, h.Time)
	buf = appendUint32LE(buf, h.Bits)
	buf = append(buf, h.Nonce[:]...)
	return appendVarBytes(buf, h.Solution)
}

// Hash is the double-SHA256 of the serialized header.
func (h *Header) Hash() Hash {
	return DoubleSHA256(h.Bytes())
}

// Block is a header plus its ordered transactions; Transactions[0] is the coinbase.
type Block struct {
	Header       Header
	Transactions []*Transaction
}

// Hash returns the header hash.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// TxIDs returns the txid of every transaction in block order.
func (b *Block) TxIDs() []Hash {
	ids := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.TxID()
	}
	return ids
}

// Bytes serializes the block as header || CompactSize(n) || transactions.
func (b *Block) Bytes() []byte {
	buf := b.Header.Bytes()
	buf = appendVarInt(buf, uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		buf = append(buf, tx.Bytes()...)
	}
	return buf
}

// ParseBlock decodes a block produced by Block.Bytes.
func ParseBlock(raw []byte) (*Block, error) {
	r := bytes.NewReader(raw)
	b := &Block{}
	h := &b.Header
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	for _, field := range [][]byte{h.PrevHash[:], h.MerkleRoot[:], h.BlockCommitments[:]} {
		if _, err := io.ReadFull(r, field); err != nil {
			return nil, fmt.Errorf("read header hash: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Time); err != nil {
		return nil, fmt.Errorf("read time: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Bits); err != nil {
		return nil, fmt.Errorf("read bits: %w", err)
	}
	if _, err := io.ReadFull(r, h.Nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	solution, err := readVarBytes(r, maxVarBytes)
	if err != nil {
		return nil, fmt.Errorf("read solution: %w", err)
	}
	if len(solution) > 0 {
		h.Solution = solution
	}

	n, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read tx count: %w", err)
	}
	if n > maxBlockTransactions {
		return nil, fmt.Errorf("too many transactions: %d", n)
	}
	b.Transactions = make([]*Transaction, n)
	for i := range b.Transactions {
		tx, err := readTransaction(r)
		if err != nil {
			return nil, fmt.Errorf("read transaction %d: %w", i, err)
		}
		b.Transactions[i] = tx
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after block", r.Len())
	}
	return b, nil
}

// MerkleRoot computes the Bitcoin-style transaction merkle root: pairs are
// double-SHA256 hashed and an odd node at any level is paired with itself.
func MerkleRoot(txids []Hash) Hash {
	if len(txids) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(txids))
	copy(level, txids)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := range next {
			next[i] = DoubleSHA256(level[2*i][:], level[2*i+1][:])
		}
		level = next
	}
	return level[0]
}
