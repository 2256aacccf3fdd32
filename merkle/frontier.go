// Package merkle maintains the note commitment tree as a constant-size
// frontier plus a bounded window of recent roots.
package merkle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// TreeDepth is the depth of the commitment tree
	TreeDepth = 32

	// MaxTreeSize is the maximum number of leaves (2^32)
	MaxTreeSize = 1 << TreeDepth
)

var ErrTreeFull = errors.New("merkle: commitment tree is full")

// zeroHashes[i] is the root of an empty subtree of height i.
var zeroHashes [TreeDepth + 1]common.Hash

func init() {
	zeroHashes[0] = common.Hash{}
	for i := 1; i <= TreeDepth; i++ {
		zeroHashes[i] = hashPair(zeroHashes[i-1], zeroHashes[i-1])
	}
}

// EmptyRoot is the root of the tree with no leaves.
func EmptyRoot() common.Hash {
	return zeroHashes[TreeDepth]
}

// Frontier is the right edge of an append-only Merkle tree: the leaf count and
// one completed left subtree per level. It is enough to append leaves and
// recompute the root without keeping the leaves themselves.
//
// filled[level] is meaningful only while bit `level` of size is set.
type Frontier struct {
	size   uint64
	filled [TreeDepth]common.Hash
}

// NewFrontier returns the frontier of an empty tree.
func NewFrontier() *Frontier {
	return &Frontier{}
}

// Size returns the number of leaves appended so far
func (f *Frontier) Size() uint64 {
	return f.size
}

// Append adds one commitment as the next leaf.
func (f *Frontier) Append(leaf common.Hash) error {
	if f.size >= MaxTreeSize {
		return ErrTreeFull
	}
	node := leaf
	idx := f.size
	for level := 0; level < TreeDepth; level++ {
		if idx&1 == 0 {
			f.filled[level] = node
			break
		}
		node = hashPair(f.filled[level], node)
		idx >>= 1
	}
	f.size++
	return nil
}

// AppendBatch appends leaves in order. Nothing is appended if the batch does not fit.
func (f *Frontier) AppendBatch(leaves []common.Hash) error {
	if f.size+uint64(len(leaves)) > MaxTreeSize {
		return fmt.Errorf("%w: current=%d, adding=%d", ErrTreeFull, f.size, len(leaves))
	}
	for _, leaf := range leaves {
		if err := f.Append(leaf); err != nil {
			return err
		}
	}
	return nil
}

// Root computes the current tree root in TreeDepth hashes.
func (f *Frontier) Root() common.Hash {
	node := zeroHashes[0]
	size := f.size
	for level := 0; level < TreeDepth; level++ {
		if size&1 == 1 {
			node = hashPair(f.filled[level], node)
		} else {
			node = hashPair(node, zeroHashes[level])
		}
		size >>= 1
	}
	return node
}

// Copy returns an independent copy of f.
func (f *Frontier) Copy() *Frontier {
	cp := *f
	return &cp
}

// Bytes serializes the frontier as
// [size:8 BE][filled hash for every set bit of size, lowest level first].
func (f *Frontier) Bytes() []byte {
	n := bits.OnesCount64(f.size)
	buf := make([]byte, 8, 8+n*32)
	binary.BigEndian.PutUint64(buf, f.size)
	for level := 0; level < TreeDepth; level++ {
		if f.size>>level&1 == 1 {
			buf = append(buf, f.filled[level][:]...)
		}
	}
	return buf
}

// ParseFrontier restores a frontier serialized by Bytes.
func ParseFrontier(data []byte) (*Frontier, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("frontier data too short: %d bytes", len(data))
	}
	f := &Frontier{size: binary.BigEndian.Uint64(data[:8])}
	if f.size > MaxTreeSize {
		return nil, fmt.Errorf("frontier size %d exceeds max %d", f.size, uint64(MaxTreeSize))
	}
	want := 8 + bits.OnesCount64(f.size)*32
	if len(data) != want {
		return nil, fmt.Errorf("frontier data length mismatch: expected %d, got %d", want, len(data))
	}
	offset := 8
	for level := 0; level < TreeDepth; level++ {
		if f.size>>level&1 == 1 {
			copy(f.filled[level][:], data[offset:offset+32])
			offset += 32
		}
	}
	return f, nil
}

func hashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}
