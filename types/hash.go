// Package types holds the wire types of the ledger: Zcash v5 transactions with
// an Orchard action bundle, blocks, outpoints and transparent scripts.
package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dchest/blake2b"
	"github.com/ethereum/go-ethereum/common"
)

// Hash is a 32-byte digest in internal byte order.
type Hash = common.Hash

// Nullifier is the token revealed when a shielded note is spent.
type Nullifier [32]byte

func (n Nullifier) Hex() string { return "0x" + hex.EncodeToString(n[:]) }

// OutPoint identifies a transaction output
type OutPoint struct {
	TxID  Hash
	Index uint32
}

// Utxo is an unspent transparent output.
type Utxo struct {
	Value      uint64
	Script     []byte
	Height     uint32
	IsCoinbase bool
}

// Personalization pads s to the 16 bytes BLAKE2b accepts as a personal string.
func Personalization(s string) []byte {
	out := make([]byte, 16)
	copy(out, s)
	return out
}

// Blake2b256 hashes the concatenation of parts with a personalized BLAKE2b-256.
func Blake2b256(person []byte, parts ...[]byte) Hash {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: person})
	if err != nil {
		// only reachable with a personalization longer than 16 bytes
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DoubleSHA256 is the Bitcoin-style hash used for block headers and the tx merkle tree.
func DoubleSHA256(data ...[]byte) Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	first := h.Sum(nil)
	return Hash(sha256.Sum256(first))
}

// DisplayHex renders a hash in the little-endian order block explorers use.
func DisplayHex(h Hash) string {
	return hex.EncodeToString(reverseBytes(h[:]))
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
