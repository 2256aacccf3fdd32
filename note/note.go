// Package note implements shielded note encryption and the burn extractor:
// trial decryption of Orchard actions against the fixed burn viewing key.
package note

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	DiversifierSize = 11
	RseedSize       = 32
	MemoSize        = 512

	// leadByte marks the ZIP-212 plaintext format.
	leadByte = 0x02

	// PlaintextSize is lead(1) || d(11) || value(8) || rseed(32) || memo(512).
	PlaintextSize = 1 + DiversifierSize + 8 + RseedSize + MemoSize
)

var (
	kdfPersonalization    = types.Personalization("Zcash_OrchardKDF")
	commitPersonalization = types.Personalization("CZ_NoteCommit")
	ivkPersonalization    = types.Personalization("CZ_BurnIvk")

	ErrDecrypt = errors.New("note: trial decryption failed")
)

// Memo is the fixed-size note memo. By convention the first 20 bytes of a
// burn memo carry the host-chain recipient.
type Memo [MemoSize]byte

// MemoFromAddress returns a memo whose first 20 bytes are addr, zero padded.
func MemoFromAddress(addr common.Address) Memo {
	var m Memo
	copy(m[:], addr[:])
	return m
}

// IncomingViewingKey decrypts notes sent to its addresses.
type IncomingViewingKey [32]byte

// Address is a shielded payment address: a diversifier and a transmission key.
type Address struct {
	Diversifier [DiversifierSize]byte
	PkD         [32]byte
}

// Address derives the payment address for diversifier d.
func (ivk IncomingViewingKey) Address(d [DiversifierSize]byte) (Address, error) {
	pkd, err := curve25519.X25519(ivk[:], curve25519.Basepoint)
	if err != nil {
		return Address{}, err
	}
	addr := Address{Diversifier: d}
	copy(addr.PkD[:], pkd)
	return addr, nil
}

// Note is a decrypted shielded note.
type Note struct {
	Address Address
	Value   uint64
	Rseed   [RseedSize]byte
	Memo    Memo
}

// Commitment is the extracted note commitment (cmx) binding address, value and rseed.
func (n *Note) Commitment() types.Hash {
	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], n.Value)
	return types.Blake2b256(commitPersonalization, n.Address.Diversifier[:], n.Address.PkD[:], value[:], n.Rseed[:])
}

func (n *Note) plaintext() []byte {
	pt := make([]byte, 0, PlaintextSize)
	pt = append(pt, leadByte)
	pt = append(pt, n.Address.Diversifier[:]...)
	pt = binary.LittleEndian.AppendUint64(pt, n.Value)
	pt = append(pt, n.Rseed[:]...)
	return append(pt, n.Memo[:]...)
}

func parsePlaintext(pt []byte) (*Note, error) {
	if len(pt) != PlaintextSize || pt[0] != leadByte {
		return nil, ErrDecrypt
	}
	n := &Note{}
	off := 1
	copy(n.Address.Diversifier[:], pt[off:off+DiversifierSize])
	off += DiversifierSize
	n.Value = binary.LittleEndian.Uint64(pt[off : off+8])
	off += 8
	copy(n.Rseed[:], pt[off:off+RseedSize])
	off += RseedSize
	copy(n.Memo[:], pt[off:])
	return n, nil
}

func kdf(shared, epk []byte) []byte {
	key := types.Blake2b256(kdfPersonalization, shared, epk)
	return key[:]
}

// Ciphertext is the part of an action produced by encrypting a note.
type Ciphertext struct {
	CMX           types.Hash
	EphemeralKey  [32]byte
	EncCiphertext [types.EncCiphertextSize]byte
}

// Fill copies the ciphertext fields into action.
func (c *Ciphertext) Fill(action *types.Action) {
	action.CMX = c.CMX
	action.EphemeralKey = c.EphemeralKey
	action.EncCiphertext = c.EncCiphertext
}

// Encrypt creates a note of value to addr and encrypts it. rng supplies the
// ephemeral secret and rseed; nil means crypto/rand.
func Encrypt(addr Address, value uint64, memo Memo, rng io.Reader) (*Ciphertext, *Note, error) {
	if rng == nil {
		rng = rand.Reader
	}
	n := &Note{Address: addr, Value: value, Memo: memo}
	if _, err := io.ReadFull(rng, n.Rseed[:]); err != nil {
		return nil, nil, fmt.Errorf("read rseed: %w", err)
	}
	var esk [32]byte
	if _, err := io.ReadFull(rng, esk[:]); err != nil {
		return nil, nil, fmt.Errorf("read esk: %w", err)
	}
	epk, err := curve25519.X25519(esk[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	shared, err := curve25519.X25519(esk[:], addr.PkD[:])
	if err != nil {
		return nil, nil, fmt.Errorf("key agreement: %w", err)
	}
	aead, err := chacha20poly1305.New(kdf(shared, epk))
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, n.plaintext(), nil)

	c := &Ciphertext{CMX: n.Commitment()}
	copy(c.EphemeralKey[:], epk)
	copy(c.EncCiphertext[:], sealed)
	return c, n, nil
}

// TryDecrypt attempts to decrypt action with ivk. The recovered note must
// commit to the action's cmx and be addressed to ivk.
func TryDecrypt(ivk IncomingViewingKey, action *types.Action) (*Note, error) {
	shared, err := curve25519.X25519(ivk[:], action.EphemeralKey[:])
	if err != nil {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.New(kdf(shared, action.EphemeralKey[:]))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	pt, err := aead.Open(nil, nonce, action.EncCiphertext[:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	n, err := parsePlaintext(pt)
	if err != nil {
		return nil, err
	}
	addr, err := ivk.Address(n.Address.Diversifier)
	if err != nil {
		return nil, ErrDecrypt
	}
	n.Address = addr
	if n.Commitment() != action.CMX {
		return nil, ErrDecrypt
	}
	return n, nil
}
