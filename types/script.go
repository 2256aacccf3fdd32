package types

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/ripemd160"
)

// Script opcodes used by the standard templates.
const (
	OpFalse       = 0x00
	OpPushData1   = 0x4c
	OpPushData2   = 0x4d
	OpPushData4   = 0x4e
	OpReturn      = 0x6a
	OpDup         = 0x76
	OpEqual       = 0x87
	OpEqualVerify = 0x88
	OpHash160     = 0xa9
	OpCheckSig    = 0xac
)

// P2PKHScript returns OP_DUP OP_HASH160 <pkh> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHScript(pkh [20]byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, OpDup, OpHash160, 0x14)
	script = append(script, pkh[:]...)
	return append(script, OpEqualVerify, OpCheckSig)
}

// IsP2PKH checks if a script is P2PKH format: OP_DUP OP_HASH160 <20-byte hash> OP_EQUALVERIFY OP_CHECKSIG
func IsP2PKH(script []byte) bool {
	return len(script) == 25 &&
		script[0] == OpDup &&
		script[1] == OpHash160 &&
		script[2] == 0x14 &&
		script[23] == OpEqualVerify &&
		script[24] == OpCheckSig
}

// P2PKHHash extracts the public key hash of a P2PKH script.
func P2PKHHash(script []byte) ([20]byte, bool) {
	var pkh [20]byte
	if !IsP2PKH(script) {
		return pkh, false
	}
	copy(pkh[:], script[3:23])
	return pkh, true
}

// IsP2SH checks if a script is P2SH format: OP_HASH160 <20-byte hash> OP_EQUAL
func IsP2SH(script []byte) bool {
	return len(script) == 23 &&
		script[0] == OpHash160 &&
		script[1] == 0x14 &&
		script[22] == OpEqual
}

// IsUnspendable reports an OP_RETURN data carrier, which never enters the UTXO set.
func IsUnspendable(script []byte) bool {
	return len(script) > 0 && script[0] == OpReturn
}

// Hash160 is RIPEMD160(SHA256(data)).
func Hash160(data []byte) [20]byte {
	sha := sha256.Sum256(data)
	hasher := ripemd160.New()
	hasher.Write(sha[:])
	var out [20]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

// PushData encodes data as a minimal script push.
func PushData(data []byte) []byte {
	n := len(data)
	var out []byte
	switch {
	case n <= 0x4b:
		out = append(out, byte(n))
	case n <= 0xff:
		out = append(out, OpPushData1, byte(n))
	case n <= 0xffff:
		out = append(out, OpPushData2)
		out = binary.LittleEndian.AppendUint16(out, uint16(n))
	default:
		out = append(out, OpPushData4)
		out = binary.LittleEndian.AppendUint32(out, uint32(n))
	}
	return append(out, data...)
}

// ReadScriptPush reads one push operation starting at *cursor.
func ReadScriptPush(script []byte, cursor *int) ([]byte, error) {
	if *cursor >= len(script) {
		return nil, fmt.Errorf("script push out of bounds")
	}

	opcode := script[*cursor]
	*cursor++

	var length int
	switch {
	case opcode == OpFalse:
		length = 0
	case opcode >= 0x01 && opcode <= 0x4b:
		length = int(opcode)
	case opcode == OpPushData1:
		if *cursor >= len(script) {
			return nil, fmt.Errorf("pushdata1 out of bounds")
		}
		length = int(script[*cursor])
		*cursor++
	case opcode == OpPushData2:
		if *cursor+2 > len(script) {
			return nil, fmt.Errorf("pushdata2 out of bounds")
		}
		length = int(binary.LittleEndian.Uint16(script[*cursor : *cursor+2]))
		*cursor += 2
	case opcode == OpPushData4:
		if *cursor+4 > len(script) {
			return nil, fmt.Errorf("pushdata4 out of bounds")
		}
		length = int(binary.LittleEndian.Uint32(script[*cursor : *cursor+4]))
		*cursor += 4
	default:
		return nil, fmt.Errorf("unsupported push opcode: 0x%02x", opcode)
	}

	if length < 0 || *cursor+length > len(script) {
		return nil, fmt.Errorf("pushdata exceeds script length")
	}

	data := make([]byte, length)
	copy(data, script[*cursor:*cursor+length])
	*cursor += length
	return data, nil
}

// SplitP2PKHScriptSig returns the <sig> <pubkey> pushes of a P2PKH scriptSig.
func SplitP2PKHScriptSig(scriptSig []byte) (sig []byte, pubkey []byte, err error) {
	cursor := 0
	sig, err = ReadScriptPush(scriptSig, &cursor)
	if err != nil {
		return nil, nil, err
	}
	pubkey, err = ReadScriptPush(scriptSig, &cursor)
	if err != nil {
		return nil, nil, err
	}
	if cursor != len(scriptSig) {
		return nil, nil, fmt.Errorf("unexpected trailing bytes in scriptSig")
	}
	return sig, pubkey, nil
}

// CoinbaseScriptSig encodes the block height as a minimal little-endian push
// followed by tag, which keeps coinbase txids unique per height.
func CoinbaseScriptSig(height uint32, tag []byte) []byte {
	var num []byte
	for h := height; h > 0; h >>= 8 {
		num = append(num, byte(h))
	}
	if len(num) > 0 && num[len(num)-1]&0x80 != 0 {
		num = append(num, 0x00)
	}
	script := PushData(num)
	if len(tag) > 0 {
		script = append(script, PushData(tag)...)
	}
	return script
}
