package types

import (
	"encoding/binary"
	"fmt"
	"io"
)

const maxVarBytes = 1 << 20

func readVarInt(r io.Reader) (uint64, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}
	switch first[0] {
	case 0xfd:
		var val uint16
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return 0, err
		}
		return uint64(val), nil
	case 0xfe:
		var val uint32
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return 0, err
		}
		return uint64(val), nil
	case 0xff:
		var val uint64
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return 0, err
		}
		return val, nil
	default:
		return uint64(first[0]), nil
	}
}

func readVarBytes(r io.Reader, limit uint64) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length > limit {
		return nil, fmt.Errorf("field too large: %d > %d", length, limit)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func appendUint32LE(buf []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, value)
}

func appendUint64LE(buf []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, value)
}

func appendVarInt(buf []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(buf, byte(n))
	case n <= 0xffff:
		buf = append(buf, 0xfd)
		return binary.LittleEndian.AppendUint16(buf, uint16(n))
	case n <= 0xffffffff:
		buf = append(buf, 0xfe)
		return binary.LittleEndian.AppendUint32(buf, uint32(n))
	default:
		buf = append(buf, 0xff)
		return binary.LittleEndian.AppendUint64(buf, n)
	}
}

func appendVarBytes(buf []byte, b []byte) []byte {
	buf = appendVarInt(buf, uint64(len(b)))
	return append(buf, b...)
}
