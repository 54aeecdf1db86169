// Package codec implements the fixed-width integer and hex conversions used on the
// sensor's authentication characteristics.
//
// Multi-byte integers travel least-significant byte first, except for the 3-byte
// time field, which uses the sensor's own (byte2, byte0, byte1) ordering.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedHex is returned when a hex string has odd length or contains non-hex characters.
var ErrMalformedHex = errors.New("malformed hex")

// TimeFieldSize is the width of the encoded time field written to the auth-host characteristic.
const TimeFieldSize = 3

// LittleEndian emits width bytes of value, least-significant byte first.
// Bits above width*8 are discarded.
func LittleEndian(value int, width int) []byte {
	if width <= 0 {
		return []byte{}
	}
	out := make([]byte, width)
	v := uint64(value)
	for i := 0; i < width; i++ {
		if i >= 8 {
			break
		}
		out[i] = byte(v >> (8 * i))
	}
	return out
}

// TimeEncode emits the low 24 bits of value in the order (byte2, byte0, byte1).
// The ordering is part of the wire format and must not be normalized.
func TimeEncode(value int) []byte {
	v := uint32(value)
	b0 := byte(v)
	b1 := byte(v >> 8)
	b2 := byte(v >> 16)
	return []byte{b2, b0, b1}
}

// HexToBytes decodes a hex string. An optional "0x" prefix is accepted.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrMalformedHex, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return b, nil
}

// BytesToHex returns the lowercase hex encoding of b.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// BytesToHexReversed hex-encodes b with the byte order reversed, so a little-endian
// field reads as big-endian hex text.
func BytesToHexReversed(b []byte) string {
	reversed := make([]byte, len(b))
	for i, v := range b {
		reversed[len(b)-1-i] = v
	}
	return hex.EncodeToString(reversed)
}

// ParseHexInt parses hex text (without prefix) into a non-negative integer.
func ParseHexInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrMalformedHex)
	}
	v, err := strconv.ParseUint(s, 16, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return int(v), nil
}

// Concat joins byte slices into a newly allocated slice.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
