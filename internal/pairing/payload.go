package pairing

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/cgmlink/internal/codec"
)

// MinAuthDeviceSize is the shortest auth-device payload accepted.
const MinAuthDeviceSize = 36

// Layout selects where the peer coordinates sit in the auth-device payload.
type Layout int

const (
	// LayoutFixed28 reads X from [4:32) and Y from [36:64).
	LayoutFixed28 Layout = iota
	// LayoutLengthDependent reads Y from [36:len-36), as early firmware clients did.
	LayoutLengthDependent
	// LayoutFull reads 32-byte coordinates, X from [4:36) and Y from [36:68).
	LayoutFull
)

func (l Layout) String() string {
	switch l {
	case LayoutFixed28:
		return "fixed28"
	case LayoutLengthDependent:
		return "length-dependent"
	case LayoutFull:
		return "full"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout accepts the names printed by Layout.String.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed28":
		return LayoutFixed28, nil
	case "length-dependent":
		return LayoutLengthDependent, nil
	case "full":
		return LayoutFull, nil
	}
	return 0, fmt.Errorf("unknown peer key layout %q", s)
}

// authDevice is the decoded auth-device read.
type authDevice struct {
	secretIndex int
	rawTime     []byte
	x, y        []byte
}

func parseAuthDevice(data []byte, layout Layout) (authDevice, error) {
	if len(data) < MinAuthDeviceSize {
		return authDevice{}, fmt.Errorf("auth-device payload is %d bytes, want at least %d", len(data), MinAuthDeviceSize)
	}

	var xFrom, xTo, yFrom, yTo int
	switch layout {
	case LayoutFixed28:
		xFrom, xTo, yFrom, yTo = 4, 32, 36, 64
	case LayoutLengthDependent:
		xFrom, xTo, yFrom, yTo = 4, 32, 36, len(data)-36
	case LayoutFull:
		xFrom, xTo, yFrom, yTo = 4, 36, 36, 68
	default:
		return authDevice{}, fmt.Errorf("unknown layout %s", layout)
	}
	if yTo <= yFrom || yTo > len(data) {
		return authDevice{}, fmt.Errorf("auth-device payload of %d bytes has no Y coordinate for layout %s", len(data), layout)
	}

	return authDevice{
		secretIndex: int(data[0]),
		rawTime:     append([]byte(nil), data[1:3]...),
		x:           append([]byte(nil), data[xFrom:xTo]...),
		y:           append([]byte(nil), data[yFrom:yTo]...),
	}, nil
}

// Digest is SHA-256 over secret ‖ address ‖ x ‖ y ‖ t.
func Digest(secret, address, x, y, t []byte) []byte {
	h := sha256.New()
	for _, part := range [][]byte{secret, address, x, y, t} {
		h.Write(part)
	}
	return h.Sum(nil)
}

// VerifyDigest compares a received challenge in constant time.
func VerifyDigest(expected, received []byte) bool {
	return len(expected) == len(received) && subtle.ConstantTimeCompare(expected, received) == 1
}

// parseCurrentTime reads the first two bytes as a little-endian value and returns it plus one.
func parseCurrentTime(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("current-time payload is %d bytes, want 2", len(data))
	}
	v, err := codec.ParseHexInt(codec.BytesToHexReversed(data[:2]))
	if err != nil {
		return 0, err
	}
	return v + 1, nil
}

// hostPayload is index ‖ time ‖ X ‖ Y.
func hostPayload(index int, timeBytes, x, y []byte) []byte {
	return codec.Concat([]byte{byte(index)}, timeBytes, x, y)
}

// parseCommand decodes the convert-cmd value. legacy parses the hex text as a decimal number.
func parseCommand(data []byte, legacy bool) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("convert-cmd payload is empty")
	}
	text := codec.BytesToHex(data)
	if legacy {
		v, err := strconv.Atoi(text)
		if err != nil {
			return 0, fmt.Errorf("convert-cmd %q is not decimal: %w", text, err)
		}
		return v, nil
	}
	return codec.ParseHexInt(text)
}
