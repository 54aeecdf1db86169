package device

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// SensorManufacturerData is the manufacturer specific block a CGM sensor advertises.
//
// Format:
//   - Bytes 0-1:      Company ID (little-endian)
//   - Bytes 2..len-2: Embedded hardware address, 6 bytes on current firmware
//   - Last 2 bytes:   Trailer, opaque to the client
type SensorManufacturerData struct {
	CompanyID uint16
	Embedded  []byte
	Trailer   []byte
}

// ParseManufacturerData splits raw advertisement manufacturer data into its parts.
// Data of four bytes or less carries no embedded address and is rejected.
func ParseManufacturerData(raw []byte) (*SensorManufacturerData, error) {
	if len(raw) <= 4 {
		return nil, fmt.Errorf("manufacturer data too short: %d bytes", len(raw))
	}

	return &SensorManufacturerData{
		CompanyID: binary.LittleEndian.Uint16(raw[0:2]),
		Embedded:  append([]byte(nil), raw[2:len(raw)-2]...),
		Trailer:   append([]byte(nil), raw[len(raw)-2:]...),
	}, nil
}

// EmbeddedAddress formats the embedded bytes as a colon separated MAC.
// Returns "" unless exactly six bytes are embedded.
func (m *SensorManufacturerData) EmbeddedAddress() string {
	if m == nil || len(m.Embedded) != 6 {
		return ""
	}
	parts := make([]string, len(m.Embedded))
	for i, b := range m.Embedded {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
