// Package identity holds the per-sensor record needed to pair: its hardware
// address and the pre-shared secrets provisioned for it.
package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/srg/cgmlink/internal/codec"
	"gopkg.in/yaml.v3"
)

// AddressSize is the length of a BLE hardware address in bytes.
const AddressSize = 6

var (
	ErrNoSecrets      = errors.New("identity has no secrets")
	ErrInvalidAddress = errors.New("invalid device address")
	ErrInvalidSecret  = errors.New("invalid secret")
	ErrSecretIndex    = errors.New("secret index out of range")
)

// Identity is immutable once loaded.
type Identity struct {
	Address     string   `yaml:"address"`
	Secrets     []string `yaml:"auth_keys"`
	Method      string   `yaml:"method,omitempty"`
	Coefficient string   `yaml:"coefficient,omitempty"`
	ActiveTime  int64    `yaml:"active_time,omitempty"`

	address []byte
	secrets [][]byte
}

// Parse decodes a YAML identity document and validates it.
func Parse(data []byte) (*Identity, error) {
	id := &Identity{}
	if err := yaml.Unmarshal(data, id); err != nil {
		return nil, fmt.Errorf("failed to parse identity: %w", err)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

// Load reads and validates the identity file at path.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	return Parse(data)
}

// New builds a validated identity from an address and hex encoded secrets.
func New(address string, secrets ...string) (*Identity, error) {
	id := &Identity{Address: address, Secrets: secrets}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

// Validate checks the address and secrets and caches their binary forms.
// Secrets must be non-empty hex of equal length.
func (id *Identity) Validate() error {
	addr, err := codec.HexToBytes(strings.ReplaceAll(strings.TrimSpace(id.Address), ":", ""))
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidAddress, id.Address, err)
	}
	if len(addr) != AddressSize {
		return fmt.Errorf("%w %q: want %d bytes, got %d", ErrInvalidAddress, id.Address, AddressSize, len(addr))
	}

	if len(id.Secrets) == 0 {
		return ErrNoSecrets
	}

	secrets := make([][]byte, len(id.Secrets))
	for i, s := range id.Secrets {
		b, err := codec.HexToBytes(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%w at index %d: %v", ErrInvalidSecret, i, err)
		}
		if len(b) == 0 {
			return fmt.Errorf("%w at index %d: empty", ErrInvalidSecret, i)
		}
		if i > 0 && len(b) != len(secrets[0]) {
			return fmt.Errorf("%w at index %d: length %d differs from %d", ErrInvalidSecret, i, len(b), len(secrets[0]))
		}
		secrets[i] = b
	}

	id.address = addr
	id.secrets = secrets
	return nil
}

// AddressBytes returns the 6-byte hardware address.
func (id *Identity) AddressBytes() []byte {
	return append([]byte(nil), id.address...)
}

// AddressHex returns the address as lowercase hex without separators.
func (id *Identity) AddressHex() string {
	return codec.BytesToHex(id.address)
}

// MAC returns the address in colon separated form, as BLE stacks expect it.
func (id *Identity) MAC() string {
	parts := make([]string, len(id.address))
	for i, b := range id.address {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// SecretCount returns the number of provisioned secrets.
func (id *Identity) SecretCount() int {
	return len(id.secrets)
}

// Secret returns the binary secret at index i.
func (id *Identity) Secret(i int) ([]byte, error) {
	if i < 0 || i >= len(id.secrets) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrSecretIndex, i, len(id.secrets))
	}
	return append([]byte(nil), id.secrets[i]...), nil
}

// LastActive returns ActiveTime as a time, zero when unset.
func (id *Identity) LastActive() time.Time {
	if id.ActiveTime == 0 {
		return time.Time{}
	}
	return time.Unix(id.ActiveTime, 0)
}
