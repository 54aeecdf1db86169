package pairing

import (
	"bytes"
	"crypto/ecdh"
	"io"
	"sync"
	"testing"

	"github.com/srg/cgmlink/internal/codec"
	"github.com/srg/cgmlink/internal/device"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/internal/keyderiv"
	"github.com/srg/cgmlink/internal/registry"
	"github.com/srg/cgmlink/internal/testutils"
	"github.com/stretchr/testify/require"
)

const (
	testAddress = "C0:FF:EE:01:02:03"
	secret0     = "00112233445566778899aabbccddeeff"
	secret1     = "ffeeddccbbaa99887766554433221100"
	// derived from the scalars 0x01..0x20 (local) and 0x21..0x40 (peer)
	expectedKey = "e39f3aa2a5322ed8c2569757c992450"
)

var (
	rawTime     = []byte{0x5a, 0x01}
	currentTime = []byte{0x34, 0x12} // 0x1234, next is 0x1235
	timeBytes   = []byte{0x00, 0x35, 0x12}
	glucoseRead = []byte{0x0e, 0x00, 0x01}
	windowBytes = []byte{0xb4, 0x00, 0xb4, 0x00}
)

// scalarKeyPair builds the P-256 key pair whose private scalar is first, first+1, ... first+31.
func scalarKeyPair(t *testing.T, first byte) *keyderiv.KeyPair {
	t.Helper()
	scalar := make([]byte, 32)
	for i := range scalar {
		scalar[i] = first + byte(i)
	}
	priv, err := ecdh.P256().NewPrivateKey(scalar)
	require.NoError(t, err)
	kp, err := keyderiv.KeyPairFromPrivate(priv)
	require.NoError(t, err)
	return kp
}

// sensor holds what the simulated peer knows.
type sensor struct {
	id          *identity.Identity
	peer        *keyderiv.KeyPair
	local       *keyderiv.KeyPair
	secretIndex byte
}

func newSensor(t *testing.T) *sensor {
	t.Helper()
	id, err := identity.New(testAddress, secret0, secret1)
	require.NoError(t, err)
	return &sensor{
		id:          id,
		peer:        scalarKeyPair(t, 0x21),
		local:       scalarKeyPair(t, 0x01),
		secretIndex: 0,
	}
}

// authDevicePayload lays out index, raw time, and 32-byte coordinates (LayoutFull).
func (s *sensor) authDevicePayload() []byte {
	return codec.Concat([]byte{s.secretIndex}, rawTime, []byte{0x00}, s.peer.X(), s.peer.Y())
}

func (s *sensor) challenge(t *testing.T) []byte {
	t.Helper()
	secret, err := s.id.Secret(int(s.secretIndex))
	require.NoError(t, err)
	return Digest(secret, s.id.AddressBytes(), s.peer.X(), s.peer.Y(), rawTime)
}

func (s *sensor) hostPayload(index byte) []byte {
	return codec.Concat([]byte{index}, timeBytes, s.local.X(), s.local.Y())
}

func (s *sensor) sign(t *testing.T, index int) []byte {
	t.Helper()
	secret, err := s.id.Secret(index)
	require.NoError(t, err)
	return Digest(secret, s.id.AddressBytes(), s.local.X(), s.local.Y(), timeBytes)
}

// keyGen always hands out the sensor's fixed local key pair.
func (s *sensor) keyGen(io.Reader) (*keyderiv.KeyPair, error) {
	return s.local, nil
}

// randIndexOne makes crypto/rand.Int pick index 1 out of 2.
func randIndexOne() io.Reader {
	return bytes.NewReader(bytes.Repeat([]byte{0x01}, 64))
}

// cgmEndpoints registers a fake characteristic for every role.
func cgmEndpoints(skip ...registry.Role) (*registry.Registry, map[registry.Role]*testutils.FakeCharacteristic) {
	reg := registry.New()
	chars := make(map[registry.Role]*testutils.FakeCharacteristic)
outer:
	for _, role := range registry.Roles() {
		for _, s := range skip {
			if s == role {
				continue outer
			}
		}
		c := testutils.NewFakeCharacteristic(role.UUID(), "read,write,notify", nil)
		chars[role] = c
		_ = reg.Register(role, c)
	}
	return reg, chars
}

// transportOp is one call observed by recordingTransport.
type transportOp struct {
	kind string
	seq  uint64
	role registry.Role
	data []byte
}

// recordingTransport records operations and leaves completion delivery to the test.
type recordingTransport struct {
	mu           sync.Mutex
	ops          []transportOp
	subscribeErr error
}

func (t *recordingTransport) Read(seq uint64, e registry.Entry) {
	t.add(transportOp{kind: "read", seq: seq, role: e.Role})
}

func (t *recordingTransport) Write(seq uint64, e registry.Entry, data []byte) {
	t.add(transportOp{kind: "write", seq: seq, role: e.Role, data: append([]byte(nil), data...)})
}

func (t *recordingTransport) Subscribe(e registry.Entry) error {
	if t.subscribeErr != nil {
		return t.subscribeErr
	}
	t.add(transportOp{kind: "subscribe", role: e.Role})
	return e.Endpoint.Subscribe(func([]byte) {})
}

func (t *recordingTransport) add(op transportOp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
}

func (t *recordingTransport) all() []transportOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transportOp(nil), t.ops...)
}

func (t *recordingTransport) last() transportOp {
	ops := t.all()
	if len(ops) == 0 {
		return transportOp{}
	}
	return ops[len(ops)-1]
}

var _ device.Characteristic = (*testutils.FakeCharacteristic)(nil)
