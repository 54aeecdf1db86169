package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/srg/cgmlink/internal/codec"
	"github.com/srg/cgmlink/internal/registry"
)

// commandStartSync is the convert-cmd value that lets the client read glucose.
const commandStartSync = 3

func handlerTable() map[State]handler {
	return map[State]handler{
		AwaitAuthDevice:  (*Machine).onAuthDevice,
		AwaitAuthFlag:    (*Machine).onAuthFlag,
		AwaitCurrentTime: (*Machine).onCurrentTime,
		AwaitAuthHostAck: (*Machine).onAuthHostAck,
		AwaitAuthFlagAck: (*Machine).onAuthFlagAck,
		AwaitConvertCmd:  (*Machine).onConvertCmd,
		AwaitGlucose:     (*Machine).onGlucose,
	}
}

func (m *Machine) onAuthDevice(value []byte) *Error {
	ad, err := parseAuthDevice(value, m.opts.Layout)
	if err != nil {
		return m.fail(KindMalformedPayload, registry.RoleAuthDevice, err)
	}

	m.session.SecretIndex = ad.secretIndex
	m.session.RawTime = ad.rawTime
	m.session.PeerX = ad.x
	m.session.PeerY = ad.y

	return m.read(registry.RoleAuthFlag, AwaitAuthFlag)
}

func (m *Machine) onAuthFlag(value []byte) *Error {
	secret, err := m.id.Secret(m.session.SecretIndex)
	if err != nil {
		return m.fail(KindIndexOutOfRange, registry.RoleAuthFlag, err)
	}

	expected := Digest(secret, m.id.AddressBytes(), m.session.PeerX, m.session.PeerY, m.session.RawTime)
	if !VerifyDigest(expected, value) {
		return m.fail(KindProtocolMismatch, registry.RoleAuthFlag, fmt.Errorf("challenge digest does not match secret %d", m.session.SecretIndex))
	}

	return m.read(registry.RoleCurrentTime, AwaitCurrentTime)
}

func (m *Machine) onCurrentTime(value []byte) *Error {
	next, err := parseCurrentTime(value)
	if err != nil {
		return m.fail(KindMalformedPayload, registry.RoleCurrentTime, err)
	}

	index, err := m.randomIndex()
	if err != nil {
		return m.fail(KindIndexOutOfRange, registry.RoleCurrentTime, err)
	}

	kp, err := m.opts.KeyGen(m.opts.Rand)
	if err != nil {
		return m.fail(KindLocal, registry.RoleCurrentTime, fmt.Errorf("generate key pair: %w", err))
	}

	m.session.NextTime = next
	m.session.RandomIndex = index
	m.session.KeyPair = kp
	m.session.TimeBytes = codec.TimeEncode(next)

	payload := hostPayload(index, m.session.TimeBytes, kp.X(), kp.Y())
	return m.write(registry.RoleAuthHost, payload, AwaitAuthHostAck)
}

func (m *Machine) onAuthHostAck([]byte) *Error {
	secret, err := m.id.Secret(m.session.RandomIndex)
	if err != nil {
		return m.fail(KindIndexOutOfRange, registry.RoleAuthHost, err)
	}

	kp := m.session.KeyPair
	sign := Digest(secret, m.id.AddressBytes(), kp.X(), kp.Y(), m.session.TimeBytes)
	return m.write(registry.RoleAuthFlag, sign, AwaitAuthFlagAck)
}

func (m *Machine) onAuthFlagAck([]byte) *Error {
	key, err := m.session.KeyPair.DeriveKey(m.session.PeerX, m.session.PeerY)
	if err != nil {
		return m.fail(KindMalformedPayload, registry.RoleAuthFlag, fmt.Errorf("peer public key: %w", err))
	}
	m.session.DerivedKey = key

	return m.read(registry.RoleConvertCmd, AwaitConvertCmd)
}

func (m *Machine) onConvertCmd(value []byte) *Error {
	cmd, err := parseCommand(value, m.opts.LegacyCommand)
	if err != nil {
		return m.fail(KindMalformedPayload, registry.RoleConvertCmd, err)
	}
	m.session.Command = cmd

	if cmd != commandStartSync {
		m.logger.WithField("command", cmd).Info("Sensor did not request sync, returning to idle")
		m.setState(Idle)
		return nil
	}
	return m.read(registry.RoleGlucose, AwaitGlucose)
}

func (m *Machine) onGlucose([]byte) *Error {
	for _, role := range []registry.Role{registry.RoleGlucoseRecord, registry.RoleGlucose} {
		e, perr := m.lookup(role)
		if perr != nil {
			return perr
		}
		if e.Notifying || e.Endpoint.IsNotifying() {
			continue
		}
		if err := m.transport.Subscribe(e); err != nil {
			return m.fail(KindTransport, role, fmt.Errorf("enable notifications: %w", err))
		}
		if err := m.reg.SetNotifying(role, true); err != nil {
			return m.fail(KindEndpointNotFound, role, err)
		}
	}

	w := Calculate(m.opts.SyncSize)
	if err := w.Validate(); err != nil {
		return m.fail(KindMalformedPayload, registry.RoleRequestByCount, err)
	}
	m.window = w
	return m.write(registry.RoleRequestByCount, w.Payload(), Synced)
}

// randomIndex picks a secret index uniformly.
func (m *Machine) randomIndex() (int, error) {
	n := m.id.SecretCount()
	if n == 0 || n > 256 {
		return 0, fmt.Errorf("cannot pick an index byte from %d secrets", n)
	}
	v, err := rand.Int(m.opts.Rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random index: %w", err)
	}
	return int(v.Int64()), nil
}
