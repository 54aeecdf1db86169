// Package pairing drives the CGM authentication handshake and the initial
// history sync request.
//
// The Machine is a plain state machine: Start issues the first read and every
// call to Handle consumes one transport completion, issuing at most one new
// read or write. It never blocks on the radio. The Runner owns the delivery
// queue, arms per-step timeouts and adapts device characteristics into
// completions.
package pairing

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/internal/keyderiv"
	"github.com/srg/cgmlink/internal/registry"
)

// Completion is the result of a read or write issued through a Transport.
// A zero Seq matches whatever operation is pending for Role and Op.
type Completion struct {
	Seq   uint64
	Role  registry.Role
	Op    Op
	Value []byte
	Err   error
}

// Transport issues operations on registered endpoints. Read and Write must not
// block; their results come back through Machine.Handle.
type Transport interface {
	Read(seq uint64, e registry.Entry)
	Write(seq uint64, e registry.Entry, data []byte)
	// Subscribe enables notifications synchronously.
	Subscribe(e registry.Entry) error
}

// Outcome is reported once per handshake, when it syncs or aborts.
type Outcome struct {
	State   State
	Err     *Error
	Window  Window
	Command int
	// Key is the derived session key, set only when State is Synced.
	Key     string
}

// Success reports whether the handshake reached Synced.
func (o Outcome) Success() bool {
	return o.State == Synced && o.Err == nil
}

// Options tune a Machine. The zero value is usable.
type Options struct {
	Layout         Layout
	LegacyCommand  bool
	SyncSize       int
	Rand           io.Reader
	KeyGen         func(io.Reader) (*keyderiv.KeyPair, error)
	Logger         *logrus.Logger
	OnOutcome      func(Outcome)
	// OnStateChanged runs with the machine locked and must not call back into it.
	OnStateChanged func(from, to State)
}

type pendingOp struct {
	seq  uint64
	role registry.Role
	op   Op
}

type handler func(m *Machine, value []byte) *Error

// Machine is safe for concurrent use; Transport calls happen while its lock is held.
type Machine struct {
	mu sync.Mutex

	id        *identity.Identity
	reg       *registry.Registry
	transport Transport
	opts      Options
	logger    *logrus.Logger

	state    State
	session  Session
	pending  *pendingOp
	seq      uint64
	lastErr  *Error
	window   Window
	handlers map[State]handler
}

// NewMachine creates an idle machine for one connection.
func NewMachine(id *identity.Identity, reg *registry.Registry, transport Transport, opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.KeyGen == nil {
		opts.KeyGen = keyderiv.GenerateKeyPair
	}
	if opts.SyncSize == 0 {
		opts.SyncSize = DefaultSyncSize
	}

	return &Machine{
		id:        id,
		reg:       reg,
		transport: transport,
		opts:      opts,
		logger:    opts.Logger,
		handlers:  handlerTable(),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error of the last aborted handshake, or nil.
func (m *Machine) Err() *Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Session returns a copy of the session without the private key.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.snapshot()
}

// Pending returns the sequence number of the outstanding operation.
func (m *Machine) Pending() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return 0, false
	}
	return m.pending.seq, true
}

// Start begins a handshake by reading auth-device. The registry must be populated.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.id == nil || m.id.SecretCount() == 0 {
		m.mu.Unlock()
		return identity.ErrNoSecrets
	}

	m.session.Reset()
	m.lastErr = nil
	m.window = Window{}
	m.logger.WithField("address", m.id.MAC()).Info("Starting handshake")

	var out *Outcome
	if perr := m.read(registry.RoleAuthDevice, AwaitAuthDevice); perr != nil {
		out = m.abort(perr)
	}
	m.mu.Unlock()

	if out != nil {
		m.emit(*out)
		return out.Err
	}
	return nil
}

// Handle consumes one completion. Completions the current state is not waiting for are ignored.
func (m *Machine) Handle(c Completion) {
	m.mu.Lock()
	out := m.handleLocked(c)
	m.mu.Unlock()

	if out != nil {
		m.emit(*out)
	}
}

func (m *Machine) handleLocked(c Completion) *Outcome {
	log := m.logger.WithFields(logrus.Fields{
		"state": m.state,
		"role":  c.Role,
		"op":    c.Op,
	})

	p := m.pending
	if p == nil || p.role != c.Role || p.op != c.Op || (c.Seq != 0 && c.Seq != p.seq) {
		log.Debug("Ignoring unexpected completion")
		return nil
	}
	m.pending = nil

	if c.Err != nil {
		log.WithField("error", c.Err).Warn("Transport operation failed")
		return m.abort(m.fail(KindTransport, c.Role, c.Err))
	}

	if m.state == Synced {
		// sync request acknowledged
		log.Info("History sync requested")
		return &Outcome{State: Synced, Window: m.window, Command: m.session.Command, Key: m.session.DerivedKey}
	}

	h, ok := m.handlers[m.state]
	if !ok {
		return m.abort(m.fail(KindProtocolMismatch, c.Role, fmt.Errorf("no handler for state %s", m.state)))
	}

	log.Debug("Handling completion")
	if perr := h(m, c.Value); perr != nil {
		return m.abort(perr)
	}

	if m.state == Idle {
		// handler finished the handshake without error
		out := &Outcome{State: Idle, Command: m.session.Command}
		m.session.Reset()
		return out
	}
	return nil
}

// Disconnect resets the session. A handshake in progress is aborted with KindDisconnected.
// After an acknowledged sync request the machine returns to Idle without an error.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	var out *Outcome
	switch {
	case m.state == Idle:
		m.session.Reset()
		m.pending = nil
	case m.state == Synced && m.pending == nil:
		m.logger.Info("Link closed after sync")
		m.setState(Idle)
		m.session.Reset()
	default:
		out = m.abort(m.fail(KindDisconnected, registry.RoleUnknown, fmt.Errorf("connection closed")))
	}
	m.mu.Unlock()

	if out != nil {
		m.emit(*out)
	}
}

// Expire aborts with KindTimeout if the operation seq is still outstanding.
func (m *Machine) Expire(seq uint64) bool {
	m.mu.Lock()
	if m.pending == nil || m.pending.seq != seq {
		m.mu.Unlock()
		return false
	}
	role := m.pending.role
	out := m.abort(m.fail(KindTimeout, role, fmt.Errorf("no %s completion", m.pending.op)))
	m.mu.Unlock()

	m.emit(*out)
	return true
}

// fail builds an Error for the current state.
func (m *Machine) fail(kind Kind, role registry.Role, err error) *Error {
	return &Error{Kind: kind, State: m.state, Role: role, Err: err}
}

// abort returns to Idle and drops the session. Callers hold the lock.
func (m *Machine) abort(perr *Error) *Outcome {
	m.logger.WithFields(logrus.Fields{
		"state": perr.State,
		"role":  perr.Role,
		"kind":  perr.Kind,
		"error": perr.Err,
	}).Warn("Handshake aborted")

	m.setState(Idle)
	m.pending = nil
	m.session.Reset()
	m.lastErr = perr
	return &Outcome{State: Idle, Err: perr}
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	from := m.state
	m.state = s
	m.logger.WithFields(logrus.Fields{"from": from, "to": s}).Debug("State changed")
	if m.opts.OnStateChanged != nil {
		m.opts.OnStateChanged(from, s)
	}
}

func (m *Machine) emit(o Outcome) {
	if m.opts.OnOutcome != nil {
		m.opts.OnOutcome(o)
	}
}

func (m *Machine) lookup(role registry.Role) (registry.Entry, *Error) {
	e, err := m.reg.Lookup(role)
	if err != nil {
		return registry.Entry{}, m.fail(KindEndpointNotFound, role, err)
	}
	return e, nil
}

// read issues a read of role and moves to next.
func (m *Machine) read(role registry.Role, next State) *Error {
	e, perr := m.lookup(role)
	if perr != nil {
		return perr
	}
	m.setState(next)
	m.seq++
	m.pending = &pendingOp{seq: m.seq, role: role, op: OpRead}
	m.transport.Read(m.seq, e)
	return nil
}

// write issues a write to role and moves to next.
func (m *Machine) write(role registry.Role, data []byte, next State) *Error {
	e, perr := m.lookup(role)
	if perr != nil {
		return perr
	}
	m.setState(next)
	m.seq++
	m.pending = &pendingOp{seq: m.seq, role: role, op: OpWrite}
	m.transport.Write(m.seq, e, data)
	return nil
}
