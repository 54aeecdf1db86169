package pairing

import (
	"errors"
	"fmt"

	"github.com/srg/cgmlink/internal/registry"
)

// Kind classifies why a handshake was aborted.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindProtocolMismatch
	KindMalformedPayload
	KindIndexOutOfRange
	KindEndpointNotFound
	KindTimeout
	KindDisconnected
	// KindLocal is a failure on the client side, such as key generation.
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport error"
	case KindProtocolMismatch:
		return "protocol mismatch"
	case KindMalformedPayload:
		return "malformed payload"
	case KindIndexOutOfRange:
		return "index out of range"
	case KindEndpointNotFound:
		return "endpoint not found"
	case KindTimeout:
		return "timeout"
	case KindDisconnected:
		return "disconnected"
	case KindLocal:
		return "local failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retriable reports whether a fresh attempt may succeed without operator action.
func (k Kind) Retriable() bool {
	switch k {
	case KindTransport, KindTimeout, KindDisconnected:
		return true
	default:
		return false
	}
}

// Error describes an aborted handshake step.
type Error struct {
	Kind  Kind
	State State
	Role  registry.Role
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("pairing %s in %s", e.Kind, e.State)
	if e.Role != registry.RoleUnknown {
		msg += fmt.Sprintf(" (%s)", e.Role)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, ErrTimeout) works.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrTransport        = &Error{Kind: KindTransport}
	ErrProtocolMismatch = &Error{Kind: KindProtocolMismatch}
	ErrMalformedPayload = &Error{Kind: KindMalformedPayload}
	ErrIndexOutOfRange  = &Error{Kind: KindIndexOutOfRange}
	ErrEndpointNotFound = &Error{Kind: KindEndpointNotFound}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrDisconnected     = &Error{Kind: KindDisconnected}
	ErrLocal            = &Error{Kind: KindLocal}
)

// ErrBusy is returned by Start when a handshake is already running.
var ErrBusy = errors.New("pairing already in progress")

// KindOf extracts the Kind of a pairing error, or 0.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}
