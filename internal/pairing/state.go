package pairing

import "fmt"

// State is a step of the handshake.
type State int

const (
	Idle State = iota
	AwaitAuthDevice
	AwaitAuthFlag
	AwaitCurrentTime
	AwaitAuthHostAck
	AwaitAuthFlagAck
	AwaitConvertCmd
	AwaitGlucose
	Synced
)

var stateNames = [...]string{
	Idle:             "idle",
	AwaitAuthDevice:  "await-auth-device",
	AwaitAuthFlag:    "await-auth-flag",
	AwaitCurrentTime: "await-current-time",
	AwaitAuthHostAck: "await-auth-host-ack",
	AwaitAuthFlagAck: "await-auth-flag-ack",
	AwaitConvertCmd:  "await-convert-cmd",
	AwaitGlucose:     "await-glucose",
	Synced:           "synced",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Op is the kind of transport operation a completion answers.
type Op int

const (
	OpRead Op = iota + 1
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}
