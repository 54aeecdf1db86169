package main

import (
	"errors"
	"fmt"

	"github.com/srg/cgmlink/internal/device"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/internal/pairing"
	"github.com/srg/cgmlink/scanner"
)

// ErrConnectionLost indicates the link dropped after pairing succeeded.
var ErrConnectionLost = errors.New("connection lost")

// FormatUserError turns an error chain into a one-line message with a hint where one helps.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var perr *pairing.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case pairing.KindProtocolMismatch:
			return fmt.Sprintf("%v (check that the identity secrets belong to this sensor)", err)
		case pairing.KindIndexOutOfRange:
			return fmt.Sprintf("%v (the sensor asked for a secret the identity does not have)", err)
		case pairing.KindEndpointNotFound:
			return fmt.Sprintf("%v (run 'cgmlink inspect' to list the sensor's characteristics)", err)
		case pairing.KindMalformedPayload:
			return fmt.Sprintf("%v (try a different --layout)", err)
		}
		return err.Error()
	}

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth adapter is not available: is Bluetooth turned on?"
	case errors.Is(err, scanner.ErrSensorNotFound):
		return fmt.Sprintf("%v (is the sensor awake and in range?)", err)
	case errors.Is(err, identity.ErrNoSecrets), errors.Is(err, identity.ErrInvalidAddress), errors.Is(err, identity.ErrInvalidSecret):
		return fmt.Sprintf("invalid identity file: %v", err)
	case errors.Is(err, ErrConnectionLost):
		return "connection to the sensor was lost"
	}
	return err.Error()
}
