package pairing

import (
	"fmt"

	"github.com/srg/cgmlink/internal/codec"
)

const (
	// ReservedRecords are history slots 0..60 that are never requested.
	ReservedRecords = 60
	// WindowFloor is the lowest start offset a request may carry.
	WindowFloor = ReservedRecords + 1
	// MaxWindow is the largest number of records requested at once.
	MaxWindow = 180
	// DefaultSyncSize is the record count requested after pairing.
	DefaultSyncSize = 360
)

// Window is a history read request.
type Window struct {
	Start int
	Count int
}

// Calculate returns the window for the most recent requested records.
// Count is not clamped: requests at or below ReservedRecords give Count <= 0.
func Calculate(requested int) Window {
	count := MaxWindow
	start := requested - count
	if start <= ReservedRecords {
		count = requested - ReservedRecords
		start = WindowFloor
	}
	return Window{Start: start, Count: count}
}

// Validate reports windows that cannot be sent.
func (w Window) Validate() error {
	switch {
	case w.Start < WindowFloor:
		return fmt.Errorf("window start %d below floor %d", w.Start, WindowFloor)
	case w.Start > 0xffff:
		return fmt.Errorf("window start %d does not fit 16 bits", w.Start)
	case w.Count <= 0:
		return fmt.Errorf("window count %d must be positive", w.Count)
	case w.Count > MaxWindow:
		return fmt.Errorf("window count %d exceeds %d", w.Count, MaxWindow)
	}
	return nil
}

// Payload encodes start then count, two little-endian bytes each.
func (w Window) Payload() []byte {
	return codec.Concat(codec.LittleEndian(w.Start, 2), codec.LittleEndian(w.Count, 2))
}

func (w Window) String() string {
	return fmt.Sprintf("start=%d count=%d", w.Start, w.Count)
}
