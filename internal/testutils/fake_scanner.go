package testutils

import (
	"context"

	"github.com/srg/cgmlink/internal/device"
)

// FakeScanningDevice replays advertisements to the scan handler.
type FakeScanningDevice struct {
	Advertisements []device.Advertisement
	Err            error
	// Block keeps Scan running after the replay until ctx is done.
	Block bool

	AllowDup bool
}

func (f *FakeScanningDevice) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	f.AllowDup = allowDup
	if f.Err != nil {
		return f.Err
	}
	for _, adv := range f.Advertisements {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler(adv)
	}
	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
