package goble

import (
	"context"

	ble "github.com/go-ble/ble"
	"github.com/srg/cgmlink/internal/device"
)

// bleScanner wraps ble.Device to implement the device.ScanningDevice interface
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	err := s.dev.Scan(ctx, allowDup, bleHandler)
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// NewScanner creates a device.ScanningDevice instance for BLE scanning operations.
func NewScanner() (device.ScanningDevice, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}
