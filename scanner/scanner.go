package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/codec"
	"github.com/srg/cgmlink/internal/device"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/internal/registry"
	"github.com/srg/cgmlink/internal/ringchan"
)

// ErrSensorNotFound is returned by Find when no advertisement matched the identity.
var ErrSensorNotFound = errors.New("sensor not found")

// DeviceFactory creates the radio used for scanning. Tests replace it.
var DeviceFactory = goble.NewScanner

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type    DeviceEventType
	Device  *goble.BLEDevice
	Matched bool
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices *hashmap.Map[string, *goble.BLEDevice]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
	stop        context.CancelFunc
	match       *goble.BLEDevice
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string

	// Identity keeps only advertisements whose manufacturer data carries its address.
	Identity *identity.Identity
	// StopOnMatch ends the scan at the first Identity match.
	StopOnMatch bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		devices: hashmap.New[string, *goble.BLEDevice](),
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
	}, nil
}

// Scan performs BLE discovery with provided options
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]*goble.BLEDevice, error) {
	s.devices = hashmap.New[string, *goble.BLEDevice]()
	s.match = nil

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	ctx, s.stop = context.WithCancel(ctx)
	defer s.stop()

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err = dev.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.makeDeviceList(), nil
}

// Find scans until an advertisement matches id and returns that device.
func (s *Scanner) Find(ctx context.Context, id *identity.Identity, timeout time.Duration) (*goble.BLEDevice, error) {
	if id == nil {
		return nil, identity.ErrInvalidAddress
	}
	opts := DefaultScanOptions()
	opts.Duration = timeout
	opts.Identity = id
	opts.StopOnMatch = true

	if _, err := s.Scan(ctx, opts, nil); err != nil {
		return nil, err
	}
	if s.match == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: no advertisement for %s within %s", ErrSensorNotFound, id.MAC(), timeout)
	}
	return s.match, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	opts := s.scanOptions
	if opts == nil || (opts.StopOnMatch && s.match != nil) {
		return
	}
	deviceID := adv.Addr()

	dev, existing := s.devices.Get(deviceID)
	if !existing {
		if !s.shouldIncludeDevice(adv, opts) {
			return
		}
		dev, existing = s.devices.GetOrInsert(deviceID, goble.NewBLEDeviceFromAdvertisement(adv, s.logger))
	}

	event := DeviceEvent{Device: dev}
	if existing {
		dev.Update(adv)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name(),
			"address": dev.Address(),
			"rssi":    dev.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	if opts.Identity != nil {
		event.Matched = true
		if opts.StopOnMatch {
			s.match = dev
			s.logger.WithField("address", dev.Address()).Info("Sensor found, stopping scan")
			s.stop()
		}
	}

	s.events.Send(event)
}

// shouldIncludeDevice applies to allow/block/service/identity filters
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			want := device.NormalizeUUID(required)
			for _, advUUID := range adv.Services() {
				if want != "" && want == device.NormalizeUUID(advUUID) {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	if opts.Identity != nil && !MatchesIdentity(adv.ManufacturerData(), opts.Identity) {
		return false
	}

	return true
}

// MatchesIdentity reports whether manufacturer data embeds the identity address.
// The address sits between a two byte company prefix and a two byte suffix.
func MatchesIdentity(manufacturerData []byte, id *identity.Identity) bool {
	if id == nil {
		return false
	}
	md, err := device.ParseManufacturerData(manufacturerData)
	if err != nil {
		return false
	}
	return strings.EqualFold(codec.BytesToHex(md.Embedded), id.AddressHex())
}

// CGMServiceOptions returns options that keep only devices advertising the CGM service.
func CGMServiceOptions(duration time.Duration) *ScanOptions {
	opts := DefaultScanOptions()
	opts.Duration = duration
	opts.ServiceUUIDs = []string{registry.ServiceUUID}
	return opts
}

// makeDeviceList returns discovered devices ordered by address
func (s *Scanner) makeDeviceList() []*goble.BLEDevice {
	devs := make([]*goble.BLEDevice, 0, s.devices.Len())

	s.devices.Range(func(key string, value *goble.BLEDevice) bool {
		devs = append(devs, value)
		return true
	})
	sort.Slice(devs, func(i, j int) bool { return devs[i].Address() < devs[j].Address() })

	return devs
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
