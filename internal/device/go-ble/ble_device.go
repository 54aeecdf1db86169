package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/device"
)

// DefaultConnectTimeout applies when Connect is called without options.
const DefaultConnectTimeout = 30 * time.Second

// BLEDevice implements the device.Device interface for a single peripheral
type BLEDevice struct {
	address    string
	name       string
	rssi       int
	manufData  []byte
	lastSeen   time.Time
	connection *BLEConnection
	logger     *logrus.Logger
	mu         sync.RWMutex
}

// NewBLEDevice creates a BLEDevice with a pre-created connection instance
func NewBLEDevice(address string, logger *logrus.Logger) *BLEDevice {
	if logger == nil {
		logger = logrus.New()
	}

	return &BLEDevice{
		address:    address,
		lastSeen:   time.Now(),
		connection: NewBLEConnection(logger),
		logger:     logger,
	}
}

// NewBLEDeviceFromAdvertisement creates a BLEDevice seeded with advertisement data
func NewBLEDeviceFromAdvertisement(adv device.Advertisement, logger *logrus.Logger) *BLEDevice {
	d := NewBLEDevice(adv.Addr(), logger)
	d.Update(adv)
	return d
}

func (d *BLEDevice) Address() string {
	return d.address
}

func (d *BLEDevice) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *BLEDevice) RSSI() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

func (d *BLEDevice) ManufacturerData() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manufData
}

func (d *BLEDevice) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Update refreshes the advertisement-derived fields
func (d *BLEDevice) Update(adv device.Advertisement) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name := strings.TrimSpace(adv.LocalName()); name != "" && isValidDeviceName(name) {
		d.name = name
	}
	d.rssi = adv.RSSI()
	if md := adv.ManufacturerData(); len(md) > 0 {
		d.manufData = append(d.manufData[:0], md...)
	}
	d.lastSeen = time.Now()
}

// Connect establishes a BLE connection and populates live characteristics
func (d *BLEDevice) Connect(ctx context.Context, opts *device.ConnectOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connection == nil {
		return fmt.Errorf("internal error: connection is not initialized")
	}

	if opts == nil {
		opts = &device.ConnectOptions{
			ConnectTimeout: DefaultConnectTimeout,
		}
	}

	return d.connection.Connect(ctx, d.address, opts)
}

// Disconnect closes the connection and clears live handles
func (d *BLEDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connection == nil {
		return fmt.Errorf("internal error: connection is not initialized")
	}
	return d.connection.Disconnect()
}

func (d *BLEDevice) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connection != nil && d.connection.IsConnected()
}

func (d *BLEDevice) GetConnection() device.Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connection
}

func isValidDeviceName(name string) bool {
	if len(name) == 0 || len(name) > 248 {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
