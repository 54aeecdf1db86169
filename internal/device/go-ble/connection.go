package goble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/device"
	"github.com/srg/cgmlink/internal/groutine"
)

// GATTClient is the part of ble.Client the connection drives.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDefaultDevice

// Dialer opens a GATT client to the given address (can be overridden in tests)
var Dialer = func(ctx context.Context, address string) (GATTClient, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

// BLEConnection represents a live BLE connection with its discovered profile
type BLEConnection struct {
	client      GATTClient
	logger      *logrus.Logger
	connMutex   sync.RWMutex
	isConnected bool

	services map[string]*BLEService

	done     chan struct{}
	doneOnce *sync.Once
}

func NewBLEConnection(logger *logrus.Logger) *BLEConnection {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLEConnection{
		services: make(map[string]*BLEService),
		logger:   logger,
		done:     make(chan struct{}),
		doneOnce: &sync.Once{},
	}
}

// Connect dials the device, discovers its profile and populates services and characteristics
func (c *BLEConnection) Connect(ctx context.Context, address string, opts *device.ConnectOptions) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if strings.TrimSpace(address) == "" {
		c.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	if c.isConnectedInternal() {
		c.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	if opts == nil {
		opts = &device.ConnectOptions{}
	}

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	client, err := Dialer(connCtx, address)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address \"%s\": %w", address, err)
	}

	c.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	c.services = make(map[string]*BLEService)
	totalChars := 0
	for _, bleSvc := range profile.Services {
		svcUUID := device.NormalizeUUID(bleSvc.UUID.String())
		svc, ok := c.services[svcUUID]
		if !ok {
			svc = &BLEService{
				uuid:            svcUUID,
				Characteristics: make(map[string]*BLECharacteristic),
			}
			c.services[svcUUID] = svc
		}

		for _, bleChar := range bleSvc.Characteristics {
			charUUID := device.NormalizeUUID(bleChar.UUID.String())
			c.logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
			}).Debug("Found characteristic UUID")
			svc.Characteristics[charUUID] = NewCharacteristic(bleChar, c)
			totalChars++
		}
	}

	c.client = client
	c.isConnected = true
	c.done = make(chan struct{})
	c.doneOnce = &sync.Once{}

	// Some backends report link loss on a Disconnected() channel
	if notifier, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		done := c.done
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-notifier.Disconnected():
				c.logger.Warn("Peripheral reported disconnection")
				c.markDisconnected()
			case <-done:
			}
		})
	} else {
		c.logger.Debug("Client does not report disconnection")
	}

	c.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(c.services),
		"characteristics": totalChars,
	}).Info("BLE device connected successfully")
	return nil
}

// markDisconnected drops the client and closes the Disconnected channel once.
func (c *BLEConnection) markDisconnected() {
	c.connMutex.Lock()
	c.client = nil
	c.isConnected = false
	once, done := c.doneOnce, c.done
	c.connMutex.Unlock()

	once.Do(func() { close(done) })
}

// Disconnected is closed when the link drops or Disconnect is called.
func (c *BLEConnection) Disconnected() <-chan struct{} {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.done
}

func (c *BLEConnection) Disconnect() error {
	c.connMutex.Lock()
	if c.client == nil || !c.isConnected {
		c.connMutex.Unlock()
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	client := c.client
	services := make([]*BLEService, 0, len(c.services))
	for _, svc := range c.services {
		services = append(services, svc)
	}
	c.connMutex.Unlock()

	c.logger.WithField("services", len(services)).Info("Disconnecting BLE device...")

	var unsubscribeErrors []string
	for _, svc := range services {
		for _, char := range svc.Characteristics {
			if !char.IsNotifying() {
				continue
			}
			if err := char.unsubscribe(client); err != nil {
				unsubscribeErrors = append(unsubscribeErrors, fmt.Sprintf("%s: %v", char.uuid, err))
			}
		}
	}
	if len(unsubscribeErrors) > 0 {
		c.logger.WithField("errors", strings.Join(unsubscribeErrors, "; ")).Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	c.markDisconnected()

	disconnectErr := client.CancelConnection()
	if disconnectErr != nil {
		c.logger.WithField("error", disconnectErr).Warn("BLE device disconnected with errors")
	} else {
		c.logger.Info("BLE device disconnected successfully")
	}
	return disconnectErr
}

// GetCharacteristic retrieves a characteristic by service and characteristic UUID.
// Returns a NotFoundError if the service or characteristic is not found.
func (c *BLEConnection) GetCharacteristic(service, uuid string) (device.Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	svc, ok := c.services[device.NormalizeUUID(service)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}

	char, ok := svc.Characteristics[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return char, nil
}

// Services returns all discovered services sorted by UUID.
func (c *BLEConnection) Services() []device.Service {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	result := make([]device.Service, 0, len(c.services))
	for _, v := range c.services {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

func (c *BLEConnection) GetService(uuid string) (device.Service, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	svc, ok := c.services[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

func (c *BLEConnection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isConnectedInternal()
}

// activeClient returns the client or ErrNotConnected.
func (c *BLEConnection) activeClient() (GATTClient, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	if !c.isConnectedInternal() {
		return nil, device.ErrNotConnected
	}
	return c.client, nil
}

// isConnectedInternal checks the connection status without acquiring locks.
// Should only be called when the caller already holds connMutex.
func (c *BLEConnection) isConnectedInternal() bool {
	return c.client != nil && c.isConnected
}
