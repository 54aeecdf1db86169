package testutils

import (
	"sort"
	"sync"
	"time"

	"github.com/srg/cgmlink/internal/device"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
)

// FakeCharacteristic is an in-memory device.Characteristic that records writes.
type FakeCharacteristic struct {
	mu         sync.Mutex
	uuid       string
	properties device.Properties

	Value        []byte
	ReadErr      error
	WriteErr     error
	SubscribeErr error
	Writes       [][]byte

	handler   func([]byte)
	notifying bool
}

// NewFakeCharacteristic creates a characteristic with comma separated properties, e.g. "read,notify".
func NewFakeCharacteristic(uuid, properties string, value []byte) *FakeCharacteristic {
	return &FakeCharacteristic{
		uuid:       device.NormalizeUUID(uuid),
		properties: goble.NewProperties(parseCharacteristicProperties(properties)),
		Value:      value,
	}
}

func (c *FakeCharacteristic) UUID() string                     { return c.uuid }
func (c *FakeCharacteristic) GetProperties() device.Properties { return c.properties }

func (c *FakeCharacteristic) Read(time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	return append([]byte(nil), c.Value...), nil
}

func (c *FakeCharacteristic) Write(data []byte, _ bool, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.Writes = append(c.Writes, append([]byte(nil), data...))
	return nil
}

func (c *FakeCharacteristic) Subscribe(handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	c.handler = handler
	c.notifying = true
	return nil
}

func (c *FakeCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
	c.notifying = false
	return nil
}

func (c *FakeCharacteristic) IsNotifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// Notify pushes data to the subscribed handler. Returns false when nothing is subscribed.
func (c *FakeCharacteristic) Notify(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(append([]byte(nil), data...))
	return true
}

// WriteCount returns the number of successful writes.
func (c *FakeCharacteristic) WriteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Writes)
}

// FakeService is an in-memory device.Service.
type FakeService struct {
	uuid  string
	chars []device.Characteristic
}

func (s *FakeService) UUID() string                                { return s.uuid }
func (s *FakeService) GetCharacteristics() []device.Characteristic { return s.chars }

// FakeConnection is an in-memory device.Connection.
type FakeConnection struct {
	services []*FakeService
	done     chan struct{}
	once     sync.Once
}

func NewFakeConnection() *FakeConnection {
	return &FakeConnection{done: make(chan struct{})}
}

// WithService appends a service with the given characteristics.
func (c *FakeConnection) WithService(uuid string, chars ...device.Characteristic) *FakeConnection {
	c.services = append(c.services, &FakeService{uuid: device.NormalizeUUID(uuid), chars: chars})
	return c
}

func (c *FakeConnection) Services() []device.Service {
	out := make([]device.Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out
}

func (c *FakeConnection) GetService(uuid string) (device.Service, error) {
	n := device.NormalizeUUID(uuid)
	for _, s := range c.services {
		if s.uuid == n {
			return s, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

func (c *FakeConnection) GetCharacteristic(service, uuid string) (device.Characteristic, error) {
	svc, err := c.GetService(service)
	if err != nil {
		return nil, err
	}
	n := device.NormalizeUUID(uuid)
	for _, ch := range svc.GetCharacteristics() {
		if ch.UUID() == n {
			return ch, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
}

func (c *FakeConnection) Disconnected() <-chan struct{} { return c.done }

// Drop closes the Disconnected channel.
func (c *FakeConnection) Drop() {
	c.once.Do(func() { close(c.done) })
}

// SetValue replaces the value returned by Read.
func (c *FakeCharacteristic) SetValue(v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Value = v
}

// SetReadErr makes subsequent reads fail with err.
func (c *FakeCharacteristic) SetReadErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReadErr = err
}

// SetWriteErr makes subsequent writes fail with err.
func (c *FakeCharacteristic) SetWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WriteErr = err
}
