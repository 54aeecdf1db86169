// Package mocks holds testify mocks for the BLE transport interfaces.
package mocks

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockGATTClient is a testify mock of goble.GATTClient.
// Handlers passed to Subscribe are retained so tests can push notifications.
type MockGATTClient struct {
	mock.Mock

	mu           sync.Mutex
	handlers     map[*ble.Characteristic]ble.NotificationHandler
	disconnected chan struct{}
	closeOnce    sync.Once
}

func NewMockGATTClient() *MockGATTClient {
	return &MockGATTClient{
		handlers:     make(map[*ble.Characteristic]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (m *MockGATTClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	var p *ble.Profile
	if v := args.Get(0); v != nil {
		p = v.(*ble.Profile)
	}
	return p, args.Error(1)
}

func (m *MockGATTClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[c] = h
	m.mu.Unlock()
	return nil
}

func (m *MockGATTClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.handlers, c)
	m.mu.Unlock()
	return nil
}

func (m *MockGATTClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

// Disconnected is closed by DropLink.
func (m *MockGATTClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// DropLink simulates the peripheral going away.
func (m *MockGATTClient) DropLink() {
	m.closeOnce.Do(func() { close(m.disconnected) })
}

// Notify delivers data to the handler subscribed on c. Returns false when nothing is subscribed.
func (m *MockGATTClient) Notify(c *ble.Characteristic, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[c]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}
