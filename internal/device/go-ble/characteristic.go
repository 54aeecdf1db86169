package goble

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/cgmlink/internal/device"
	"go.uber.org/atomic"
)

// DefaultReadTimeout is used when Read or Write is called with a zero timeout.
const DefaultReadTimeout = 5 * time.Second

// BLECharacteristic is a discovered characteristic bound to its parent connection
type BLECharacteristic struct {
	uuid       string
	properties device.Properties
	BLEChar    *ble.Characteristic
	connection *BLEConnection

	mu         sync.Mutex
	notifying  atomic.Bool
	indication bool
}

func NewCharacteristic(c *ble.Characteristic, conn *BLEConnection) *BLECharacteristic {
	return &BLECharacteristic{
		uuid:       device.NormalizeUUID(c.UUID.String()),
		BLEChar:    c,
		properties: NewProperties(c.Property),
		connection: conn,
	}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) GetProperties() device.Properties {
	return c.properties
}

func (c *BLECharacteristic) IsNotifying() bool {
	return c.notifying.Load()
}

// Read reads the current value of the characteristic from the device.
func (c *BLECharacteristic) Read(timeout time.Duration) ([]byte, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}

	data, err := withTimeout(timeout, func() ([]byte, error) {
		return client.ReadCharacteristic(c.BLEChar)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.uuid, err)
	}
	return data, nil
}

// Write sends data to the characteristic. withResponse selects a write request over a write command.
func (c *BLECharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	client, err := c.client()
	if err != nil {
		return err
	}

	_, err = withTimeout(timeout, func() ([]byte, error) {
		return nil, client.WriteCharacteristic(c.BLEChar, data, !withResponse)
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", c.uuid, err)
	}
	return nil
}

// Subscribe enables notifications, falling back to indications when the
// characteristic does not support notify.
func (c *BLECharacteristic) Subscribe(handler func(data []byte)) error {
	client, err := c.client()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifying.Load() {
		return nil
	}

	props := c.properties
	var ind bool
	switch {
	case props.Notify() != nil:
	case props.Indicate() != nil:
		ind = true
	default:
		return fmt.Errorf("characteristic %s does not support notifications: %w", c.uuid, device.ErrUnsupported)
	}

	err = client.Subscribe(c.BLEChar, ind, func(req []byte) {
		buf := make([]byte, len(req))
		copy(buf, req)
		handler(buf)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.uuid, NormalizeError(err))
	}
	c.indication = ind
	c.notifying.Store(true)
	return nil
}

func (c *BLECharacteristic) Unsubscribe() error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return c.unsubscribe(client)
}

func (c *BLECharacteristic) unsubscribe(client GATTClient) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.notifying.Load() {
		return nil
	}
	if err := client.Unsubscribe(c.BLEChar, c.indication); err != nil {
		return NormalizeError(err)
	}
	c.notifying.Store(false)
	return nil
}

func (c *BLECharacteristic) client() (GATTClient, error) {
	if c.connection == nil {
		return nil, fmt.Errorf("no connection available for characteristic %s: %w", c.uuid, device.ErrNotInitialized)
	}
	if c.BLEChar == nil {
		return nil, fmt.Errorf("characteristic %s not initialized: %w", c.uuid, device.ErrNotInitialized)
	}
	return c.connection.activeClient()
}

// withTimeout runs op on its own goroutine so an unresponsive peripheral cannot block the caller.
func withTimeout(timeout time.Duration, op func() ([]byte, error)) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	type result struct {
		data []byte
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		data, err := op()
		resultCh <- result{data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, NormalizeError(r.err)
		}
		return r.data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", device.ErrTimeout, timeout)
	}
}
