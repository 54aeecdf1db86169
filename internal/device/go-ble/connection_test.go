package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/cgmlink/internal/device"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
	"github.com/srg/cgmlink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	testAddress   = "AA:BB:CC:DD:EE:FF"
	cgmService    = "0000181f-0000-1000-8000-00805f9b34fb"
	authDevice    = "86805092-92b5-4d8c-9d73-0785ff6f9147"
	glucose       = "2aa7"
	currentTime   = "2a2b"
	requestWindow = "ccecb015-6750-41fd-ba78-3fb77d350574"
	slowRead      = "2a19"
)

type ConnectionTestSuite struct {
	testutils.MockBLEPeripheralSuite

	dev *goble.BLEDevice
}

func (s *ConnectionTestSuite) SetupTest() {
	s.WithPeripheral().
		WithService(cgmService).
		WithCharacteristic(authDevice, "read", []byte{0x01, 0x02, 0x03}).
		WithCharacteristic(glucose, "notify", nil).
		WithCharacteristic(currentTime, "read", nil, testutils.WithReadError(errors.New("att: read not permitted"))).
		WithCharacteristic(requestWindow, "write", nil).
		WithService("180f").
		WithCharacteristic(slowRead, "read", []byte{50}, testutils.WithReadDelay(200*time.Millisecond))

	s.MockBLEPeripheralSuite.SetupTest()

	s.dev = goble.NewBLEDevice(testAddress, s.Logger)
	s.Require().NoError(s.dev.Connect(context.Background(), &device.ConnectOptions{ConnectTimeout: s.TestTimeout}))
}

func (s *ConnectionTestSuite) TearDownTest() {
	if s.dev != nil {
		s.NoError(s.dev.Disconnect())
	}
	s.dev = nil
	s.MockBLEPeripheralSuite.TearDownTest()
}

func (s *ConnectionTestSuite) characteristic(service, uuid string) device.Characteristic {
	char, err := s.dev.GetConnection().GetCharacteristic(service, uuid)
	s.Require().NoError(err)
	return char
}

func (s *ConnectionTestSuite) TestConnectDiscoversProfile() {
	conn := s.dev.GetConnection()
	s.True(s.dev.IsConnected())
	s.Equal(1, s.DialCount)

	services := conn.Services()
	s.Require().Len(services, 2)
	s.Equal("180f", services[0].UUID())
	s.Equal("181f", services[1].UUID())
	s.Len(services[1].GetCharacteristics(), 4)

	svc, err := conn.GetService("181F")
	s.Require().NoError(err)
	s.Equal("181f", svc.UUID())

	char := s.characteristic("181f", "86805092-92B5-4D8C-9D73-0785FF6F9147")
	s.Equal("8680509292b54d8c9d730785ff6f9147", char.UUID())
	s.NotNil(char.GetProperties().Read())
	s.Nil(char.GetProperties().Notify())
}

func (s *ConnectionTestSuite) TestConnectTwice() {
	err := s.dev.Connect(context.Background(), nil)
	s.ErrorIs(err, device.ErrAlreadyConnected)
}

func (s *ConnectionTestSuite) TestLookupMisses() {
	conn := s.dev.GetConnection()

	_, err := conn.GetService("1800")
	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("service", nf.Resource)

	_, err = conn.GetCharacteristic(cgmService, "2a00")
	s.Require().ErrorAs(err, &nf)
	s.Equal("characteristic", nf.Resource)
}

func (s *ConnectionTestSuite) TestRead() {
	s.Run("returns value", func() {
		data, err := s.characteristic(cgmService, authDevice).Read(time.Second)
		s.NoError(err)
		s.Equal([]byte{0x01, 0x02, 0x03}, data)
	})

	s.Run("wraps transport error", func() {
		_, err := s.characteristic(cgmService, currentTime).Read(time.Second)
		s.ErrorContains(err, "read not permitted")
		s.ErrorContains(err, "2a2b")
	})

	s.Run("times out", func() {
		_, err := s.characteristic("180f", slowRead).Read(20 * time.Millisecond)
		s.ErrorIs(err, device.ErrTimeout)
	})
}

func (s *ConnectionTestSuite) TestWrite() {
	char := s.characteristic(cgmService, requestWindow)
	s.Require().NoError(char.Write([]byte{0x3d, 0xb4}, true, time.Second))
	s.Require().NoError(char.Write([]byte{0x01}, false, time.Second))

	bleChar := s.PeripheralBuilder.Characteristic(requestWindow)
	s.Client.AssertCalled(s.T(), "WriteCharacteristic", bleChar, []byte{0x3d, 0xb4}, false)
	s.Client.AssertCalled(s.T(), "WriteCharacteristic", bleChar, []byte{0x01}, true)
}

func (s *ConnectionTestSuite) TestSubscribe() {
	char := s.characteristic(cgmService, glucose)
	received := make(chan []byte, 4)

	s.Require().NoError(char.Subscribe(func(data []byte) { received <- data }))
	s.True(char.IsNotifying())

	payload := []byte{0xaa, 0xbb}
	s.True(s.Client.Notify(s.PeripheralBuilder.Characteristic(glucose), payload))
	payload[0] = 0x00

	select {
	case got := <-received:
		s.Equal([]byte{0xaa, 0xbb}, got, "handler MUST receive a copy")
	case <-time.After(time.Second):
		s.Fail("notification not delivered")
	}

	s.Require().NoError(char.Unsubscribe())
	s.False(char.IsNotifying())
	s.False(s.Client.Notify(s.PeripheralBuilder.Characteristic(glucose), payload))
}

func (s *ConnectionTestSuite) TestSubscribeUnsupported() {
	err := s.characteristic(cgmService, requestWindow).Subscribe(func([]byte) {})
	s.ErrorIs(err, device.ErrUnsupported)
}

func (s *ConnectionTestSuite) TestDisconnect() {
	conn := s.dev.GetConnection()
	char := s.characteristic(cgmService, authDevice)

	s.Require().NoError(s.dev.Disconnect())
	s.False(s.dev.IsConnected())

	select {
	case <-conn.Disconnected():
	case <-time.After(time.Second):
		s.Fail("Disconnected channel not closed")
	}

	_, err := char.Read(time.Second)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Client.AssertCalled(s.T(), "CancelConnection")

	// second disconnect is a no-op
	s.NoError(s.dev.Disconnect())
}

func (s *ConnectionTestSuite) TestLinkLoss() {
	conn := s.dev.GetConnection()
	s.Client.DropLink()

	select {
	case <-conn.Disconnected():
	case <-time.After(time.Second):
		s.Fail("link loss not reported")
	}
	s.Eventually(func() bool { return !s.dev.IsConnected() }, time.Second, 5*time.Millisecond)
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "bluetooth off", in: errors.New("can't init hci: is Bluetooth turned on?"), want: device.ErrBluetoothOff},
		{name: "not connected", in: errors.New("device not connected"), want: device.ErrNotConnected},
		{name: "disconnected", in: errors.New("peripheral Disconnected"), want: device.ErrNotConnected},
		{name: "already connected", in: errors.New("device already connected"), want: device.ErrAlreadyConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := goble.NormalizeError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorContains(t, got, tt.in.Error())
		})
	}

	assert.NoError(t, goble.NormalizeError(nil))
	other := errors.New("att: invalid handle")
	assert.Same(t, other, goble.NormalizeError(other))
}
