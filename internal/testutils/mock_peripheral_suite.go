package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
	"github.com/srg/cgmlink/internal/testutils/mocks"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite provides a reusable test suite with a mocked BLE peripheral.
// It swaps goble.Dialer for the lifetime of each test so connections land on a MockGATTClient.
//
// Custom device profile usage:
//
//	func (s *PairSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("181f").
//	        WithCharacteristic("2aa7", "notify", nil)
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDialer func(ctx context.Context, address string) (goble.GATTClient, error)
	TestTimeout    time.Duration

	PeripheralBuilder *PeripheralBuilder
	Client            *mocks.MockGATTClient
	DialCount         int
}

// SetupSuite initializes the test suite. Called once before all tests in the suite.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	s.OriginalDialer = goble.Dialer
}

// SetupTest builds the mocked client and installs the dialer. Called before each test method.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder().
			WithService("180f").
			WithCharacteristic("2a19", "read,notify", []byte{50})
	}

	s.Client = s.PeripheralBuilder.Build()
	s.DialCount = 0
	goble.Dialer = func(ctx context.Context, address string) (goble.GATTClient, error) {
		s.DialCount++
		return s.Client, nil
	}
}

// TearDownTest restores the dialer and resets the builder. Called after each test method.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.OriginalDialer != nil {
		goble.Dialer = s.OriginalDialer
	}
	s.PeripheralBuilder = nil
	s.Client = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	return s.PeripheralBuilder
}
