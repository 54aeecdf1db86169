package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement is a testify mock of device.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]byte)
	}
	return nil
}

func (m *MockAdvertisement) Services() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() string {
	return m.Called().String(0)
}

// NewMockAdvertisement returns a MockAdvertisement answering every getter.
func NewMockAdvertisement(addr, name string, rssi int, manufacturerData []byte, services ...string) *MockAdvertisement {
	m := &MockAdvertisement{}
	m.On("Addr").Return(addr).Maybe()
	m.On("LocalName").Return(name).Maybe()
	m.On("RSSI").Return(rssi).Maybe()
	m.On("ManufacturerData").Return(manufacturerData).Maybe()
	m.On("Services").Return(services).Maybe()
	m.On("Connectable").Return(true).Maybe()
	return m
}
