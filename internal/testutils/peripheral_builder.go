package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/cgmlink/internal/device"
	"github.com/srg/cgmlink/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string        `json:"uuid"`
	Properties string        `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte        `json:"value,omitempty"`
	ReadErr    error         `json:"-"`
	WriteErr   error         `json:"-"`
	ReadDelay  time.Duration `json:"-"`
	WriteDelay time.Duration `json:"-"`
}

// CharacteristicOption tweaks a single characteristic's mocked behavior
type CharacteristicOption func(*CharacteristicConfig)

func WithReadError(err error) CharacteristicOption {
	return func(c *CharacteristicConfig) { c.ReadErr = err }
}

func WithWriteError(err error) CharacteristicOption {
	return func(c *CharacteristicConfig) { c.WriteErr = err }
}

func WithReadDelay(d time.Duration) CharacteristicOption {
	return func(c *CharacteristicConfig) { c.ReadDelay = d }
}

func WithWriteDelay(d time.Duration) CharacteristicOption {
	return func(c *CharacteristicConfig) { c.WriteDelay = d }
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds a mocked GATT client with a full service/characteristic profile
type PeripheralBuilder struct {
	profile DeviceProfileConfig
	chars   map[string]*blelib.Characteristic
}

// NewPeripheralBuilder creates a new peripheral builder
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		profile: DeviceProfileConfig{Services: []ServiceConfig{}},
		chars:   make(map[string]*blelib.Characteristic),
	}
}

// WithService adds a service to the device profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte, opts ...CharacteristicOption) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	char := CharacteristicConfig{UUID: uuid, Properties: properties, Value: value}
	for _, opt := range opts {
		opt(&char)
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, char)
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// Characteristic returns the ble.Characteristic built for uuid, or nil before Build.
func (b *PeripheralBuilder) Characteristic(uuid string) *blelib.Characteristic {
	return b.chars[device.NormalizeUUID(uuid)]
}

// parseCharacteristicProperties converts a comma separated property list to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if strings.TrimSpace(props) == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	return property
}

// Build creates the mocked client. Every expectation is optional so tests only assert what they call.
func (b *PeripheralBuilder) Build() *mocks.MockGATTClient {
	client := mocks.NewMockGATTClient()
	b.chars = make(map[string]*blelib.Characteristic)

	var services []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}

		for _, cc := range svcConfig.Characteristics {
			char := &blelib.Characteristic{
				UUID:     blelib.MustParse(cc.UUID),
				Property: parseCharacteristicProperties(cc.Properties),
				Value:    cc.Value,
			}
			svc.Characteristics = append(svc.Characteristics, char)
			b.chars[device.NormalizeUUID(cc.UUID)] = char

			if cc.ReadErr != nil {
				client.On("ReadCharacteristic", char).Return(nil, cc.ReadErr).After(cc.ReadDelay).Maybe()
			} else {
				client.On("ReadCharacteristic", char).Return(cc.Value, nil).After(cc.ReadDelay).Maybe()
			}
			client.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(cc.WriteErr).After(cc.WriteDelay).Maybe()
			client.On("Subscribe", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Unsubscribe", char, mock.Anything).Return(nil).Maybe()
		}
		services = append(services, svc)
	}

	client.On("DiscoverProfile", true).Return(&blelib.Profile{Services: services}, nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()
	return client
}
