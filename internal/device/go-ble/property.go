package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/cgmlink/internal/device"
)

// BLEProperty represents a single BLE characteristic property with its bit flag value and human-readable name.
type BLEProperty struct {
	value ble.Property
	name  string
}

// Value returns the bit flag value of the property.
func (p *BLEProperty) Value() int {
	return int(p.value)
}

// KnownName returns the human-readable name of the property.
func (p *BLEProperty) KnownName() string {
	return p.name
}

// BLEProperties represents the property set of one characteristic.
// Accessors return nil for properties the characteristic does not have.
type BLEProperties struct {
	read                 *BLEProperty
	writeWithoutResponse *BLEProperty
	write                *BLEProperty
	notify               *BLEProperty
	indicate             *BLEProperty
}

// NewProperties creates a Properties instance from ble.Property bit flags.
func NewProperties(p ble.Property) device.Properties {
	props := &BLEProperties{}

	if p&ble.CharRead != 0 {
		props.read = &BLEProperty{value: ble.CharRead, name: "Read"}
	}
	if p&ble.CharWriteNR != 0 {
		props.writeWithoutResponse = &BLEProperty{value: ble.CharWriteNR, name: "WriteWithoutResponse"}
	}
	if p&ble.CharWrite != 0 {
		props.write = &BLEProperty{value: ble.CharWrite, name: "Write"}
	}
	if p&ble.CharNotify != 0 {
		props.notify = &BLEProperty{value: ble.CharNotify, name: "Notify"}
	}
	if p&ble.CharIndicate != 0 {
		props.indicate = &BLEProperty{value: ble.CharIndicate, name: "Indicate"}
	}

	return props
}

func (p *BLEProperties) Read() device.Property {
	if p.read == nil {
		return nil
	}
	return p.read
}

func (p *BLEProperties) Write() device.Property {
	if p.write == nil {
		return nil
	}
	return p.write
}

func (p *BLEProperties) WriteWithoutResponse() device.Property {
	if p.writeWithoutResponse == nil {
		return nil
	}
	return p.writeWithoutResponse
}

func (p *BLEProperties) Notify() device.Property {
	if p.notify == nil {
		return nil
	}
	return p.notify
}

func (p *BLEProperties) Indicate() device.Property {
	if p.indicate == nil {
		return nil
	}
	return p.indicate
}
