// Package device provides the Bluetooth Low Energy (BLE) abstractions the sensor
// client is written against.
//
// It defines:
//   - Device and Connection interfaces for the connection lifecycle and discovered profile
//   - Characteristic read/write/notify operations with per-call timeouts
//   - Structured errors (NotFoundError, ConnectionError) shared by all backends
//   - UUID normalization so lookups match regardless of the format a backend reports
//
// The go-ble backed implementation lives in the go-ble subpackage.
package device
